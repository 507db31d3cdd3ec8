// Package stub implements predicate matching and response rendering for
// imposter stubs. Stubs are compiled once from their configuration; regular
// expressions are built at compile time, never per evaluation.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Response kinds
const (
	KindIs     = "is"
	KindProxy  = "proxy"
	KindInject = "inject"
)

// NoMatchError is the error text of the default response
const NoMatchError = "No matching stub found"

// Response is one compiled response of a stub
type Response struct {
	kind       string
	template   interface{}
	proxyQueue string
	behaviors  []Behavior
}

// Kind returns is or proxy
func (r *Response) Kind() string {
	return r.kind
}

// ProxyQueue returns the forwarding target of a proxy response
func (r *Response) ProxyQueue() string {
	return r.proxyQueue
}

// Render produces the outbound payload: a fresh copy of the template run
// through every behavior in order.
func (r *Response) Render(ctx context.Context, req Request) (interface{}, error) {
	out, err := normalize(r.template)
	if err != nil {
		return nil, fmt.Errorf("failed to copy response template: %w", err)
	}
	return r.ApplyBehaviors(ctx, req, out)
}

// ApplyBehaviors runs the behaviors over a caller supplied base payload
func (r *Response) ApplyBehaviors(ctx context.Context, req Request, out interface{}) (interface{}, error) {
	var err error
	for i, b := range r.behaviors {
		out, err = b.Apply(ctx, req, out)
		if err != nil {
			return nil, fmt.Errorf("behavior %d: %w", i, err)
		}
	}
	return out, nil
}

// Stub is a compiled predicate set with its responses
type Stub struct {
	predicates []*Predicate
	responses  []*Response

	mu   sync.Mutex
	next int
}

// Matches reports whether every predicate passes. A stub without
// predicates matches everything.
func (s *Stub) Matches(req Request) bool {
	for _, p := range s.predicates {
		if !p.Matches(req) {
			return false
		}
	}
	return true
}

// Responses returns the compiled responses in configured order
func (s *Stub) Responses() []*Response {
	return s.responses
}

// NextResponse rotates through the stub's responses
func (s *Stub) NextResponse() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.responses[s.next]
	s.next = (s.next + 1) % len(s.responses)
	return r
}

// Match returns the first stub whose predicates all pass
func Match(stubs []*Stub, req Request) (*Stub, int, bool) {
	for i, s := range stubs {
		if s.Matches(req) {
			return s, i, true
		}
	}
	return nil, -1, false
}

// NoMatchResponse is the payload sent when no stub matches
func NoMatchResponse(messageID string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":            "ERROR",
		"error":             NoMatchError,
		"originalMessageId": messageID,
		"timestamp":         now.UTC().Format(time.RFC3339Nano),
	}
}

// ErrorResponse is the payload sent when processing a message failed
func ErrorResponse(messageID string, err error, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":            "ERROR",
		"error":             err.Error(),
		"originalMessageId": messageID,
		"timestamp":         now.UTC().Format(time.RFC3339Nano),
	}
}

// Compile validates and compiles a decoded "stubs" array. Problems are
// reported with their location; stubs are returned only when there are none.
func Compile(raw interface{}) ([]*Stub, []string) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, []string{"stubs: must be an array"}
	}

	var (
		stubs    []*Stub
		problems []string
	)
	for i, item := range list {
		s, errs := compileStub(item, fmt.Sprintf("stubs[%d]", i))
		problems = append(problems, errs...)
		if s != nil {
			stubs = append(stubs, s)
		}
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return stubs, nil
}

func compileStub(raw interface{}, where string) (*Stub, []string) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, []string{fmt.Sprintf("%s: stub must be an object", where)}
	}

	s := &Stub{}
	var problems []string

	if rawPreds, present := obj["predicates"]; present && rawPreds != nil {
		preds, ok := rawPreds.([]interface{})
		if !ok {
			problems = append(problems, fmt.Sprintf("%s.predicates: must be an array", where))
		}
		for j, rp := range preds {
			p, errs := compilePredicate(rp, fmt.Sprintf("%s.predicates[%d]", where, j))
			problems = append(problems, errs...)
			if p != nil {
				s.predicates = append(s.predicates, p)
			}
		}
	}

	rawResps, ok := obj["responses"].([]interface{})
	if !ok || len(rawResps) == 0 {
		problems = append(problems, fmt.Sprintf("%s.responses: must be a non-empty array", where))
	}
	for j, rr := range rawResps {
		r, errs := compileResponse(rr, fmt.Sprintf("%s.responses[%d]", where, j))
		problems = append(problems, errs...)
		if r != nil {
			s.responses = append(s.responses, r)
		}
	}

	for key := range obj {
		if key != "predicates" && key != "responses" {
			problems = append(problems, fmt.Sprintf("%s: unknown field %q", where, key))
		}
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return s, nil
}

func compileResponse(raw interface{}, where string) (*Response, []string) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, []string{fmt.Sprintf("%s: response must be an object", where)}
	}

	var kinds []string
	for _, k := range []string{KindIs, KindProxy, KindInject} {
		if _, present := obj[k]; present {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) != 1 {
		return nil, []string{fmt.Sprintf("%s: must have exactly one of is, proxy or inject", where)}
	}

	r := &Response{kind: kinds[0]}
	var problems []string

	switch r.kind {
	case KindIs:
		tmpl, err := normalize(obj[KindIs])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s.is: %v", where, err))
		}
		r.template = tmpl
	case KindProxy:
		proxy, _ := obj[KindProxy].(map[string]interface{})
		target, _ := proxy["queue"].(string)
		if target == "" {
			problems = append(problems, fmt.Sprintf("%s.proxy.queue: target queue is required", where))
		}
		r.proxyQueue = target
	case KindInject:
		problems = append(problems, fmt.Sprintf("%s.inject: inject responses are not supported", where))
	}

	behaviors, errs := compileBehaviors(obj["behaviors"], where+".behaviors")
	problems = append(problems, errs...)
	r.behaviors = behaviors

	for key := range obj {
		if key != KindIs && key != KindProxy && key != KindInject && key != "behaviors" {
			problems = append(problems, fmt.Sprintf("%s: unknown field %q", where, key))
		}
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return r, nil
}
