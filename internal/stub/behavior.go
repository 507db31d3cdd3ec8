package stub

import (
	"context"
	"fmt"
	"time"
)

// Behavior types
const (
	BehaviorWait   = "wait"
	BehaviorCopy   = "copy"
	BehaviorLookup = "lookup"
)

// Behavior post-processes a rendered response. It receives the output of
// the previous behavior and returns the input of the next one.
type Behavior interface {
	Apply(ctx context.Context, req Request, response interface{}) (interface{}, error)
}

type waitBehavior struct {
	delay time.Duration
}

// Apply blocks the calling goroutine only
func (b waitBehavior) Apply(ctx context.Context, _ Request, response interface{}) (interface{}, error) {
	if b.delay <= 0 {
		return response, nil
	}
	timer := time.NewTimer(b.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type copyRule struct {
	from string
	into string
}

type copyBehavior struct {
	rules []copyRule
}

// Apply copies request fields into the response. Missing source fields are
// skipped.
func (b copyBehavior) Apply(_ context.Context, req Request, response interface{}) (interface{}, error) {
	if response == nil {
		response = make(map[string]interface{})
	}
	obj, ok := response.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("copy behavior needs an object response, got %T", response)
	}
	for _, rule := range b.rules {
		value, found := req.Get(rule.from)
		if !found {
			continue
		}
		copied, err := normalize(value)
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", rule.from, err)
		}
		if err := setPath(obj, rule.into, copied); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// compileBehaviors parses [{"wait": 100}, {"copy": {...}}, ...]
func compileBehaviors(raw interface{}, where string) ([]Behavior, []string) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, []string{fmt.Sprintf("%s: behaviors must be an array", where)}
	}

	var (
		behaviors []Behavior
		problems  []string
	)
	for i, item := range list {
		at := fmt.Sprintf("%s[%d]", where, i)
		obj, ok := item.(map[string]interface{})
		if !ok || len(obj) != 1 {
			problems = append(problems, fmt.Sprintf("%s: behavior must be an object with exactly one type", at))
			continue
		}
		for kind, value := range obj {
			b, errs := compileBehavior(kind, value, at)
			if len(errs) > 0 {
				problems = append(problems, errs...)
				continue
			}
			behaviors = append(behaviors, b)
		}
	}
	return behaviors, problems
}

func compileBehavior(kind string, value interface{}, at string) (Behavior, []string) {
	switch kind {
	case BehaviorWait:
		ms, ok := toMillis(value)
		if !ok || ms < 0 {
			return nil, []string{fmt.Sprintf("%s.wait: must be a non-negative number of milliseconds", at)}
		}
		return waitBehavior{delay: time.Duration(ms) * time.Millisecond}, nil

	case BehaviorCopy:
		var items []interface{}
		switch v := value.(type) {
		case []interface{}:
			items = v
		case map[string]interface{}:
			items = []interface{}{v}
		default:
			return nil, []string{fmt.Sprintf("%s.copy: must be an object or an array of objects", at)}
		}
		var (
			rules    []copyRule
			problems []string
		)
		for j, item := range items {
			obj, _ := item.(map[string]interface{})
			from, _ := obj["from"].(string)
			into, _ := obj["into"].(string)
			if from == "" || into == "" {
				problems = append(problems, fmt.Sprintf("%s.copy[%d]: from and into are required strings", at, j))
				continue
			}
			rules = append(rules, copyRule{from: from, into: into})
		}
		if len(problems) > 0 {
			return nil, problems
		}
		return copyBehavior{rules: rules}, nil

	case BehaviorLookup:
		return nil, []string{fmt.Sprintf("%s.lookup: lookup behavior is not supported", at)}
	}

	return nil, []string{fmt.Sprintf("%s: unknown behavior %q", at, kind)}
}

func toMillis(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
