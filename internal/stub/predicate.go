package stub

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// Predicate operators
const (
	OpEquals   = "equals"
	OpContains = "contains"
	OpMatches  = "matches"
	OpExists   = "exists"
)

var knownOperators = map[string]bool{
	OpEquals:   true,
	OpContains: true,
	OpMatches:  true,
	OpExists:   true,
}

// fieldCheck is one (path, expectation) pair of a predicate
type fieldCheck struct {
	path     string
	expected interface{}
	pattern  *regexp.Regexp
	want     bool
}

// Predicate is a compiled operator over one or more request fields.
// Every field must pass.
type Predicate struct {
	op     string
	fields []fieldCheck
}

// Operator returns the predicate operator
func (p *Predicate) Operator() string {
	return p.op
}

// Matches evaluates the predicate against a request
func (p *Predicate) Matches(req Request) bool {
	for _, f := range p.fields {
		actual, found := req.Get(f.path)
		if !p.check(f, actual, found) {
			return false
		}
	}
	return true
}

func (p *Predicate) check(f fieldCheck, actual interface{}, found bool) bool {
	switch p.op {
	case OpEquals:
		return found && reflect.DeepEqual(actual, f.expected)
	case OpContains:
		return found && actual != nil && strings.Contains(stringify(actual), stringify(f.expected))
	case OpMatches:
		return found && actual != nil && f.pattern.MatchString(stringify(actual))
	case OpExists:
		return (found && actual != nil) == f.want
	}
	return false
}

// compilePredicate turns {"<operator>": {field: expected, ...}} into a
// Predicate. Nested objects flatten into dotted paths.
func compilePredicate(raw interface{}, where string) (*Predicate, []string) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, []string{fmt.Sprintf("%s: predicate must be an object", where)}
	}
	if len(obj) != 1 {
		return nil, []string{fmt.Sprintf("%s: predicate must have exactly one operator, got %d", where, len(obj))}
	}

	var (
		op   string
		body interface{}
	)
	for k, v := range obj {
		op, body = k, v
	}
	if !knownOperators[op] {
		return nil, []string{fmt.Sprintf("%s: unknown predicate operator %q", where, op)}
	}

	fieldsObj, ok := body.(map[string]interface{})
	if !ok || len(fieldsObj) == 0 {
		return nil, []string{fmt.Sprintf("%s.%s: must be a non-empty object of fields", where, op)}
	}

	normalized, err := normalize(fieldsObj)
	if err != nil {
		return nil, []string{fmt.Sprintf("%s.%s: %v", where, op, err)}
	}

	flat := make(map[string]interface{})
	flatten("", normalized.(map[string]interface{}), flat)

	paths := make([]string, 0, len(flat))
	for path := range flat {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	p := &Predicate{op: op}
	var problems []string
	for _, path := range paths {
		check := fieldCheck{path: path, expected: flat[path]}
		switch op {
		case OpMatches:
			pattern, ok := check.expected.(string)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s.%s.%s: pattern must be a string", where, op, path))
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s.%s.%s: invalid pattern: %v", where, op, path, err))
				continue
			}
			check.pattern = re
		case OpExists:
			want, ok := check.expected.(bool)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s.%s.%s: expected a boolean", where, op, path))
				continue
			}
			check.want = want
		}
		p.fields = append(p.fields, check)
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return p, nil
}

// flatten expands nested objects into dotted keys. Arrays and scalars are leaves.
func flatten(prefix string, obj map[string]interface{}, out map[string]interface{}) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]interface{}); ok && len(child) > 0 {
			flatten(key, child, out)
			continue
		}
		out[key] = v
	}
}
