package stub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// getPath walks a dotted path through nested objects and arrays
func getPath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, true
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// setPath assigns value at a dotted path, creating intermediate objects
func setPath(root map[string]interface{}, path string, value interface{}) error {
	if path == "" {
		return fmt.Errorf("empty target path")
	}
	segs := strings.Split(path, ".")
	cur := root
	for i, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			created := make(map[string]interface{})
			cur[seg] = created
			cur = created
			continue
		}
		obj, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("cannot set %q: %q is not an object", path, strings.Join(segs[:i+1], "."))
		}
		cur = obj
	}
	cur[segs[len(segs)-1]] = value
	return nil
}

// stringify coerces a JSON value to the string a predicate compares against
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// normalize converts any decoded value (YAML or JSON) into the JSON data
// model: map[string]interface{}, []interface{}, float64, string, bool, nil.
// The result shares nothing with the input.
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
