package events

import "strings"

// MaxWalkDepth bounds traversal of untyped JSON trees. Values nested
// deeper than this are cut off without error.
const MaxWalkDepth = 10

type walkFrame struct {
	value any
	depth int
}

// CollectStrings walks an untyped JSON value iteratively and returns
// every string leaf, in traversal order, down to maxDepth levels.
func CollectStrings(root any, maxDepth int) []string {
	if maxDepth <= 0 {
		return nil
	}

	var out []string
	stack := []walkFrame{{value: root, depth: 0}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch v := frame.value.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if frame.depth+1 > maxDepth {
				continue
			}
			// Reverse push so traversal order stays stable enough for
			// context extraction; map order itself is not guaranteed.
			children := make([]walkFrame, 0, len(v))
			for _, val := range v {
				children = append(children, walkFrame{value: val, depth: frame.depth + 1})
			}
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		case []any:
			if frame.depth+1 > maxDepth {
				continue
			}
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, walkFrame{value: v[i], depth: frame.depth + 1})
			}
		}
	}
	return out
}

// FlattenText joins all string leaves of an untyped JSON value with
// single spaces, bounded by maxDepth.
func FlattenText(root any, maxDepth int) string {
	return strings.Join(CollectStrings(root, maxDepth), " ")
}

// CollectFieldStrings walks an untyped JSON value and returns the
// string values stored under any of the given key names, at any
// nesting level up to MaxWalkDepth. List values contribute each of
// their string elements.
func CollectFieldStrings(root any, keys []string) []string {
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[strings.ToLower(k)] = true
	}

	var out []string
	stack := []walkFrame{{value: root, depth: 0}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if frame.depth > MaxWalkDepth {
			continue
		}

		switch v := frame.value.(type) {
		case map[string]any:
			for key, val := range v {
				if keySet[strings.ToLower(key)] {
					switch fv := val.(type) {
					case string:
						out = append(out, fv)
					case []any:
						for _, item := range fv {
							if s, ok := item.(string); ok {
								out = append(out, s)
							}
						}
					}
				}
				stack = append(stack, walkFrame{value: val, depth: frame.depth + 1})
			}
		case []any:
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, walkFrame{value: v[i], depth: frame.depth + 1})
			}
		}
	}
	return out
}
