package mcp

// SchemaToWire translates a JSON-schema object authored with snake_case
// property names into its wire form: keys under "properties" and entries of
// "required" become camelCase, recursively through nested object and array
// schemas. Structural keywords ("type", "properties", ...) are untouched.
func SchemaToWire(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "properties":
			props, ok := v.(map[string]any)
			if !ok {
				out[k] = v
				continue
			}
			converted := make(map[string]any, len(props))
			for name, spec := range props {
				if nested, ok := spec.(map[string]any); ok {
					converted[SnakeToCamel(name)] = SchemaToWire(nested)
				} else {
					converted[SnakeToCamel(name)] = spec
				}
			}
			out[k] = converted
		case "required":
			out[k] = requiredToWire(v)
		case "items":
			if nested, ok := v.(map[string]any); ok {
				out[k] = SchemaToWire(nested)
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}
	return out
}

func requiredToWire(v any) any {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		for i, name := range list {
			out[i] = SnakeToCamel(name)
		}
		return out
	case []any:
		out := make([]any, len(list))
		for i, item := range list {
			if name, ok := item.(string); ok {
				out[i] = SnakeToCamel(name)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return v
	}
}
