package request

import "reflect"

// cleanSchema deep-copies a JSON schema, dropping the "format" keyword from
// string-typed schemas that declare format "uri". OpenAI-compatible providers
// reject the uri format while Anthropic tools use it freely. The input is
// never mutated and the result is stable under repeated application.
func cleanSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out, _ := cleanValue(schema, make(map[uintptr]bool)).(map[string]interface{})
	return out
}

// cleanValue walks arbitrary decoded JSON. Schemas decoded from the wire
// cannot be cyclic, but callers can hand in schemas built in memory, so
// already-visited containers are returned as-is instead of being descended
// again.
func cleanValue(v interface{}, visited map[uintptr]bool) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		ptr := reflect.ValueOf(t).Pointer()
		if visited[ptr] {
			return t
		}
		visited[ptr] = true
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cleanValue(val, visited)
		}
		if typ, _ := out["type"].(string); typ == "string" {
			if format, _ := out["format"].(string); format == "uri" {
				delete(out, "format")
			}
		}
		return out
	case []interface{}:
		ptr := reflect.ValueOf(t).Pointer()
		if visited[ptr] {
			return t
		}
		visited[ptr] = true
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cleanValue(val, visited)
		}
		return out
	default:
		return v
	}
}
