package logging

import "log/slog"

// attrsToMap flattens slog attributes, expanding groups into nested maps.
// Attributes with empty keys are dropped.
func attrsToMap(attrs []slog.Attr) map[string]any {
	var values map[string]any
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		if values == nil {
			values = make(map[string]any, len(attrs))
		}
		values[attr.Key] = attrValue(attr.Value)
	}
	return values
}

func attrValue(value slog.Value) any {
	value = value.Resolve()
	if value.Kind() != slog.KindGroup {
		return value.Any()
	}
	group := attrsToMap(value.Group())
	if group == nil {
		group = map[string]any{}
	}
	return group
}
