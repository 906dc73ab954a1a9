package provider

// Flatten copies m into RawFields, lifting nested objects to dotted keys
// ("fifty_two_week.low"). Top-level keys keep their original spelling.
func Flatten(m map[string]any) RawFields {
	out := make(RawFields, len(m))
	flattenInto(out, "", m)
	return out
}

func flattenInto(out RawFields, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}
