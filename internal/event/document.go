package event

// Document is the indexable representation of an event: the transformed
// fields plus whatever enrichment stages add. Enrichment is additive-only
// outside the reserved namespaces (geo, browser, os, device,
// user.email_hash).
type Document map[string]any

// StringField returns a top-level string field, or "" if absent.
func (d Document) StringField(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// SubMap returns a nested object field, or nil if absent or not an object.
func (d Document) SubMap(key string) map[string]any {
	if v, ok := d[key].(map[string]any); ok {
		return v
	}
	return nil
}

// EnsureSubMap returns the nested object field, creating it when absent.
func (d Document) EnsureSubMap(key string) map[string]any {
	if v, ok := d[key].(map[string]any); ok {
		return v
	}
	m := make(map[string]any)
	d[key] = m
	return m
}

// Clone returns a shallow copy with top-level and one-level-deep maps
// copied, enough for enrichment stages to treat input maps as read-only.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for key, value := range d {
		if sub, ok := value.(map[string]any); ok {
			subCopy := make(map[string]any, len(sub))
			for k, v := range sub {
				subCopy[k] = v
			}
			out[key] = subCopy
			continue
		}
		out[key] = value
	}
	return out
}
