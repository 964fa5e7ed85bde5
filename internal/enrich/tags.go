package enrich

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/yasinyaman/sentrel/internal/event"
)

// defaultTagKeyMaxLen bounds normalized tag key length.
const defaultTagKeyMaxLen = 32

// TagStage flattens nested tag structures into a flat namespace with
// lower-cased, length-bounded keys. Collisions are last-write-wins; keys
// are visited in sorted order at every level so the outcome is
// deterministic for a given input.
type TagStage struct {
	KeyMaxLen int
}

func (s *TagStage) Name() string { return "tags" }

func (s *TagStage) Apply(doc event.Document, md Metadata) (event.Document, error) {
	raw := doc.SubMap("tags")
	if raw == nil {
		return doc, nil
	}

	maxLen := s.KeyMaxLen
	if maxLen <= 0 {
		maxLen = defaultTagKeyMaxLen
	}

	flat := make(map[string]any, len(raw))
	flatten("", raw, flat, maxLen)
	doc["tags"] = flat

	return doc, nil
}

func flatten(prefix string, in map[string]any, out map[string]any, maxLen int) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name := normalizeKey(prefix, key, maxLen)
		switch v := in[key].(type) {
		case map[string]any:
			flatten(name, v, out, maxLen)
		case nil:
			// Drop null tags.
		case string:
			out[name] = v
		default:
			out[name] = fmt.Sprintf("%v", v)
		}
	}
}

func normalizeKey(prefix, key string, maxLen int) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if len(k) > maxLen {
		// Truncate on a rune boundary so the key stays valid UTF-8.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(k[cut]) {
			cut--
		}
		k = k[:cut]
	}
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}
