// Package transform maps decoded SDK events onto flat, indexable documents:
// message and exception extraction, stacktrace formatting, context field
// mapping, and fingerprint computation.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/yasinyaman/sentrel/internal/event"
)

const defaultFingerprint = "{{ default }}"

// Transformer converts raw events into sink documents. It is stateless and
// safe for concurrent use.
type Transformer struct {
	now func() time.Time
}

// New creates a transformer. now defaults to time.Now.
func New(now func() time.Time) *Transformer {
	if now == nil {
		now = time.Now
	}
	return &Transformer{now: now}
}

// Transform builds the document for one event. Missing fields get defaults
// here; decode never rejects them. User email stays plaintext at this point;
// the PII enrichment stage hashes and removes it.
func (t *Transformer) Transform(e *event.RawEvent, projectID int64) event.Document {
	now := t.now().UTC()

	doc := event.Document{
		"received_at": now.Format(time.RFC3339Nano),
		"event_id":    e.EventID,
		"project_id":  projectID,
		"level":       defaultString(e.Level, "error"),
		"environment": defaultString(e.Environment, "production"),
		"message":     ExtractMessage(e),
		"fingerprint": computeFingerprint(e),
	}

	if e.Timestamp != nil && !e.Timestamp.IsZero() {
		doc["@timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	putString(doc, "platform", e.Platform)
	putString(doc, "release", e.Release)
	putString(doc, "transaction", e.Transaction)
	putString(doc, "server_name", e.ServerName)
	putString(doc, "logger", e.Logger)

	if exc := firstException(e); exc != nil {
		putString(doc, "exception_type", exc.Type)
		putString(doc, "exception_value", exc.Value)
		putString(doc, "stacktrace", formatStacktrace(exc))
	}

	if user := transformUser(e.User); len(user) > 0 {
		doc["user"] = user
	}
	if req := transformRequest(e.Request); len(req) > 0 {
		doc["request"] = req
	}

	for _, ctxName := range []string{"browser", "os", "device", "runtime"} {
		if fields := extractContext(e.Contexts, ctxName); len(fields) > 0 {
			doc[ctxName] = fields
		}
	}

	if len(e.Tags) > 0 {
		doc["tags"] = e.Tags
	}
	if len(e.Extra) > 0 {
		doc["extra"] = e.Extra
	}
	if sdk := transformSDK(e.SDK); len(sdk) > 0 {
		doc["sdk"] = sdk
	}

	return doc
}

// ExtractMessage returns a readable message for the event.
// Priority: exception > message > logentry.
func ExtractMessage(e *event.RawEvent) string {
	if exc := firstException(e); exc != nil {
		excType := defaultString(exc.Type, "Error")
		if exc.Value != "" {
			return fmt.Sprintf("%s: %s", excType, exc.Value)
		}
		return excType
	}

	if e.Message != "" {
		return e.Message
	}

	if e.LogEntry != nil {
		msg := e.LogEntry.Message
		if len(e.LogEntry.Params) > 0 && strings.Contains(msg, "%s") {
			return interpolateParams(msg, e.LogEntry.Params)
		}
		return msg
	}

	return "No message"
}

// interpolateParams substitutes %s placeholders left to right; leftover
// placeholders or params are kept as-is rather than failing the message.
func interpolateParams(msg string, params []any) string {
	var b strings.Builder
	rest := msg
	for _, p := range params {
		idx := strings.Index(rest, "%s")
		if idx < 0 {
			break
		}
		b.WriteString(rest[:idx])
		fmt.Fprintf(&b, "%v", p)
		rest = rest[idx+2:]
	}
	b.WriteString(rest)
	return b.String()
}

func firstException(e *event.RawEvent) *event.Exception {
	if e.Exception == nil || len(e.Exception.Values) == 0 {
		return nil
	}
	return &e.Exception.Values[0]
}

// formatStacktrace renders frames most-recent-first with context lines.
func formatStacktrace(exc *event.Exception) string {
	if exc.Stacktrace == nil || len(exc.Stacktrace.Frames) == 0 {
		return ""
	}

	var lines []string
	frames := exc.Stacktrace.Frames
	for i := len(frames) - 1; i >= 0; i-- {
		frame := frames[i]
		filename := defaultString(frame.Filename, "?")
		function := defaultString(frame.Function, "?")
		lines = append(lines, fmt.Sprintf("  File %q, line %d, in %s", filename, frame.Lineno, function))
		if frame.ContextLine != "" {
			lines = append(lines, "    "+strings.TrimSpace(frame.ContextLine))
		}
	}
	return strings.Join(lines, "\n")
}

func transformUser(u *event.User) map[string]any {
	if u == nil {
		return nil
	}
	out := make(map[string]any)
	if u.ID != "" {
		out["id"] = u.ID
	}
	if u.Email != "" {
		out["email"] = u.Email
	}
	if u.Username != "" {
		out["username"] = u.Username
	}
	if u.IPAddress != "" {
		out["ip"] = u.IPAddress
	}
	return out
}

func transformRequest(r *event.Request) map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any)
	if r.URL != "" {
		out["url"] = r.URL
	}
	if r.Method != "" {
		out["method"] = r.Method
	}
	return out
}

func extractContext(contexts map[string]map[string]any, name string) map[string]any {
	ctx := contexts[name]
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any)
	for _, field := range []string{"name", "version", "family", "model", "brand", "type"} {
		if v, ok := ctx[field].(string); ok && v != "" {
			out[field] = v
		}
	}
	return out
}

func transformSDK(sdk map[string]any) map[string]any {
	if len(sdk) == 0 {
		return nil
	}
	out := make(map[string]any)
	if name, ok := sdk["name"].(string); ok && name != "" {
		out["name"] = name
	}
	if version, ok := sdk["version"].(string); ok && version != "" {
		out["version"] = version
	}
	return out
}

// computeFingerprint keeps a user-supplied fingerprint, otherwise derives
// one from exception type, transaction (or logger) and platform.
func computeFingerprint(e *event.RawEvent) []string {
	if len(e.Fingerprint) > 0 {
		return e.Fingerprint
	}

	var components []string
	if exc := firstException(e); exc != nil && exc.Type != "" {
		components = append(components, exc.Type)
	}
	if e.Transaction != "" {
		components = append(components, e.Transaction)
	} else if e.Logger != "" {
		components = append(components, e.Logger)
	}
	if e.Platform != "" {
		components = append(components, e.Platform)
	}

	if len(components) == 0 {
		return []string{defaultFingerprint}
	}
	return components
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func putString(doc event.Document, key, value string) {
	if value != "" {
		doc[key] = value
	}
}
