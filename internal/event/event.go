// Package event models the decoded SDK event payload. The schema is open:
// a small set of known fields gets a typed view, everything else rides in a
// passthrough bag so decoding never rejects a field it does not understand.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexTime accepts the timestamp formats SDKs actually send: epoch seconds
// as a number (optionally with fraction, optionally milliseconds) or an
// ISO 8601 string.
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}

	if s[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			t.Time = fromEpoch(f)
			return nil
		}
		// Unparseable timestamps are dropped, not fatal; enrichment
		// assigns ingestion time later.
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	t.Time = fromEpoch(f)
	return nil
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// fromEpoch treats values above 1e12 as milliseconds.
func fromEpoch(f float64) time.Time {
	if f > 1e12 {
		f = f / 1000
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// User is the SDK user context.
type User struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Request is the SDK HTTP request context.
type Request struct {
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryString string            `json:"query_string,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Data        json.RawMessage   `json:"data,omitempty"`
}

// UserAgent returns the user-agent header, case-insensitively.
func (r *Request) UserAgent() string {
	if r == nil {
		return ""
	}
	for key, value := range r.Headers {
		if strings.EqualFold(key, "User-Agent") {
			return value
		}
	}
	return ""
}

// Frame is one stack frame.
type Frame struct {
	Filename    string `json:"filename,omitempty"`
	Function    string `json:"function,omitempty"`
	Module      string `json:"module,omitempty"`
	Lineno      int    `json:"lineno,omitempty"`
	ContextLine string `json:"context_line,omitempty"`
}

// Stacktrace carries frames ordered oldest first, per the SDK protocol.
type Stacktrace struct {
	Frames []Frame `json:"frames,omitempty"`
}

// Exception is one exception value.
type Exception struct {
	Type       string          `json:"type,omitempty"`
	Value      string          `json:"value,omitempty"`
	Module     string          `json:"module,omitempty"`
	Stacktrace *Stacktrace     `json:"stacktrace,omitempty"`
	Mechanism  json.RawMessage `json:"mechanism,omitempty"`
}

// ExceptionList wraps the SDK "values" envelope around exceptions.
type ExceptionList struct {
	Values []Exception `json:"values,omitempty"`
}

// LogEntry is a parameterized log message.
type LogEntry struct {
	Message string `json:"message,omitempty"`
	Params  []any  `json:"params,omitempty"`
}

// RawEvent is a decoded event payload prior to enrichment. Fields the
// pipeline never touches stay in Attrs and survive re-serialization.
type RawEvent struct {
	EventID     string                    `json:"event_id,omitempty"`
	Timestamp   *FlexTime                 `json:"timestamp,omitempty"`
	Platform    string                    `json:"platform,omitempty"`
	Level       string                    `json:"level,omitempty"`
	Logger      string                    `json:"logger,omitempty"`
	Transaction string                    `json:"transaction,omitempty"`
	ServerName  string                    `json:"server_name,omitempty"`
	Release     string                    `json:"release,omitempty"`
	Dist        string                    `json:"dist,omitempty"`
	Environment string                    `json:"environment,omitempty"`
	Message     string                    `json:"message,omitempty"`
	LogEntry    *LogEntry                 `json:"logentry,omitempty"`
	Exception   *ExceptionList            `json:"exception,omitempty"`
	User        *User                     `json:"user,omitempty"`
	Request     *Request                  `json:"request,omitempty"`
	Contexts    map[string]map[string]any `json:"contexts,omitempty"`
	Tags        map[string]any            `json:"tags,omitempty"`
	Extra       map[string]any            `json:"extra,omitempty"`
	Fingerprint []string                  `json:"fingerprint,omitempty"`
	SDK         map[string]any            `json:"sdk,omitempty"`
	Modules     map[string]string         `json:"modules,omitempty"`

	// Attrs holds every field not covered by the typed view.
	Attrs map[string]json.RawMessage `json:"-"`
}

// rawEventAlias avoids UnmarshalJSON recursion.
type rawEventAlias RawEvent

var knownEventKeys = func() map[string]struct{} {
	keys := []string{
		"event_id", "timestamp", "platform", "level", "logger",
		"transaction", "server_name", "release", "dist", "environment",
		"message", "logentry", "exception", "user", "request",
		"contexts", "tags", "extra", "fingerprint", "sdk", "modules",
	}
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}()

func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var alias rawEventAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for key := range all {
		if _, known := knownEventKeys[key]; known {
			delete(all, key)
		}
	}
	if len(all) > 0 {
		alias.Attrs = all
	}

	*e = RawEvent(alias)
	return nil
}

func (e RawEvent) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(rawEventAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Attrs) == 0 {
		return typed, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(typed, &merged); err != nil {
		return nil, err
	}
	for key, value := range e.Attrs {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Parse decodes an event payload. Missing fields are fine; only invalid
// JSON is an error.
func Parse(payload []byte) (*RawEvent, error) {
	var e RawEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}
	return &e, nil
}
