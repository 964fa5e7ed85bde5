package transform

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/yasinyaman/sentrel/internal/event"
)

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
}

func TestTransformDefaults(t *testing.T) {
	tr := New(fixedNow)

	doc := tr.Transform(&event.RawEvent{EventID: "e1"}, 7)

	if doc["event_id"] != "e1" {
		t.Errorf("event_id = %v", doc["event_id"])
	}
	if doc["project_id"] != int64(7) {
		t.Errorf("project_id = %v", doc["project_id"])
	}
	if doc["level"] != "error" {
		t.Errorf("level default = %v", doc["level"])
	}
	if doc["environment"] != "production" {
		t.Errorf("environment default = %v", doc["environment"])
	}
	if doc["message"] != "No message" {
		t.Errorf("message default = %v", doc["message"])
	}
	if doc["received_at"] != "2024-06-01T10:00:00Z" {
		t.Errorf("received_at = %v", doc["received_at"])
	}
	if _, present := doc["@timestamp"]; present {
		t.Errorf("@timestamp must be absent without an event timestamp")
	}
	if !reflect.DeepEqual(doc["fingerprint"], []string{"{{ default }}"}) {
		t.Errorf("fingerprint = %v", doc["fingerprint"])
	}
}

func TestExtractMessagePriority(t *testing.T) {
	tests := []struct {
		name string
		e    *event.RawEvent
		want string
	}{
		{
			"exception wins",
			&event.RawEvent{
				Message:   "plain",
				Exception: &event.ExceptionList{Values: []event.Exception{{Type: "ValueError", Value: "bad"}}},
			},
			"ValueError: bad",
		},
		{
			"exception without value",
			&event.RawEvent{Exception: &event.ExceptionList{Values: []event.Exception{{Type: "ValueError"}}}},
			"ValueError",
		},
		{
			"exception without type",
			&event.RawEvent{Exception: &event.ExceptionList{Values: []event.Exception{{Value: "bad"}}}},
			"Error: bad",
		},
		{
			"plain message",
			&event.RawEvent{Message: "something happened"},
			"something happened",
		},
		{
			"logentry interpolated",
			&event.RawEvent{LogEntry: &event.LogEntry{Message: "user %s did %s", Params: []any{"alice", "login"}}},
			"user alice did login",
		},
		{
			"logentry surplus params",
			&event.RawEvent{LogEntry: &event.LogEntry{Message: "only %s", Params: []any{"one", "two"}}},
			"only one",
		},
		{
			"nothing",
			&event.RawEvent{},
			"No message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractMessage(tt.e); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransformException(t *testing.T) {
	tr := New(fixedNow)
	e := &event.RawEvent{
		Exception: &event.ExceptionList{Values: []event.Exception{{
			Type:  "KeyError",
			Value: "'missing'",
			Stacktrace: &event.Stacktrace{Frames: []event.Frame{
				{Filename: "app.py", Function: "main", Lineno: 5, ContextLine: "  run()"},
				{Filename: "svc.py", Function: "run", Lineno: 20},
			}},
		}}},
	}

	doc := tr.Transform(e, 1)

	if doc["exception_type"] != "KeyError" {
		t.Errorf("exception_type = %v", doc["exception_type"])
	}
	if doc["exception_value"] != "'missing'" {
		t.Errorf("exception_value = %v", doc["exception_value"])
	}

	st, _ := doc["stacktrace"].(string)
	lines := strings.Split(st, "\n")
	// Frames render most-recent-first: svc.py frame comes before app.py.
	if len(lines) != 3 {
		t.Fatalf("stacktrace lines = %d: %q", len(lines), st)
	}
	if !strings.Contains(lines[0], "svc.py") || !strings.Contains(lines[0], "line 20") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "app.py") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if strings.TrimSpace(lines[2]) != "run()" {
		t.Errorf("context line = %q", lines[2])
	}
}

func TestTransformTimestamp(t *testing.T) {
	tr := New(fixedNow)
	ts := &event.FlexTime{Time: time.Date(2024, 5, 31, 8, 30, 0, 0, time.UTC)}

	doc := tr.Transform(&event.RawEvent{Timestamp: ts}, 1)
	if doc["@timestamp"] != "2024-05-31T08:30:00Z" {
		t.Errorf("@timestamp = %v", doc["@timestamp"])
	}
}

func TestTransformUserKeepsEmail(t *testing.T) {
	// Plaintext email survives the transform; the PII enrichment stage is
	// responsible for hashing it.
	tr := New(fixedNow)
	e := &event.RawEvent{User: &event.User{
		ID: "42", Email: "a@b.c", Username: "alice", IPAddress: "1.2.3.4",
	}}

	doc := tr.Transform(e, 1)
	user, _ := doc["user"].(map[string]any)
	if user == nil {
		t.Fatalf("user missing")
	}
	if user["email"] != "a@b.c" || user["id"] != "42" || user["ip"] != "1.2.3.4" {
		t.Errorf("user = %v", user)
	}
}

func TestTransformKeepsExtra(t *testing.T) {
	tr := New(fixedNow)
	e := &event.RawEvent{Extra: map[string]any{"debug": "on", "build": "1422"}}

	doc := tr.Transform(e, 1)
	extra, _ := doc["extra"].(map[string]any)
	if extra == nil || extra["debug"] != "on" || extra["build"] != "1422" {
		t.Errorf("extra = %v", doc["extra"])
	}

	if _, present := New(fixedNow).Transform(&event.RawEvent{}, 1)["extra"]; present {
		t.Errorf("empty extra must be elided")
	}
}

func TestTransformContexts(t *testing.T) {
	tr := New(fixedNow)
	e := &event.RawEvent{
		Contexts: map[string]map[string]any{
			"browser": {"name": "Firefox", "version": "125.0", "ignored": 5},
			"runtime": {"name": "CPython", "version": "3.12.1"},
			"custom":  {"name": "skipped"},
		},
	}

	doc := tr.Transform(e, 1)
	browser, _ := doc["browser"].(map[string]any)
	if browser == nil || browser["name"] != "Firefox" || browser["version"] != "125.0" {
		t.Errorf("browser = %v", browser)
	}
	if _, present := browser["ignored"]; present {
		t.Errorf("non-allowlisted context fields must be dropped")
	}
	runtime, _ := doc["runtime"].(map[string]any)
	if runtime == nil || runtime["name"] != "CPython" {
		t.Errorf("runtime = %v", runtime)
	}
	if _, present := doc["custom"]; present {
		t.Errorf("unknown contexts must not be promoted")
	}
}

func TestComputeFingerprint(t *testing.T) {
	tests := []struct {
		name string
		e    *event.RawEvent
		want []string
	}{
		{
			"user supplied wins",
			&event.RawEvent{Fingerprint: []string{"custom"}, Transaction: "/x", Platform: "go"},
			[]string{"custom"},
		},
		{
			"derived from exception and transaction",
			&event.RawEvent{
				Exception:   &event.ExceptionList{Values: []event.Exception{{Type: "IOError"}}},
				Transaction: "/orders",
				Platform:    "python",
			},
			[]string{"IOError", "/orders", "python"},
		},
		{
			"logger when no transaction",
			&event.RawEvent{Logger: "worker", Platform: "python"},
			[]string{"worker", "python"},
		},
		{
			"empty falls back",
			&event.RawEvent{},
			[]string{"{{ default }}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeFingerprint(tt.e); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
