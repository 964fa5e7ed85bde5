package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexTimeFormats(t *testing.T) {
	tests := []struct {
		name string
		json string
		want time.Time
	}{
		{"epoch seconds", `1700000000`, time.Unix(1700000000, 0).UTC()},
		{"epoch with fraction", `1700000000.5`, time.Unix(1700000000, 500000000).UTC()},
		{"epoch milliseconds", `1700000000000`, time.Unix(1700000000, 0).UTC()},
		{"rfc3339 string", `"2023-11-14T22:13:20Z"`, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)},
		{"numeric string", `"1700000000"`, time.Unix(1700000000, 0).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ft FlexTime
			if err := json.Unmarshal([]byte(tt.json), &ft); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if !ft.Time.Equal(tt.want) {
				t.Errorf("got %v, want %v", ft.Time, tt.want)
			}
		})
	}
}

func TestFlexTimeUnparseable(t *testing.T) {
	// Garbage timestamps are dropped rather than failing the event.
	for _, input := range []string{`"yesterday"`, `null`, `""`, `true`} {
		var ft FlexTime
		if err := json.Unmarshal([]byte(input), &ft); err != nil {
			t.Errorf("input %s: expected nil error, got %v", input, err)
		}
		if !ft.IsZero() {
			t.Errorf("input %s: expected zero time, got %v", input, ft.Time)
		}
	}
}

func TestParseKeepsUnknownFields(t *testing.T) {
	payload := []byte(`{
		"event_id": "abc",
		"level": "error",
		"message": "boom",
		"custom_field": {"nested": true},
		"breadcrumbs": {"values": []}
	}`)

	e, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if e.EventID != "abc" || e.Level != "error" || e.Message != "boom" {
		t.Errorf("typed fields not populated: %+v", e)
	}
	if _, ok := e.Attrs["custom_field"]; !ok {
		t.Errorf("custom_field not preserved in Attrs")
	}
	if _, ok := e.Attrs["breadcrumbs"]; !ok {
		t.Errorf("breadcrumbs not preserved in Attrs")
	}
	if _, ok := e.Attrs["message"]; ok {
		t.Errorf("typed field leaked into Attrs")
	}
}

func TestParseRoundTripUnknownFields(t *testing.T) {
	payload := []byte(`{"event_id":"x","extra_thing":[1,2,3]}`)

	e, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("remarshal produced invalid JSON: %v", err)
	}
	if string(m["extra_thing"]) != "[1,2,3]" {
		t.Errorf("extra_thing lost on round trip: %s", m["extra_thing"])
	}
	if string(m["event_id"]) != `"x"` {
		t.Errorf("event_id lost: %s", m["event_id"])
	}
}

func TestParseRejectsNonObject(t *testing.T) {
	for _, input := range []string{`[]`, `"str"`, `123`, `not json`} {
		if _, err := Parse([]byte(input)); err == nil {
			t.Errorf("input %s: expected error", input)
		}
	}
}

func TestRequestUserAgentCaseInsensitive(t *testing.T) {
	r := &Request{Headers: map[string]string{"user-agent": "Mozilla/5.0"}}
	if got := r.UserAgent(); got != "Mozilla/5.0" {
		t.Errorf("got %q", got)
	}

	var nilReq *Request
	if got := nilReq.UserAgent(); got != "" {
		t.Errorf("nil request: got %q", got)
	}
}

func TestExceptionListDecoding(t *testing.T) {
	payload := []byte(`{
		"exception": {"values": [{"type": "ValueError", "value": "bad input",
			"stacktrace": {"frames": [{"filename": "app.py", "function": "run", "lineno": 10}]}}]}
	}`)

	e, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if e.Exception == nil || len(e.Exception.Values) != 1 {
		t.Fatalf("exception not decoded: %+v", e.Exception)
	}
	exc := e.Exception.Values[0]
	if exc.Type != "ValueError" || exc.Value != "bad input" {
		t.Errorf("unexpected exception: %+v", exc)
	}
	if exc.Stacktrace == nil || len(exc.Stacktrace.Frames) != 1 {
		t.Fatalf("stacktrace not decoded")
	}
	if exc.Stacktrace.Frames[0].Lineno != 10 {
		t.Errorf("unexpected frame: %+v", exc.Stacktrace.Frames[0])
	}
}
