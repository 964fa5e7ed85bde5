package sink

import (
	"testing"
	"time"
)

func TestIndexName(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{
			"utc date",
			time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC),
			"sentry-events-2024.03.07",
		},
		{
			"non-utc timestamps normalize to utc day",
			time.Date(2024, 3, 7, 23, 30, 0, 0, time.FixedZone("UTC+2", 2*3600)),
			"sentry-events-2024.03.07",
		},
		{
			"day boundary",
			time.Date(2024, 3, 7, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600)),
			"sentry-events-2024.03.08",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IndexName("sentry-events", tt.ts); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventMappingsCoverCoreFields(t *testing.T) {
	mappings := eventMappings()
	props, ok := mappings["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing")
	}

	for _, field := range []string{"@timestamp", "received_at", "event_id", "project_id", "level", "user", "geo", "tags", "fingerprint"} {
		if _, present := props[field]; !present {
			t.Errorf("mapping for %q missing", field)
		}
	}

	geo, _ := props["geo"].(map[string]any)
	geoProps, _ := geo["properties"].(map[string]any)
	location, _ := geoProps["location"].(map[string]any)
	if location["type"] != "geo_point" {
		t.Errorf("geo.location must map as geo_point")
	}

	user, _ := props["user"].(map[string]any)
	userProps, _ := user["properties"].(map[string]any)
	if _, present := userProps["email"]; present {
		t.Errorf("plaintext email must not be mapped")
	}
	if _, present := userProps["email_hash"]; !present {
		t.Errorf("email_hash mapping missing")
	}
}
