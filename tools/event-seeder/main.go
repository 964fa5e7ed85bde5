// Command event-seeder posts synthetic SDK envelopes to a running
// collector for load testing and dashboard seeding.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

var (
	baseURL    = flag.String("url", "http://localhost:8000", "collector base URL")
	projectID  = flag.Int64("project", 1, "project ID")
	publicKey  = flag.String("key", "", "DSN public key (required)")
	count      = flag.Int("count", 100, "number of events to generate")
	interval   = flag.Duration("interval", 100*time.Millisecond, "interval between events")
	timeSpread = flag.Duration("time-spread", time.Hour, "spread event timestamps over this period (0 for real-time)")
	errorRatio = flag.Float64("error-ratio", 0.7, "fraction of events carrying an exception")
)

var exceptionTypes = []string{
	"ValueError", "TypeError", "KeyError", "ConnectionError",
	"TimeoutError", "NullPointerException", "RuntimeError",
}

var environments = []string{"production", "production", "staging", "development"}

func main() {
	flag.Parse()

	if *publicKey == "" {
		log.Fatal("DSN public key is required. Use -key flag")
	}

	gofakeit.Seed(time.Now().UnixNano())

	log.Printf("Starting event seeder:")
	log.Printf("  URL: %s", *baseURL)
	log.Printf("  Project: %d", *projectID)
	log.Printf("  Event count: %d", *count)
	log.Printf("  Interval: %v", *interval)

	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := fmt.Sprintf("%s/api/%d/envelope/", strings.TrimRight(*baseURL, "/"), *projectID)

	successCount := 0
	failCount := 0

	for i := 0; i < *count; i++ {
		body, eventID := buildEnvelope()
		if err := send(client, endpoint, body); err != nil {
			log.Printf("Failed to send event %s: %v", eventID, err)
			failCount++
		} else {
			successCount++
			if successCount%50 == 0 {
				log.Printf("Progress: %d/%d events sent", successCount, *count)
			}
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	log.Printf("Seeding complete: %d sent, %d failed", successCount, failCount)
}

func buildEnvelope() ([]byte, string) {
	eventID := strings.ReplaceAll(uuid.New().String(), "-", "")
	event := generateEvent(eventID)

	payload, err := json.Marshal(event)
	if err != nil {
		log.Fatalf("marshal event: %v", err)
	}

	header, _ := json.Marshal(map[string]string{"event_id": eventID})
	itemHeader, _ := json.Marshal(map[string]any{
		"type":   "event",
		"length": len(payload),
	})

	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteByte('\n')
	buf.Write(itemHeader)
	buf.WriteByte('\n')
	buf.Write(payload)
	buf.WriteByte('\n')
	return buf.Bytes(), eventID
}

func generateEvent(eventID string) map[string]any {
	eventTime := time.Now().UTC()
	if *timeSpread > 0 {
		eventTime = eventTime.Add(-time.Duration(rand.Int63n(int64(*timeSpread))))
	}

	event := map[string]any{
		"event_id":    eventID,
		"timestamp":   eventTime.Format(time.RFC3339),
		"platform":    gofakeit.RandomString([]string{"python", "javascript", "go", "java"}),
		"level":       gofakeit.RandomString([]string{"error", "error", "warning", "info"}),
		"environment": gofakeit.RandomString(environments),
		"release":     fmt.Sprintf("app@%d.%d.%d", rand.Intn(3)+1, rand.Intn(10), rand.Intn(20)),
		"server_name": gofakeit.DomainName(),
		"transaction": "/" + gofakeit.Word() + "/" + gofakeit.Word(),
		"user": map[string]any{
			"id":         fmt.Sprintf("%d", gofakeit.Number(1, 100000)),
			"email":      gofakeit.Email(),
			"username":   gofakeit.Username(),
			"ip_address": gofakeit.IPv4Address(),
		},
		"request": map[string]any{
			"url":    gofakeit.URL(),
			"method": gofakeit.HTTPMethod(),
			"headers": map[string]string{
				"User-Agent": gofakeit.UserAgent(),
			},
		},
		"tags": map[string]any{
			"server":     gofakeit.DomainName(),
			"datacenter": gofakeit.RandomString([]string{"us-east-1", "eu-west-1", "ap-south-1"}),
		},
		"sdk": map[string]any{
			"name":    "sentry.python",
			"version": "1.40.0",
		},
	}

	if rand.Float64() < *errorRatio {
		excType := gofakeit.RandomString(exceptionTypes)
		event["exception"] = map[string]any{
			"values": []map[string]any{
				{
					"type":  excType,
					"value": gofakeit.Sentence(6),
					"stacktrace": map[string]any{
						"frames": []map[string]any{
							{
								"filename": gofakeit.Word() + ".py",
								"function": gofakeit.Word(),
								"lineno":   gofakeit.Number(1, 500),
							},
							{
								"filename": gofakeit.Word() + ".py",
								"function": gofakeit.Word(),
								"lineno":   gofakeit.Number(1, 500),
							},
						},
					},
				},
			},
		}
	} else {
		event["message"] = gofakeit.Sentence(8)
	}

	return event
}

func send(client *http.Client, endpoint string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-sentry-envelope")
	req.Header.Set("X-Sentry-Auth",
		fmt.Sprintf("Sentry sentry_version=7, sentry_key=%s, sentry_client=event-seeder/1.0", *publicKey))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
