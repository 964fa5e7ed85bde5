// Package auth handles producer credentials: DSN parsing, the X-Sentry-Auth
// header, and the project/key registry consulted at admission time.
package auth

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DSN identifies a producer: scheme://PUBLIC_KEY@host[:port]/PROJECT_ID.
type DSN struct {
	PublicKey string
	Host      string
	ProjectID int64
}

// ParseDSN extracts the public key and project ID from a DSN string.
func ParseDSN(raw string) (*DSN, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty DSN")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("DSN missing public key")
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return nil, fmt.Errorf("DSN missing project ID")
	}
	projectID, err := strconv.ParseInt(path, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("DSN project ID %q: %w", path, err)
	}

	return &DSN{
		PublicKey: u.User.Username(),
		Host:      u.Host,
		ProjectID: projectID,
	}, nil
}

var authPairPattern = regexp.MustCompile(`(\w+)=([^,\s]+)`)

// ParseAuthHeader parses an X-Sentry-Auth header value into its key-value
// pairs. The "Sentry " prefix is optional.
func ParseAuthHeader(header string) map[string]string {
	result := make(map[string]string)
	if header == "" {
		return result
	}

	if len(header) >= 7 && strings.EqualFold(header[:7], "sentry ") {
		header = header[7:]
	}

	for _, match := range authPairPattern.FindAllStringSubmatch(header, -1) {
		result[match[1]] = strings.TrimSpace(match[2])
	}
	return result
}

// ExtractPublicKey pulls the producer public key from the X-Sentry-Auth
// header or, failing that, the sentry_key query parameter.
func ExtractPublicKey(authHeader string, query url.Values) string {
	if authHeader != "" {
		if key, ok := ParseAuthHeader(authHeader)["sentry_key"]; ok {
			return key
		}
	}
	return query.Get("sentry_key")
}
