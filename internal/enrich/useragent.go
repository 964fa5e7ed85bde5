package enrich

import (
	"github.com/mileusna/useragent"

	"github.com/yasinyaman/sentrel/internal/event"
)

// UserAgentStage parses the raw user-agent string into the browser, os and
// device namespaces. Unparseable strings yield absent fields, not an error.
// Events that already carry browser and os context are left alone.
type UserAgentStage struct{}

func (s *UserAgentStage) Name() string { return "useragent" }

func (s *UserAgentStage) Apply(doc event.Document, md Metadata) (event.Document, error) {
	if doc.SubMap("browser") != nil && doc.SubMap("os") != nil {
		return doc, nil
	}
	if md.UserAgent == "" {
		return doc, nil
	}

	ua := useragent.Parse(md.UserAgent)

	if doc.SubMap("browser") == nil && ua.Name != "" {
		browser := map[string]any{"name": ua.Name}
		if ua.Version != "" {
			browser["version"] = ua.Version
		}
		doc["browser"] = browser
	}

	if doc.SubMap("os") == nil && ua.OS != "" {
		osInfo := map[string]any{"name": ua.OS}
		if ua.OSVersion != "" {
			osInfo["version"] = ua.OSVersion
		}
		doc["os"] = osInfo
	}

	if doc.SubMap("device") == nil {
		if deviceType := classifyDevice(ua); deviceType != "" {
			doc["device"] = map[string]any{"type": deviceType}
		}
	}

	return doc, nil
}

func classifyDevice(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Tablet:
		return "tablet"
	case ua.Mobile:
		return "mobile"
	case ua.Desktop:
		return "desktop"
	default:
		return ""
	}
}
