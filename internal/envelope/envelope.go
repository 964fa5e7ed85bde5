// Package envelope implements the SDK wire envelope format: a JSON header
// line followed by item header / item payload pairs. Payloads are either
// length-prefixed (binary safe) or newline-terminated.
package envelope

import "encoding/json"

// Well-known item types. Unknown types are preserved by the decoder and
// skipped further down the pipeline.
const (
	ItemTypeEvent          = "event"
	ItemTypeTransaction    = "transaction"
	ItemTypeAttachment     = "attachment"
	ItemTypeSession        = "session"
	ItemTypeSecurityReport = "security-report"
)

// Header is the envelope header carried on the first line.
type Header struct {
	EventID string          `json:"event_id,omitempty"`
	DSN     string          `json:"dsn,omitempty"`
	SentAt  string          `json:"sent_at,omitempty"`
	SDK     json.RawMessage `json:"sdk,omitempty"`
	Trace   json.RawMessage `json:"trace,omitempty"`
}

// ItemHeader describes a single item. Length, when declared, is the exact
// payload byte count.
type ItemHeader struct {
	Type        string `json:"type"`
	Length      *int64 `json:"length,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// Item is one typed payload unit inside an envelope. Payload bytes are
// opaque; binary payloads are never interpreted here.
type Item struct {
	Header  ItemHeader
	Payload []byte
}

// Type returns the item's type tag.
func (i *Item) Type() string {
	return i.Header.Type
}

// Envelope is a fully decoded envelope. Zero items is valid.
type Envelope struct {
	Header Header
	Items  []Item
}

// Events returns the payloads of all event and transaction items in order.
func (e *Envelope) Events() []Item {
	var out []Item
	for _, item := range e.Items {
		switch item.Header.Type {
		case ItemTypeEvent, ItemTypeTransaction:
			out = append(out, item)
		}
	}
	return out
}
