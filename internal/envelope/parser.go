package envelope

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed indicates the envelope header is absent or an item payload
// cannot be satisfied by the remaining stream. Request-path callers map it
// to a 4xx response.
var ErrMalformed = errors.New("malformed envelope")

// Decoder reads an envelope item by item. It is lazy, finite and
// non-restartable: once Next has returned io.EOF the stream is exhausted.
type Decoder struct {
	r      *bufio.Reader
	header Header
	done   bool
}

// NewDecoder parses the envelope header eagerly and returns a decoder for
// the remaining items.
func NewDecoder(r io.Reader) (*Decoder, error) {
	br := bufio.NewReader(r)

	line, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("%w: missing header line", ErrMalformed)
	}
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, fmt.Errorf("%w: empty header line", ErrMalformed)
	}

	var header Header
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, fmt.Errorf("%w: invalid header: %v", ErrMalformed, err)
	}

	return &Decoder{r: br, header: header}, nil
}

// Header returns the envelope header.
func (d *Decoder) Header() Header {
	return d.header
}

// Next returns the next item, or io.EOF when the envelope is exhausted.
func (d *Decoder) Next() (*Item, error) {
	if d.done {
		return nil, io.EOF
	}

	// Skip blank lines between items.
	var headerLine []byte
	for {
		line, err := readLine(d.r)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) > 0 {
			headerLine = line
			break
		}
		if err == io.EOF {
			d.done = true
			return nil, io.EOF
		}
	}

	var ih ItemHeader
	if err := json.Unmarshal(headerLine, &ih); err != nil {
		return nil, fmt.Errorf("%w: invalid item header: %v", ErrMalformed, err)
	}

	payload, err := d.readPayload(ih)
	if err != nil {
		return nil, err
	}

	return &Item{Header: ih, Payload: payload}, nil
}

func (d *Decoder) readPayload(ih ItemHeader) ([]byte, error) {
	if ih.Length != nil {
		n := *ih.Length
		if n < 0 {
			return nil, fmt.Errorf("%w: negative item length %d", ErrMalformed, n)
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return nil, fmt.Errorf("%w: item payload truncated: declared %d bytes", ErrMalformed, n)
		}
		// Consume the newline separating this payload from the next item.
		if b, err := d.r.ReadByte(); err == nil && b != '\n' {
			_ = d.r.UnreadByte()
		}
		return payload, nil
	}

	// No declared length: payload runs to the next newline.
	line, err := readLine(d.r)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if err == io.EOF {
		d.done = true
	}
	return line, nil
}

// readLine reads up to and excluding the next '\n'. Returns io.EOF together
// with any final unterminated line.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err == nil {
		return line[:len(line)-1], nil
	}
	if err == io.EOF {
		return line, io.EOF
	}
	return nil, err
}

// Decode fully parses an envelope body.
func Decode(body []byte) (*Envelope, error) {
	d, err := NewDecoder(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	env := &Envelope{Header: d.Header()}
	for {
		item, err := d.Next()
		if err == io.EOF {
			return env, nil
		}
		if err != nil {
			return nil, err
		}
		env.Items = append(env.Items, *item)
	}
}

// headerOnlyKeys are the fields an envelope header may carry. A whole-body
// JSON object with any other key is a legacy event payload, not a header.
var headerOnlyKeys = map[string]struct{}{
	"event_id": {},
	"dsn":      {},
	"sent_at":  {},
	"sdk":      {},
	"trace":    {},
}

// DecodeAny parses either the envelope format or the legacy single-JSON
// event format, normalizing the latter into a one-item envelope with a
// single event item. This is a detection branch only; downstream handling
// is identical for both.
func DecodeAny(body []byte) (*Envelope, error) {
	if isLegacyEvent(body) {
		trimmed := bytes.TrimSpace(body)
		var header Header
		var probe struct {
			EventID string `json:"event_id"`
		}
		_ = json.Unmarshal(trimmed, &probe)
		header.EventID = probe.EventID

		length := int64(len(trimmed))
		return &Envelope{
			Header: header,
			Items: []Item{{
				Header: ItemHeader{
					Type:        ItemTypeEvent,
					Length:      &length,
					ContentType: "application/json",
				},
				Payload: trimmed,
			}},
		}, nil
	}
	return Decode(body)
}

// isLegacyEvent reports whether body is a bare event object rather than an
// envelope. A body that parses as one JSON object and carries any key
// outside the envelope header key set cannot be an envelope header line.
func isLegacyEvent(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false
	}
	for key := range obj {
		if _, ok := headerOnlyKeys[key]; !ok {
			return true
		}
	}
	return false
}

// Encode serializes an envelope back to the wire format. Item payloads are
// always written length-prefixed, which is safe for binary content.
func Encode(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer

	headerLine, err := json.Marshal(env.Header)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope header: %w", err)
	}
	buf.Write(headerLine)
	buf.WriteByte('\n')

	for _, item := range env.Items {
		ih := item.Header
		length := int64(len(item.Payload))
		ih.Length = &length

		itemLine, err := json.Marshal(ih)
		if err != nil {
			return nil, fmt.Errorf("marshal item header: %w", err)
		}
		buf.Write(itemLine)
		buf.WriteByte('\n')
		buf.Write(item.Payload)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}
