package events

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Message is one dispatched server-sent event.
type Message struct {
	Event string
	Data  string
	ID    string
}

// Decoder reads text/event-stream frames.
type Decoder struct {
	scanner *bufio.Scanner
	retry   time.Duration
	lastID  string
}

// NewDecoder creates a decoder over r. Lines up to 1 MiB are accepted.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	return &Decoder{scanner: scanner}
}

// Retry returns the last reconnection delay announced by the server, or zero.
func (d *Decoder) Retry() time.Duration {
	return d.retry
}

// LastID returns the last event id seen on the stream.
func (d *Decoder) LastID() string {
	return d.lastID
}

// Next blocks until the next event with data is dispatched. It returns
// io.EOF when the stream ends cleanly.
func (d *Decoder) Next() (Message, error) {
	var (
		eventType string
		data      strings.Builder
		hasData   bool
	)

	for d.scanner.Scan() {
		line := strings.TrimSuffix(d.scanner.Text(), "\r")
		if line == "" {
			if !hasData {
				eventType = ""
				continue
			}
			msg := Message{
				Event: eventType,
				Data:  strings.TrimSuffix(data.String(), "\n"),
				ID:    d.lastID,
			}
			if msg.Event == "" {
				msg.Event = "message"
			}
			return msg, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			eventType = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				d.lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				d.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
