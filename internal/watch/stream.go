package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	Type string
	Data json.RawMessage
}

// Stream decodes server-sent events from r. Comment lines (keepalives) are
// skipped and multi-line data fields are joined with newlines.
type Stream struct {
	r *bufio.Reader
}

// NewStream wraps r.
func NewStream(r io.Reader) *Stream {
	return &Stream{r: bufio.NewReader(r)}
}

// Next returns the next complete event. It returns io.EOF when the stream
// ends cleanly between events and io.ErrUnexpectedEOF when it ends inside one.
func (s *Stream) Next() (Event, error) {
	var (
		ev   Event
		data []string
		open bool
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if open {
					return Event{}, io.ErrUnexpectedEOF
				}
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("watch: read stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if !open {
				continue
			}
			if ev.Type == "" {
				ev.Type = "message"
			}
			ev.Data = json.RawMessage(strings.Join(data, "\n"))
			return ev, nil
		case strings.HasPrefix(line, ":"):
			continue
		}

		open = true
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		}
	}
}
