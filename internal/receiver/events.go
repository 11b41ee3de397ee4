package receiver

import (
	"bufio"
	"io"
	"strings"
)

const maxEventSize = 1 << 20

// EventReader splits a text/event-stream body into event data. Comments and
// fields other than data are skipped.
type EventReader struct {
	scanner *bufio.Scanner
}

func NewEventReader(r io.Reader) *EventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	return &EventReader{scanner: scanner}
}

// Next blocks until a complete event is read. It returns io.EOF when the
// stream ends cleanly.
func (r *EventReader) Next() ([]byte, error) {
	var data []byte
	hasData := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if hasData {
				return data, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}

		if hasData {
			data = append(data, '\n')
		}
		data = append(data, strings.TrimPrefix(value, " ")...)
		hasData = true
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	return nil, io.EOF
}
