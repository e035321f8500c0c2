package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one frame read from an event stream. Comment frames carry only
// Comment; regular frames carry Name (may be empty) and Data.
type Event struct {
	Name    string
	Data    string
	Comment string
}

// IsComment reports whether the frame was a comment line such as a heartbeat.
func (e Event) IsComment() bool {
	return e.Comment != "" && e.Name == "" && e.Data == ""
}

// Reader parses Server-Sent Events from a stream.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next frame. It returns io.EOF when the stream ends cleanly.
func (rd *Reader) Next() (Event, error) {
	var ev Event
	var data []string
	hasData := false
	for {
		line, err := rd.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && (ev.Name != "" || hasData) {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if ev.Name == "" && !hasData {
				if ev.Comment != "" {
					return ev, nil
				}
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		if after, ok := strings.CutPrefix(line, ":"); ok {
			ev.Comment = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			ev.Name = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(after, " "))
			hasData = true
			continue
		}
	}
}
