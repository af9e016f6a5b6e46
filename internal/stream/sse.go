package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// readSSE parses a text/event-stream body and invokes handle for each
// dispatched event. Comment lines, id: and retry: fields are ignored; an
// absent event name defaults to "message" per the SSE spec. Returns the
// transport error that ended the stream (io.EOF for a clean close).
func readSSE(r io.Reader, handle func(name string, data []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	name := ""
	var data [][]byte
	dispatch := func() {
		if len(data) > 0 {
			n := name
			if n == "" {
				n = "message"
			}
			handle(n, bytes.Join(data, []byte("\n")))
		}
		name = ""
		data = nil
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		case strings.HasPrefix(line, "data:"):
			data = append(data, []byte(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
