package opencode

import (
	"bufio"
	"io"
	"strings"
)

// sseReader decodes a Server-Sent Events stream. Only data fields are
// used: consecutive data lines are joined with "\n" and the event is
// dispatched at the next blank line. An event still open at EOF is dropped.
type sseReader struct {
	sc   *bufio.Scanner
	data []string
}

func newSSEReader(r io.Reader, maxLine int) *sseReader {
	sc := bufio.NewScanner(r)
	initial := 64 * 1024
	if maxLine < initial {
		initial = maxLine
	}
	sc.Buffer(make([]byte, 0, initial), maxLine)
	return &sseReader{sc: sc}
}

// Next returns the payload of the next event, or io.EOF at end of stream.
func (r *sseReader) Next() ([]byte, error) {
	for r.sc.Scan() {
		line := strings.TrimSuffix(r.sc.Text(), "\r")
		switch {
		case line == "":
			if len(r.data) == 0 {
				continue
			}
			payload := []byte(strings.Join(r.data, "\n"))
			r.data = r.data[:0]
			return payload, nil
		case strings.HasPrefix(line, "data:"):
			r.data = append(r.data, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
