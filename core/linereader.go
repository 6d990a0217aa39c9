package core

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrLineTooLong is returned for a stream line longer than the configured limit.
var ErrLineTooLong = errors.New("stream line too long")

// Event-stream framing.
const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// lineReader splits a byte stream into lines of bounded length.
// Memory use per line is bounded by the limit, not by the line.
type lineReader struct {
	br  *bufio.Reader
	max int
	buf []byte
}

func newLineReader(r io.Reader, max int) *lineReader {
	if max <= 0 {
		max = DefaultMaxLineLength
	}
	return &lineReader{br: bufio.NewReader(r), max: max}
}

// Next returns the next line without its terminator. A final line without a
// terminator is returned before io.EOF. An over-long line is consumed in full
// and reported as ErrLineTooLong.
func (l *lineReader) Next() (string, error) {
	l.buf = l.buf[:0]
	overflow := false
	for {
		chunk, err := l.br.ReadSlice('\n')
		if !overflow {
			l.buf = append(l.buf, chunk...)
			// allow for a trailing "\r\n"
			if len(l.buf) > l.max+2 {
				overflow = true
				l.buf = l.buf[:0]
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(l.buf) == 0 && !overflow {
				return "", io.EOF
			}
		default:
			return "", err
		}

		if overflow {
			return "", ErrLineTooLong
		}
		line := strings.TrimRight(string(l.buf), "\r\n")
		if len(line) > l.max {
			return "", ErrLineTooLong
		}
		return line, nil
	}
}

// framePayload strips framing from a stream line. ok is false for lines that
// carry nothing to decode: blank lines, empty data lines and the [DONE] marker.
func framePayload(line string) (payload string, ok bool) {
	s := strings.TrimSpace(line)
	if strings.HasPrefix(s, dataPrefix) {
		s = strings.TrimSpace(strings.TrimPrefix(s, dataPrefix))
	}
	if s == "" || s == doneSentinel {
		return "", false
	}
	return s, true
}
