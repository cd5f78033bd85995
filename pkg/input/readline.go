package input

import (
	"bufio"
	"context"
	"io"
	"strings"
)

type line struct {
	text string
	err  error
}

// Reader reads lines from a stream without losing buffered input between
// calls. A single goroutine owns the underlying reader.
type Reader struct {
	lines chan line
}

func NewReader(rd io.Reader) *Reader {
	r := &Reader{lines: make(chan line)}
	go func() {
		defer close(r.lines)

		br := bufio.NewReader(rd)
		for {
			text, err := br.ReadString('\n')
			if text != "" || err == nil {
				r.lines <- line{text: strings.TrimRight(text, "\r\n")}
			}
			if err != nil {
				r.lines <- line{err: err}
				return
			}
		}
	}()
	return r
}

// ReadLine returns the next line without its terminator. A cancelled context
// abandons the wait; the line, once typed, is returned by the next call.
func (r *Reader) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}
