package protocol

import (
	"bytes"
	"errors"

	"github.com/smallnest/ringbuffer"
)

// DefaultRxBuffer is the default capacity of a LineReader in bytes.
const DefaultRxBuffer = 1024

// ErrLineTooLong is returned by Accumulate when a response line does not
// fit in the reader's buffer. The oversized line is dropped up to its
// separator; lines after it are still returned.
var ErrLineTooLong = errors.New("protocol: response line exceeds receive buffer")

var lineSep = []byte(LineSep)

// LineReader reassembles response lines from notification payloads. A
// payload may hold part of a line, several lines, or split the separator
// itself; bytes after the last separator stay buffered for the next call.
//
// A LineReader is not safe for concurrent use.
type LineReader struct {
	buf      *ringbuffer.RingBuffer
	skipping bool // dropping the rest of an oversized line
}

// NewLineReader returns a reader buffering at most size bytes of an
// incomplete line. A non-positive size selects DefaultRxBuffer; the size is
// never smaller than the separator.
func NewLineReader(size int) *LineReader {
	if size <= 0 {
		size = DefaultRxBuffer
	}
	if size < len(lineSep) {
		size = len(lineSep)
	}
	return &LineReader{buf: ringbuffer.New(size)}
}

// Accumulate appends data and returns every line completed by it, in
// arrival order and without the separator.
func (lr *LineReader) Accumulate(data []byte) ([]string, error) {
	var (
		lines    []string
		overflow bool
	)
	for len(data) > 0 {
		n, _ := lr.buf.Write(data)
		data = data[n:]
		lines = lr.extract(lines)

		if len(data) > 0 && lr.buf.IsFull() {
			// A full buffer with no separator in it can never complete.
			pending := lr.buf.Bytes()
			lr.buf.Reset()
			lr.skipping = true
			overflow = true
			// Keep a trailing CR so a leading LF still ends the dropped line.
			if pending[len(pending)-1] == lineSep[0] {
				_, _ = lr.buf.Write(lineSep[:1])
			}
		}
	}
	if overflow {
		return lines, ErrLineTooLong
	}
	return lines, nil
}

// Buffered returns the number of bytes of the pending partial line.
func (lr *LineReader) Buffered() int {
	return lr.buf.Length()
}

// Reset drops any partial line.
func (lr *LineReader) Reset() {
	lr.buf.Reset()
	lr.skipping = false
}

func (lr *LineReader) extract(lines []string) []string {
	for {
		pending := lr.buf.Bytes()
		i := bytes.Index(pending, lineSep)
		if i < 0 {
			return lines
		}
		consumed := make([]byte, i+len(lineSep))
		_, _ = lr.buf.Read(consumed)

		if lr.skipping {
			lr.skipping = false
			continue
		}
		lines = append(lines, string(consumed[:i]))
	}
}
