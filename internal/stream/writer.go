package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
)

// ErrSinkClosed is returned by writes after the underlying writer failed.
var ErrSinkClosed = errors.New("stream sink closed")

// Sink receives stream events in order.
type Sink interface {
	Write(ev domain.StreamEvent) error
}

// LineWriter writes one JSON object per line and flushes after each one when
// the underlying writer supports it. After the first write error every later
// write returns ErrSinkClosed without touching the writer. It is safe for
// concurrent use.
type LineWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	err     error
}

// NewLineWriter wraps w. An http.ResponseWriter is flushed after every line.
func NewLineWriter(w io.Writer) *LineWriter {
	lw := &LineWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		lw.flusher = f
	}
	return lw
}

// Write encodes ev as a single line.
func (lw *LineWriter) Write(ev domain.StreamEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	b = append(b, '\n')

	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.err != nil {
		return ErrSinkClosed
	}
	if _, err := lw.w.Write(b); err != nil {
		lw.err = err
		return err
	}
	if lw.flusher != nil {
		lw.flusher.Flush()
	}
	return nil
}

// Err returns the write error that closed the sink, if any.
func (lw *LineWriter) Err() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.err
}

// Decoder reads events written by a LineWriter.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// maxLineSize bounds a single event line; a full trace can be large.
const maxLineSize = 4 << 20

// NewDecoder reads events from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next event. It returns io.EOF at the end of the stream and
// an error wrapping domain.ErrUnknownEventType for an unrecognised tag.
func (d *Decoder) Next() (domain.StreamEvent, error) {
	for d.scanner.Scan() {
		d.line++
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev domain.StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return domain.StreamEvent{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return domain.StreamEvent{}, err
	}
	return domain.StreamEvent{}, io.EOF
}

// ReadAll decodes every event in r.
func ReadAll(r io.Reader) ([]domain.StreamEvent, error) {
	d := NewDecoder(r)
	var events []domain.StreamEvent
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
