package beast

import (
	"bytes"
	"log/slog"

	"beast_bridge/internal/models"
)

// DefaultMaxBuffered caps the bytes held between Feed calls
const DefaultMaxBuffered = 64 * 1024

// Synchronizer cuts a Beast byte stream into frames. Bytes that do not yet form
// a complete frame are kept and completed by later Feed calls.
//
// By default the marker byte is not treated as escaped inside frame bodies, which
// matches feeds that never double 0x1A. With escaping enabled a doubled marker
// inside a body decodes to a single 0x1A data byte, and a lone marker inside a
// body abandons the partial frame and resynchronizes on it.
type Synchronizer struct {
	buf         []byte
	escaped     bool
	maxBuffered int
	dropped     uint64
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

// WithEscapes enables marker unescaping inside frame bodies
func WithEscapes() Option {
	return func(s *Synchronizer) { s.escaped = true }
}

// WithMaxBuffered caps the retained tail; non-positive values use DefaultMaxBuffered
func WithMaxBuffered(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxBuffered = n
		}
	}
}

func NewSynchronizer(opts ...Option) *Synchronizer {
	s := &Synchronizer{maxBuffered: DefaultMaxBuffered}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Feed appends chunk to the retained tail and returns every complete frame.
// Returned bodies are copies and stay valid after later calls.
func (s *Synchronizer) Feed(chunk []byte) []models.RawFrame {
	s.buf = append(s.buf, chunk...)

	var frames []models.RawFrame
	pos := 0
	for pos < len(s.buf) {
		start := bytes.IndexByte(s.buf[pos:], models.BeastMarker)
		if start < 0 {
			break
		}
		pos += start

		if pos+models.BeastHeaderLen > len(s.buf) {
			break
		}

		frame, next, ok := s.cut(pos)
		if !ok {
			break
		}
		pos = next
		if frame != nil {
			frames = append(frames, *frame)
		}
	}

	s.retain(pos)
	return frames
}

// Buffered returns the number of bytes waiting for more data
func (s *Synchronizer) Buffered() int {
	return len(s.buf)
}

// Dropped returns the number of bytes discarded by the buffer cap
func (s *Synchronizer) Dropped() uint64 {
	return s.dropped
}

// Reset discards all buffered state
func (s *Synchronizer) Reset() {
	s.buf = nil
}

// cut reads the frame whose marker is at pos. It returns the frame (nil when
// the bytes at pos are skipped), the next scan position, and false when the
// buffer does not yet hold the whole frame.
func (s *Synchronizer) cut(pos int) (*models.RawFrame, int, bool) {
	typeByte := s.buf[pos+1]
	bodyLen := models.BeastBodyLen(typeByte)

	if !s.escaped {
		end := pos + models.BeastHeaderLen + bodyLen
		if end > len(s.buf) {
			return nil, pos, false
		}
		body := make([]byte, bodyLen)
		copy(body, s.buf[pos+models.BeastHeaderLen:end])
		return &models.RawFrame{Type: typeByte, Body: body}, end, true
	}

	// A doubled marker outside a frame is escaped data, not a frame start.
	if typeByte == models.BeastMarker {
		return nil, pos + 2, true
	}

	body := make([]byte, 0, bodyLen)
	i := pos + models.BeastHeaderLen
	for len(body) < bodyLen {
		if i >= len(s.buf) {
			return nil, pos, false
		}
		b := s.buf[i]
		if b != models.BeastMarker {
			body = append(body, b)
			i++
			continue
		}
		if i+1 >= len(s.buf) {
			return nil, pos, false
		}
		if s.buf[i+1] != models.BeastMarker {
			// Truncated frame; the lone marker opens the next one.
			return nil, i, true
		}
		body = append(body, models.BeastMarker)
		i += 2
	}
	return &models.RawFrame{Type: typeByte, Body: body}, i, true
}

// retain keeps s.buf[pos:] for the next call, enforcing the buffer cap
func (s *Synchronizer) retain(pos int) {
	rest := len(s.buf) - pos
	if rest > s.maxBuffered {
		drop := rest - s.maxBuffered
		slog.Warn("Beast buffer overflow, dropping bytes",
			"dropped", drop,
			"max_buffered", s.maxBuffered,
		)
		s.dropped += uint64(drop)
		pos += drop
		rest = s.maxBuffered
	}
	if rest == 0 {
		s.buf = s.buf[:0]
		return
	}
	// Compact so the backing array does not grow without bound.
	copy(s.buf, s.buf[pos:])
	s.buf = s.buf[:rest]
}
