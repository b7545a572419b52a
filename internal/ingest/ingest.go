// Package ingest assembles PTY output chunks into parseable runs for the
// screen model. PTY reads often arrive in 1024-byte chunks with multibyte
// characters and escape sequences split across the boundary; the carry
// buffer below is the discipline that keeps those splices invisible.
package ingest

import (
	"devmux/internal/vterm"
)

// ChunkHoldSize is the read size at which a chunk is assumed to be the
// front of a larger burst: a chunk of exactly this length is carried
// without parsing because its tail may end mid-sequence and the rest is
// expected immediately.
const ChunkHoldSize = 1024

// RawTailCap bounds the retained raw-output tail. The screen model holds
// the authoritative state, so the raw bytes are kept only as a short
// diagnostic window.
const RawTailCap = 64 * 1024

// Ingestor feeds PTY output through a VT parser into a screen.
type Ingestor struct {
	parser *vterm.Parser
	carry  []byte
	raw    []byte

	// Bytes counts everything ever ingested, Held the bytes currently
	// parked in the carry buffer.
	Bytes int64
}

// New returns an ingestor feeding the given parser.
func New(parser *vterm.Parser) *Ingestor {
	return &Ingestor{parser: parser}
}

// Ingest applies one delivered chunk. A chunk of exactly ChunkHoldSize
// bytes is appended to the carry and not parsed; anything else flushes
// carry+chunk into the parser. The source channel (stdout vs stderr) is
// deliberately not distinguished: overflow bytes may arrive on either.
func (in *Ingestor) Ingest(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	in.Bytes += int64(len(chunk))
	in.appendRaw(chunk)
	if len(chunk) == ChunkHoldSize {
		in.carry = append(in.carry, chunk...)
		return
	}
	in.flushWith(chunk)
}

// Flush parses any carried bytes immediately. Called when the child
// exits or goes quiet so a trailing exactly-1024-byte read is not lost.
func (in *Ingestor) Flush() {
	if len(in.carry) == 0 {
		return
	}
	in.flushWith(nil)
}

func (in *Ingestor) flushWith(chunk []byte) {
	var data []byte
	if len(in.carry) > 0 {
		data = append(in.carry, chunk...)
		in.carry = nil
	} else {
		data = chunk
	}
	// A mid-UTF-8 or mid-escape tail survives inside the parser's own
	// state, so nothing is lost between flushes.
	in.parser.Feed(data)
}

// Held returns the number of carried, not-yet-parsed bytes.
func (in *Ingestor) Held() int {
	return len(in.carry)
}

// Pending reports whether bytes are held in the carry or inside the
// parser mid-sequence.
func (in *Ingestor) Pending() bool {
	return len(in.carry) > 0 || in.parser.Pending()
}

// RawTail returns the retained raw-output window (at most RawTailCap
// bytes), newest at the end.
func (in *Ingestor) RawTail() []byte {
	return in.raw
}

func (in *Ingestor) appendRaw(chunk []byte) {
	in.raw = append(in.raw, chunk...)
	if len(in.raw) > RawTailCap {
		trim := len(in.raw) - RawTailCap
		in.raw = append(in.raw[:0], in.raw[trim:]...)
	}
}
