package ingest

import (
	"bytes"
	"strings"
	"testing"

	"devmux/internal/vterm"
)

func newPair(cols, rows int) (*Ingestor, *vterm.Screen) {
	scr := vterm.NewScreen(cols, rows, 0)
	return New(vterm.NewParser(scr)), scr
}

func TestExactChunkSizeIsHeld(t *testing.T) {
	in, scr := newPair(40, 4)
	chunk := bytes.Repeat([]byte("x"), ChunkHoldSize)
	in.Ingest(chunk)
	if in.Held() != ChunkHoldSize {
		t.Fatalf("held = %d, want %d", in.Held(), ChunkHoldSize)
	}
	if scr.PlainText() != "" {
		t.Fatalf("held chunk must not be parsed yet")
	}
	// The next short chunk flushes everything.
	in.Ingest([]byte("!"))
	if in.Held() != 0 {
		t.Fatalf("held = %d after flush", in.Held())
	}
	if !strings.HasSuffix(scr.PlainText(), "x!") {
		t.Fatalf("flush lost bytes: %q", scr.PlainText())
	}
}

func TestShortChunksParseImmediately(t *testing.T) {
	in, scr := newPair(20, 3)
	in.Ingest([]byte("hello"))
	if got := scr.PlainText(); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if in.Held() != 0 {
		t.Fatalf("unexpected carry")
	}
}

// TestEscapeSplicedAcrossHoldBoundary is the 1024-boundary splice: an SGR
// escape straddles a chunk of exactly 1024 bytes. The final screen must
// match the unsplit ingestion, with the red attribute applied to the byte
// right after the escape.
func TestEscapeSplicedAcrossHoldBoundary(t *testing.T) {
	const cols, rows = 80, 40
	esc := []byte("\x1b[31m")
	var stream []byte
	// Lay the stream out so the escape starts 2 bytes before the 1024
	// boundary: the first chunk ends with "\x1b[" and the rest follows.
	pad := ChunkHoldSize - 2
	stream = append(stream, bytes.Repeat([]byte("ab\r\n"), pad/4)...)
	stream = append(stream, bytes.Repeat([]byte("-"), pad-len(stream))...)
	stream = append(stream, esc...)
	stream = append(stream, []byte("R\x1b[0m done")...)

	wholeIn, wholeScr := newPair(cols, rows)
	wholeIn.Ingest(stream[:512])
	wholeIn.Ingest(stream[512:])

	splitIn, splitScr := newPair(cols, rows)
	splitIn.Ingest(stream[:ChunkHoldSize])
	if splitIn.Held() != ChunkHoldSize {
		t.Fatalf("boundary chunk not held")
	}
	splitIn.Ingest(stream[ChunkHoldSize:])

	if wholeScr.PlainText() != splitScr.PlainText() {
		t.Fatalf("text diverged:\n%q\n%q", wholeScr.PlainText(), splitScr.PlainText())
	}
	// Find the R and confirm it is red in both.
	assertRedR := func(scr *vterm.Screen) {
		t.Helper()
		_, rws := scr.Size()
		for r := 0; r < rws; r++ {
			for _, c := range scr.Row(r) {
				if c.Grapheme == "R" {
					want := vterm.Color{Mode: vterm.ColorIndexed, Index: 1}
					if c.Pen.FG != want {
						t.Fatalf("R pen = %+v", c.Pen)
					}
					return
				}
			}
		}
		t.Fatalf("R not found")
	}
	assertRedR(wholeScr)
	assertRedR(splitScr)
}

// TestSplitEquivalenceAcrossChunkings runs the chunk-size-independence
// property: any chunking that honors the hold rule produces the same
// screen as the whole stream.
func TestSplitEquivalenceAcrossChunkings(t *testing.T) {
	stream := []byte("head \x1b[32mgreen🐛\x1b[0m\r\nsecond ❤️ line\x1b[1;3Hover")
	const cols, rows = 24, 5

	whole := vterm.NewScreen(cols, rows, 0)
	vterm.NewParser(whole).Feed(stream)

	for size := 1; size <= len(stream); size++ {
		in, scr := newPair(cols, rows)
		for off := 0; off < len(stream); off += size {
			end := off + size
			if end > len(stream) {
				end = len(stream)
			}
			in.Ingest(stream[off:end])
		}
		in.Flush()
		if whole.PlainText() != scr.PlainText() {
			t.Fatalf("chunk size %d diverged:\n%q\n%q", size, whole.PlainText(), scr.PlainText())
		}
	}
}

func TestFlushDrainsCarry(t *testing.T) {
	in, scr := newPair(40, 40)
	in.Ingest(bytes.Repeat([]byte("y\r\n"), ChunkHoldSize)[:ChunkHoldSize])
	if in.Held() == 0 {
		t.Fatalf("expected carry")
	}
	in.Flush()
	if in.Held() != 0 {
		t.Fatalf("carry not drained")
	}
	if scr.PlainText() == "" {
		t.Fatalf("flush did not parse")
	}
}

func TestRawTailIsCapped(t *testing.T) {
	in, _ := newPair(10, 2)
	big := bytes.Repeat([]byte("z"), RawTailCap/2+100)
	in.Ingest(big)
	in.Ingest(big)
	in.Ingest(big)
	if got := len(in.RawTail()); got > RawTailCap {
		t.Fatalf("raw tail = %d bytes, cap %d", got, RawTailCap)
	}
	if in.Bytes != int64(3*len(big)) {
		t.Fatalf("Bytes = %d", in.Bytes)
	}
}
