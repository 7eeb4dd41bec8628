package streamframe

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func frame(streamType byte, payload string) []byte {
	h := make([]byte, 8)
	h[0] = streamType
	binary.BigEndian.PutUint32(h[4:8], uint32(len(payload)))
	return append(h, []byte(payload)...)
}

func TestConcatPayloadsValidFraming(t *testing.T) {
	data := append(frame(1, "hello "), frame(2, "world")...)
	got := ConcatPayloads(data)
	if string(got) != "hello world" {
		t.Errorf("ConcatPayloads() = %q, want %q", got, "hello world")
	}
}

func TestConcatPayloadsInvalidHeaderFallsBackToRaw(t *testing.T) {
	data := []byte("not a framed stream at all\n")
	got := ConcatPayloads(data)
	if !bytes.Equal(got, data) {
		t.Errorf("ConcatPayloads() = %q, want raw passthrough %q", got, data)
	}
}

func TestDecoderReassemblesAcrossChunks(t *testing.T) {
	var d Decoder

	first := frame(1, "partial line, no newl")
	lines := d.Feed(first)
	if len(lines) != 0 {
		t.Fatalf("expected no complete lines yet, got %v", lines)
	}

	second := frame(1, "ine\nsecond line\nthird")
	lines = d.Feed(second)
	want := []string{"partial line, no newline", "second line"}
	if len(lines) != len(want) {
		t.Fatalf("Feed() = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Feed()[%d] = %q, want %q", i, lines[i], want[i])
		}
	}

	if tail := d.Flush(); tail != "third" {
		t.Errorf("Flush() = %q, want %q", tail, "third")
	}
}

func TestDecoderHandlesCRLF(t *testing.T) {
	var d Decoder
	lines := d.Feed(frame(1, "one\r\ntwo\r\n"))
	want := []string{"one", "two"}
	if len(lines) != len(want) {
		t.Fatalf("Feed() = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Feed()[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}
