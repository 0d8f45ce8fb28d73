package recorder

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func capturePackets(t *testing.T, dir string, payloads [][]byte) {
	t.Helper()
	writer, err := NewWriter(Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, payload := range payloads {
		if err := writer.TryAppend(uint64(i+1), payload); err != nil {
			t.Fatalf("TryAppend(%d): %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	payloads := [][]byte{
		[]byte("first packet"),
		[]byte("second"),
		[]byte("the third and longest of them"),
	}
	capturePackets(t, dir, payloads)

	playback, err := NewPlayback(PlaybackConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewPlayback: %v", err)
	}
	source, err := playback.Open(t.Context())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer source.Close()

	buf := make([]byte, 1500)
	for i, want := range payloads {
		n, err := source.ReadPacket(buf)
		if err != nil {
			t.Fatalf("ReadPacket(%d): %v", i, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("packet %d = %q, want %q", i, buf[:n], want)
		}
	}
	if _, err := source.ReadPacket(buf); err != io.EOF {
		t.Fatalf("expected io.EOF after last packet, got %v", err)
	}
}

func TestAppendBeforeStart(t *testing.T) {
	writer, err := NewWriter(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.TryAppend(1, []byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestAppendAfterClose(t *testing.T) {
	writer, err := NewWriter(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.TryAppend(1, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCorruptedPayloadDetected(t *testing.T) {
	dir := t.TempDir()
	capturePackets(t, dir, [][]byte{[]byte("pristine payload")})

	files, err := filepath.Glob(filepath.Join(dir, "cap-*"+fileExtension))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one segment file, got %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	data[recordHeaderSize] ^= 0xff // flip a payload byte
	if err := os.WriteFile(files[0], data, 0o644); err != nil {
		t.Fatalf("rewrite segment: %v", err)
	}

	reader := NewReader(bytes.NewReader(data), ReaderOptions{})
	if _, _, err := reader.Next(); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	skipping := NewReader(bytes.NewReader(data), ReaderOptions{DisableChecksum: true})
	if _, _, err := skipping.Next(); err != nil {
		t.Fatalf("DisableChecksum should accept the record, got %v", err)
	}
}

func TestPlaybackSpansSegments(t *testing.T) {
	dir := t.TempDir()
	// Tiny segment cap forces one file per record.
	writer, err := NewWriter(Config{Dir: dir, SegmentMaxBytes: 64})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	payloads := [][]byte{[]byte("segment one"), []byte("segment two")}
	for i, payload := range payloads {
		if err := writer.TryAppend(uint64(i+1), payload); err != nil {
			t.Fatalf("TryAppend(%d): %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "cap-*"+fileExtension))
	if err != nil || len(files) != 2 {
		t.Fatalf("expected two segment files, got %v (%v)", files, err)
	}

	playback, err := NewPlayback(PlaybackConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewPlayback: %v", err)
	}
	source, err := playback.Open(t.Context())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer source.Close()

	buf := make([]byte, 1500)
	for i, want := range payloads {
		n, err := source.ReadPacket(buf)
		if err != nil {
			t.Fatalf("ReadPacket(%d): %v", i, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("packet %d = %q, want %q", i, buf[:n], want)
		}
	}
	if _, err := source.ReadPacket(buf); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, recordHeaderSize)
	want := PacketHeader{Sequence: 987654, CapturedAt: 1_755_700_000_000_000_000}
	encodeHeader(buf, want, 42)

	got, payloadLen, err := decodeRecordHeader(buf)
	if err != nil {
		t.Fatalf("decodeRecordHeader: %v", err)
	}
	if got != want || payloadLen != 42 {
		t.Fatalf("decoded %+v len %d, want %+v len 42", got, payloadLen, want)
	}

	buf[0] = 'X'
	if _, _, err := decodeRecordHeader(buf); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}
