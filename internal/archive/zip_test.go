package archive

import (
	stdzip "archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/likevault/internal/domain"
)

var testModified = time.Date(2025, time.February, 3, 10, 20, 30, 0, time.UTC)

func testEntries() []Entry {
	return []Entry{
		NewEntry("first.mp4", []byte("first video payload"), testModified),
		NewEntry("second.mp4", bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 1000), testModified),
		NewEntry("empty.mp4", nil, testModified),
	}
}

func TestNewEntry(t *testing.T) {
	e := NewEntry("a.mp4", []byte("abc"), testModified)

	if e.Size != 3 {
		t.Errorf("Size = %d, want 3", e.Size)
	}
	if e.CRC32 != 0x352441c2 {
		t.Errorf("CRC32 = %#x, want %#x", e.CRC32, uint32(0x352441c2))
	}
}

func TestEncode_ReadableByStandardReader(t *testing.T) {
	entries := testEntries()

	data, err := Encode(entries)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if int64(len(data)) != EncodedSize(entries) {
		t.Errorf("len = %d, EncodedSize = %d", len(data), EncodedSize(entries))
	}

	r, err := stdzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader failed: %v", err)
	}
	if len(r.File) != len(entries) {
		t.Fatalf("files = %d, want %d", len(r.File), len(entries))
	}

	for i, f := range r.File {
		want := entries[i]
		if f.Name != want.Name {
			t.Errorf("file %d name = %q, want %q", i, f.Name, want.Name)
		}
		if f.Method != stdzip.Store {
			t.Errorf("file %d method = %d, want stored", i, f.Method)
		}
		if f.CRC32 != crc32.ChecksumIEEE(want.Data) {
			t.Errorf("file %d crc = %#x, want %#x", i, f.CRC32, crc32.ChecksumIEEE(want.Data))
		}
		if !f.Modified.Equal(testModified) {
			t.Errorf("file %d modified = %v, want %v", i, f.Modified, testModified)
		}

		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %q: %v", f.Name, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %q: %v", f.Name, err)
		}
		if !bytes.Equal(got, want.Data) {
			t.Errorf("file %d contents differ", i)
		}
	}
}

func TestEncode_Layout(t *testing.T) {
	entries := testEntries()
	data, err := Encode(entries)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	le := binary.LittleEndian
	if sig := le.Uint32(data[0:]); sig != localHeaderSignature {
		t.Fatalf("local signature = %#x", sig)
	}
	if v := le.Uint16(data[4:]); v != 20 {
		t.Errorf("version needed = %d, want 20", v)
	}
	if m := le.Uint16(data[8:]); m != 0 {
		t.Errorf("method = %d, want 0", m)
	}

	end := data[len(data)-endOfCentralLen:]
	if sig := le.Uint32(end[0:]); sig != endOfCentralSignature {
		t.Fatalf("end signature = %#x", sig)
	}
	if n := le.Uint16(end[8:]); int(n) != len(entries) {
		t.Errorf("disk entries = %d, want %d", n, len(entries))
	}
	if n := le.Uint16(end[10:]); int(n) != len(entries) {
		t.Errorf("total entries = %d, want %d", n, len(entries))
	}

	centralSize := le.Uint32(end[12:])
	centralOffset := le.Uint32(end[16:])
	if int(centralOffset)+int(centralSize)+endOfCentralLen != len(data) {
		t.Errorf("central offset %d + size %d does not reach end record", centralOffset, centralSize)
	}

	// Second central record points at the second local header.
	wantOffset := uint32(localHeaderLen + len(entries[0].Name) + len(entries[0].Data))
	second := data[int(centralOffset)+centralHeaderLen+len(entries[0].Name):]
	if sig := le.Uint32(second[0:]); sig != centralHeaderSignature {
		t.Fatalf("central signature = %#x", sig)
	}
	if off := le.Uint32(second[42:]); off != wantOffset {
		t.Errorf("local header offset = %d, want %d", off, wantOffset)
	}
	if sig := le.Uint32(data[wantOffset:]); sig != localHeaderSignature {
		t.Errorf("no local header at recorded offset")
	}
}

func TestEncode_Empty(t *testing.T) {
	data, err := Encode(nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) != endOfCentralLen {
		t.Fatalf("len = %d, want %d", len(data), endOfCentralLen)
	}
	r, err := stdzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader failed: %v", err)
	}
	if len(r.File) != 0 {
		t.Errorf("files = %d, want 0", len(r.File))
	}
}

func TestWrite_CountsBytes(t *testing.T) {
	entries := testEntries()

	var buf bytes.Buffer
	n, err := write(&buf, entries)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if n != int64(buf.Len()) || n != EncodedSize(entries) {
		t.Errorf("n = %d, buffer = %d, EncodedSize = %d", n, buf.Len(), EncodedSize(entries))
	}
}

func TestEncode_Limits(t *testing.T) {
	t.Run("name too long", func(t *testing.T) {
		long := NewEntry(strings.Repeat("n", 1<<16), nil, testModified)
		_, err := Encode([]Entry{long})
		if !errors.Is(err, domain.ErrArchiveTooLarge) {
			t.Errorf("err = %v, want ErrArchiveTooLarge", err)
		}
	})

	t.Run("too many entries", func(t *testing.T) {
		entries := make([]Entry, 1<<16)
		_, err := Encode(entries)
		if !errors.Is(err, domain.ErrArchiveTooLarge) {
			t.Errorf("err = %v, want ErrArchiveTooLarge", err)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		e := NewEntry("x.mp4", []byte("abc"), testModified)
		e.Size = 10
		if _, err := Encode([]Entry{e}); err == nil {
			t.Error("expected error for size mismatch")
		}
	})
}

type failingWriter struct {
	after int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.after {
		return 0, errors.New("disk full")
	}
	w.n += len(p)
	return len(p), nil
}

func TestWrite_PropagatesWriterError(t *testing.T) {
	w := &failingWriter{after: 40}
	n, err := write(w, testEntries())
	if err == nil {
		t.Fatal("expected error")
	}
	if n != int64(w.n) {
		t.Errorf("n = %d, want %d", n, w.n)
	}
}
