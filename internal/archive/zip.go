package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/iconidentify/likevault/internal/domain"
)

const (
	localHeaderSignature   = 0x04034b50
	centralHeaderSignature = 0x02014b50
	endOfCentralSignature  = 0x06054b50

	localHeaderLen   = 30
	centralHeaderLen = 46
	endOfCentralLen  = 22

	zipVersion  = 20
	methodStore = 0
)

// Entry is one file of an archive. Size and CRC32 describe Data.
type Entry struct {
	Name     string
	Data     []byte
	CRC32    uint32
	Size     uint32
	Modified time.Time
}

// NewEntry builds an Entry for data, computing its checksum and size.
func NewEntry(name string, data []byte, modified time.Time) Entry {
	return Entry{
		Name:     name,
		Data:     data,
		CRC32:    Checksum(data),
		Size:     uint32(len(data)),
		Modified: modified,
	}
}

// EncodedSize returns the exact length of the archive Encode produces for entries.
func EncodedSize(entries []Entry) int64 {
	var n int64
	for _, e := range entries {
		n += int64(localHeaderLen+len(e.Name)) + int64(len(e.Data))
		n += int64(centralHeaderLen + len(e.Name))
	}
	return n + endOfCentralLen
}

// Encode returns the stored (uncompressed) ZIP archive of entries.
func Encode(entries []Entry) ([]byte, error) {
	if err := validate(entries); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(int(EncodedSize(entries)))
	if _, err := write(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func validate(entries []Entry) error {
	if len(entries) > math.MaxUint16 {
		return fmt.Errorf("%d entries: %w", len(entries), domain.ErrArchiveTooLarge)
	}
	var offset int64
	for _, e := range entries {
		if len(e.Name) > math.MaxUint16 {
			return fmt.Errorf("entry name of %d bytes: %w", len(e.Name), domain.ErrArchiveTooLarge)
		}
		if int64(len(e.Data)) > math.MaxUint32 {
			return fmt.Errorf("entry %q: %w", e.Name, domain.ErrArchiveTooLarge)
		}
		if int64(e.Size) != int64(len(e.Data)) {
			return fmt.Errorf("entry %q: size %d does not match %d data bytes", e.Name, e.Size, len(e.Data))
		}
		offset += int64(localHeaderLen+len(e.Name)) + int64(len(e.Data))
	}
	centralSize := EncodedSize(entries) - offset - endOfCentralLen
	if offset > math.MaxUint32 || centralSize > math.MaxUint32 {
		return fmt.Errorf("archive of %d bytes: %w", offset+centralSize, domain.ErrArchiveTooLarge)
	}
	return nil
}

func write(w io.Writer, entries []Entry) (int64, error) {
	cw := &countWriter{w: w}
	offsets := make([]uint32, len(entries))

	for i, e := range entries {
		offsets[i] = uint32(cw.n)
		dosTime, dosDate := DOSDateTime(e.Modified)

		var hdr [localHeaderLen]byte
		b := writeBuf(hdr[:])
		b.uint32(localHeaderSignature)
		b.uint16(zipVersion)
		b.uint16(0) // flags
		b.uint16(methodStore)
		b.uint16(dosTime)
		b.uint16(dosDate)
		b.uint32(e.CRC32)
		b.uint32(e.Size) // compressed size equals size for stored entries
		b.uint32(e.Size)
		b.uint16(uint16(len(e.Name)))
		b.uint16(0) // extra length

		if _, err := cw.Write(hdr[:]); err != nil {
			return cw.n, fmt.Errorf("write local header %q: %w", e.Name, err)
		}
		if _, err := io.WriteString(cw, e.Name); err != nil {
			return cw.n, fmt.Errorf("write name %q: %w", e.Name, err)
		}
		if _, err := cw.Write(e.Data); err != nil {
			return cw.n, fmt.Errorf("write data %q: %w", e.Name, err)
		}
	}

	centralStart := cw.n
	for i, e := range entries {
		dosTime, dosDate := DOSDateTime(e.Modified)

		var hdr [centralHeaderLen]byte
		b := writeBuf(hdr[:])
		b.uint32(centralHeaderSignature)
		b.uint16(zipVersion) // version made by
		b.uint16(zipVersion) // version needed
		b.uint16(0)          // flags
		b.uint16(methodStore)
		b.uint16(dosTime)
		b.uint16(dosDate)
		b.uint32(e.CRC32)
		b.uint32(e.Size)
		b.uint32(e.Size)
		b.uint16(uint16(len(e.Name)))
		b.uint16(0) // extra length
		b.uint16(0) // comment length
		b.uint16(0) // disk number start
		b.uint16(0) // internal attributes
		b.uint32(0) // external attributes
		b.uint32(offsets[i])

		if _, err := cw.Write(hdr[:]); err != nil {
			return cw.n, fmt.Errorf("write central header %q: %w", e.Name, err)
		}
		if _, err := io.WriteString(cw, e.Name); err != nil {
			return cw.n, fmt.Errorf("write central name %q: %w", e.Name, err)
		}
	}
	centralSize := cw.n - centralStart

	var end [endOfCentralLen]byte
	b := writeBuf(end[:])
	b.uint32(endOfCentralSignature)
	b.uint16(0) // this disk
	b.uint16(0) // disk with central directory
	b.uint16(uint16(len(entries)))
	b.uint16(uint16(len(entries)))
	b.uint32(uint32(centralSize))
	b.uint32(uint32(centralStart))
	b.uint16(0) // comment length

	if _, err := cw.Write(end[:]); err != nil {
		return cw.n, fmt.Errorf("write end of central directory: %w", err)
	}
	return cw.n, nil
}

type writeBuf []byte

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
