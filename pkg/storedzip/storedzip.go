// Package storedzip writes ZIP archives whose entries are all stored without compression.
//
// Entries are laid out strictly in the order given: the first entry's local header always
// starts at offset zero, which EPUB readers rely on to sniff the mimetype entry.
package storedzip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	localHeaderSignature   = 0x04034b50
	centralHeaderSignature = 0x02014b50
	endRecordSignature     = 0x06054b50

	localHeaderLen   = 30
	centralHeaderLen = 46
	endRecordLen     = 22

	// version 1.0 is sufficient for stored entries without directories or zip64.
	zipVersion  = 10
	methodStore = 0
)

// ErrTooLarge is returned when an entry or the archive exceeds the limits of the non-zip64
// format.
var ErrTooLarge = errors.New("storedzip: archive exceeds zip32 limits")

// File is a named blob to be placed in the archive.
type File struct {
	Name     string
	Data     []byte
	Modified time.Time // Zero value means 1980-01-01.
}

// Write encodes files into a single ZIP stream.  Local headers and data are appended to one
// buffer while the matching central directory records are collected in a second, the two are
// joined by the end of central directory record.
func Write(files []File) ([]byte, error) {
	if len(files) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d entries", ErrTooLarge, len(files))
	}
	var body, central []byte
	for _, f := range files {
		if f.Name == "" {
			return nil, errors.New("storedzip: entry name is empty")
		}
		if len(f.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: name of %d bytes", ErrTooLarge, len(f.Name))
		}
		if uint64(len(f.Data)) >= math.MaxUint32 {
			return nil, fmt.Errorf("%w: %q is %d bytes", ErrTooLarge, f.Name, len(f.Data))
		}
		offset := uint64(len(body))
		if offset >= math.MaxUint32 {
			return nil, fmt.Errorf("%w: %q starts at offset %d", ErrTooLarge, f.Name, offset)
		}
		h := header{
			name:   f.Name,
			crc:    Checksum(f.Data),
			size:   uint32(len(f.Data)),
			offset: uint32(offset),
		}
		h.time, h.date = dosDateTime(f.Modified)
		body = h.appendLocal(body)
		body = append(body, f.Data...)
		central = h.appendCentral(central)
	}
	if uint64(len(body)) >= math.MaxUint32 || uint64(len(central)) >= math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body)+len(central))
	}

	out := make([]byte, 0, len(body)+len(central)+endRecordLen)
	out = append(out, body...)
	out = append(out, central...)
	out = appendEndRecord(out, len(files), uint32(len(central)), uint32(len(body)))
	return out, nil
}

// header holds the fields shared by an entry's local and central headers.
type header struct {
	name   string
	crc    uint32
	size   uint32
	offset uint32
	time   uint16
	date   uint16
}

func (h *header) appendLocal(b []byte) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, localHeaderSignature)
	b = le.AppendUint16(b, zipVersion) // version needed to extract
	b = le.AppendUint16(b, 0)          // general purpose flags
	b = le.AppendUint16(b, methodStore)
	b = le.AppendUint16(b, h.time)
	b = le.AppendUint16(b, h.date)
	b = le.AppendUint32(b, h.crc)
	b = le.AppendUint32(b, h.size) // compressed
	b = le.AppendUint32(b, h.size) // uncompressed
	b = le.AppendUint16(b, uint16(len(h.name)))
	b = le.AppendUint16(b, 0) // extra field length
	return append(b, h.name...)
}

func (h *header) appendCentral(b []byte) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, centralHeaderSignature)
	b = le.AppendUint16(b, zipVersion) // version made by
	b = le.AppendUint16(b, zipVersion) // version needed to extract
	b = le.AppendUint16(b, 0)          // general purpose flags
	b = le.AppendUint16(b, methodStore)
	b = le.AppendUint16(b, h.time)
	b = le.AppendUint16(b, h.date)
	b = le.AppendUint32(b, h.crc)
	b = le.AppendUint32(b, h.size)
	b = le.AppendUint32(b, h.size)
	b = le.AppendUint16(b, uint16(len(h.name)))
	b = le.AppendUint16(b, 0) // extra field length
	b = le.AppendUint16(b, 0) // comment length
	b = le.AppendUint16(b, 0) // disk number start
	b = le.AppendUint16(b, 0) // internal attributes
	b = le.AppendUint32(b, 0) // external attributes
	b = le.AppendUint32(b, h.offset)
	return append(b, h.name...)
}

func appendEndRecord(b []byte, entries int, centralSize, centralOffset uint32) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, endRecordSignature)
	b = le.AppendUint16(b, 0) // number of this disk
	b = le.AppendUint16(b, 0) // disk holding the central directory
	b = le.AppendUint16(b, uint16(entries))
	b = le.AppendUint16(b, uint16(entries))
	b = le.AppendUint32(b, centralSize)
	b = le.AppendUint32(b, centralOffset)
	return le.AppendUint16(b, 0) // comment length
}

// dosDateTime converts t to MS-DOS time and date fields, clamping to the 1980-2107 range.
func dosDateTime(t time.Time) (dosTime, dosDate uint16) {
	if t.IsZero() || t.Year() < 1980 {
		return 0, 1<<5 | 1
	}
	if t.Year() > 2107 {
		t = time.Date(2107, time.December, 31, 23, 59, 58, 0, time.UTC)
	}
	dosDate = uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
	dosTime = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	return dosTime, dosDate
}
