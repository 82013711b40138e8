// Package frame encodes the binary unit written to data connections on
// every broadcast: an optional 13 byte big-endian header followed by the
// raw image payload.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic marks the start of a header so stream clients can find frame
// boundaries.
const Magic uint32 = 299792458

// HeaderSize is magic(4) + payload size(4) + width(2) + height(2) + bit depth(1).
const HeaderSize = 13

var (
	ErrShortFrame = errors.New("frame: short frame")
	ErrBadMagic   = errors.New("frame: bad magic")
)

type Header struct {
	PayloadSize uint32
	Width       uint16
	Height      uint16
	BitDepth    uint8
}

// Encode builds one frame. Without a header the payload is returned as is.
func Encode(payload []byte, sendHeader bool, width, height uint16, bitDepth uint8) []byte {
	if !sendHeader {
		return payload
	}

	out := make([]byte, HeaderSize+len(payload))
	putHeader(out, Header{
		PayloadSize: uint32(len(payload)),
		Width:       width,
		Height:      height,
		BitDepth:    bitDepth,
	})
	copy(out[HeaderSize:], payload)
	return out
}

func putHeader(b []byte, h Header) {
	binary.BigEndian.PutUint32(b[0:4], Magic)
	binary.BigEndian.PutUint32(b[4:8], h.PayloadSize)
	binary.BigEndian.PutUint16(b[8:10], h.Width)
	binary.BigEndian.PutUint16(b[10:12], h.Height)
	b[12] = h.BitDepth
}

// ParseHeader reads a header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortFrame
	}
	if binary.BigEndian.Uint32(b[0:4]) != Magic {
		return Header{}, ErrBadMagic
	}
	return Header{
		PayloadSize: binary.BigEndian.Uint32(b[4:8]),
		Width:       binary.BigEndian.Uint16(b[8:10]),
		Height:      binary.BigEndian.Uint16(b[10:12]),
		BitDepth:    b[12],
	}, nil
}

// Decode splits a complete headered frame into header and payload.
func Decode(b []byte) (Header, []byte, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	end := HeaderSize + int(h.PayloadSize)
	if len(b) < end {
		return Header{}, nil, fmt.Errorf("%w: want %d payload bytes, have %d", ErrShortFrame, h.PayloadSize, len(b)-HeaderSize)
	}
	return h, b[HeaderSize:end], nil
}

// DefaultMaxPayload caps the payload size a Reader accepts, enough for a
// 4096x4096 frame at 32 bits per sample.
const DefaultMaxPayload = 64 << 20

// Reader pulls headered frames off a byte stream. Bytes before the next
// magic value are skipped, which is how a client joining mid-stream
// regains sync. A header announcing more than the maximum payload is taken
// to be payload bytes that happen to match the magic, and scanning goes on.
type Reader struct {
	r          *bufio.Reader
	skipped    int
	maxPayload uint32
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), maxPayload: DefaultMaxPayload}
}

// SetMaxPayload changes the largest payload Next will allocate for.
func (fr *Reader) SetMaxPayload(n uint32) {
	if n > 0 {
		fr.maxPayload = n
	}
}

// Skipped returns how many bytes were discarded while searching for magic.
func (fr *Reader) Skipped() int { return fr.skipped }

func (fr *Reader) Next() (Header, []byte, error) {
	var (
		window uint32
		h      Header
	)
	seen := 0
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return Header{}, nil, err
		}
		window = window<<8 | uint32(b)
		seen++
		if seen < 4 || window != Magic {
			continue
		}

		// Peek so a rejected header leaves its bytes to be scanned.
		rest, err := fr.r.Peek(HeaderSize - 4)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Header{}, nil, err
		}
		h = Header{
			PayloadSize: binary.BigEndian.Uint32(rest[0:4]),
			Width:       binary.BigEndian.Uint16(rest[4:6]),
			Height:      binary.BigEndian.Uint16(rest[6:8]),
			BitDepth:    rest[8],
		}
		if h.PayloadSize > fr.maxPayload {
			continue
		}
		fr.r.Discard(HeaderSize - 4)
		fr.skipped += seen - 4
		break
	}

	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return Header{}, nil, err
	}
	return h, payload, nil
}
