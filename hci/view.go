package hci

import (
	"encoding/binary"
	"fmt"
)

// PacketView is a non-owning window over a packet backing buffer, split into
// a fixed-size header region and a variable-size payload region. All
// multi-byte header fields are little-endian on the wire; the helpers below
// convert on access so callers never touch byte order directly.
type PacketView struct {
	hdrSize     int
	payloadSize int
	buf         []byte
}

// NewPacketView creates a view over buf. payloadSize must fit in the buffer
// capacity past the header, violating that is a caller bug.
func NewPacketView(hdrSize int, buf []byte, payloadSize int) PacketView {
	if hdrSize < 0 || hdrSize > len(buf) {
		panic(fmt.Sprintf("hci: view header size %d exceeds buffer %d", hdrSize, len(buf)))
	}
	v := PacketView{hdrSize: hdrSize, buf: buf}
	v.Resize(payloadSize)
	return v
}

// HeaderSize returns the fixed header size in bytes.
func (v *PacketView) HeaderSize() int { return v.hdrSize }

// PayloadSize returns the declared payload size in bytes.
func (v *PacketView) PayloadSize() int { return v.payloadSize }

// Size returns header size plus declared payload size.
func (v *PacketView) Size() int { return v.hdrSize + v.payloadSize }

// Capacity returns the largest payload the backing buffer can hold.
func (v *PacketView) Capacity() int { return len(v.buf) - v.hdrSize }

// Header returns the fixed header region.
func (v *PacketView) Header() []byte { return v.buf[:v.hdrSize] }

// Payload returns the declared payload region.
func (v *PacketView) Payload() []byte {
	return v.buf[v.hdrSize : v.hdrSize+v.payloadSize]
}

// Data returns header plus declared payload as one slice.
func (v *PacketView) Data() []byte { return v.buf[:v.Size()] }

// Resize sets the declared payload size. Growing past the backing capacity
// is a caller bug.
func (v *PacketView) Resize(payloadSize int) {
	if payloadSize < 0 || payloadSize > v.Capacity() {
		panic(fmt.Sprintf("hci: view resize to %d exceeds capacity %d", payloadSize, v.Capacity()))
	}
	v.payloadSize = payloadSize
}

// CopyPayload copies the declared payload into dst and returns the number of
// bytes copied.
func (v *PacketView) CopyPayload(dst []byte) int {
	return copy(dst, v.Payload())
}

// FillPayload sets every declared payload byte to b.
func (v *PacketView) FillPayload(b byte) {
	p := v.Payload()
	for i := range p {
		p[i] = b
	}
}

func (v *PacketView) headerUint16(offset int) uint16 {
	return binary.LittleEndian.Uint16(v.buf[offset : offset+2])
}

func (v *PacketView) putHeaderUint16(offset int, val uint16) {
	binary.LittleEndian.PutUint16(v.buf[offset:offset+2], val)
}
