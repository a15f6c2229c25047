package hci

import (
	"fmt"

	"github.com/pkg/errors"
)

// ScoDataPacket is an HCI synchronous data packet. The header packs handle
// (12 bits) and packet status flag (2 bits) the way ACL packs its flags, but
// the length field is a single byte and the payload maximum is much lower
// [Vol 4, Part E, 5.4.3].
type ScoDataPacket struct {
	view PacketView
	tier *bufferTier
}

// NewScoDataPacket allocates a synchronous data packet sized for payloadSize
// bytes.
func NewScoDataPacket(payloadSize int) (*ScoDataPacket, error) {
	if payloadSize > MaxScoPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf, tier, err := scoBufferPool.acquire(payloadSize)
	if err != nil {
		return nil, err
	}
	return &ScoDataPacket{
		view: NewPacketView(ScoDataHeaderSize, buf, payloadSize),
		tier: tier,
	}, nil
}

// WriteHeader writes the header for a host-to-controller packet. The packet
// status flag is always zero in that direction, only the controller reports
// erroneous data.
func (p *ScoDataPacket) WriteHeader(handle uint16) {
	if handle > maxConnectionHandle {
		panic(fmt.Sprintf("hci: connection handle 0x%04X exceeds 12 bits", handle))
	}
	p.view.putHeaderUint16(0, handle)
	p.view.Header()[2] = byte(p.view.PayloadSize())
}

// InitFromBuffer resizes the payload to the length the just-read header
// declares.
func (p *ScoDataPacket) InitFromBuffer() error {
	declared := int(p.view.Header()[2])
	if declared > p.view.Capacity() {
		return errors.Wrapf(ErrMalformedPacket, "sco declares %d bytes, buffer holds %d", declared, p.view.Capacity())
	}
	p.view.Resize(declared)
	return nil
}

// ConnectionHandle returns the 12-bit connection handle.
func (p *ScoDataPacket) ConnectionHandle() uint16 {
	return p.view.headerUint16(0) & maxConnectionHandle
}

// PacketStatusFlag returns the controller's 2-bit received-data status.
func (p *ScoDataPacket) PacketStatusFlag() uint8 {
	return uint8(p.view.headerUint16(0)>>12) & 0x03
}

// DataTotalLength returns the header's declared payload length.
func (p *ScoDataPacket) DataTotalLength() uint8 { return p.view.Header()[2] }

// View returns the packet's byte view.
func (p *ScoDataPacket) View() *PacketView { return &p.view }

// Payload returns the mutable payload region.
func (p *ScoDataPacket) Payload() []byte { return p.view.Payload() }

// Data returns the full wire image, header included.
func (p *ScoDataPacket) Data() []byte { return p.view.Data() }

// Release returns the backing buffer to its pool.
func (p *ScoDataPacket) Release() {
	if p.tier != nil {
		p.tier.put(p.view.buf)
		p.tier = nil
	}
}
