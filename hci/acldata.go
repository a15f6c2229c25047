package hci

import (
	"fmt"

	"github.com/pkg/errors"
)

// ACLDataPacket is an HCI ACL data packet. The first header field packs
// handle (12 bits), packet boundary flag (2 bits) and broadcast flag (2
// bits) into one little-endian 16-bit value, followed by a 16-bit data
// length [Vol 4, Part E, 5.4.2].
type ACLDataPacket struct {
	view PacketView
	tier *bufferTier
}

// NewACLDataPacket allocates an ACL data packet sized for payloadSize bytes.
// The header is left for either WriteHeader or a wire read.
func NewACLDataPacket(payloadSize int) (*ACLDataPacket, error) {
	if payloadSize > MaxACLPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf, tier, err := aclBufferPool.acquire(payloadSize)
	if err != nil {
		return nil, err
	}
	return &ACLDataPacket{
		view: NewPacketView(ACLDataHeaderSize, buf, payloadSize),
		tier: tier,
	}, nil
}

// NewACLDataPacketWithHeader allocates an ACL data packet and writes its
// header immediately.
func NewACLDataPacketWithHeader(handle uint16, pbf, bcf uint8, payloadSize int) (*ACLDataPacket, error) {
	p, err := NewACLDataPacket(payloadSize)
	if err != nil {
		return nil, err
	}
	p.WriteHeader(handle, pbf, bcf)
	return p, nil
}

// WriteHeader packs handle and flags into the first header field and records
// the current payload size in the length field. Out-of-range values are
// caller bugs.
func (p *ACLDataPacket) WriteHeader(handle uint16, pbf, bcf uint8) {
	if handle > maxConnectionHandle {
		panic(fmt.Sprintf("hci: connection handle 0x%04X exceeds 12 bits", handle))
	}
	if pbf > 0x03 || bcf > 0x03 {
		panic(fmt.Sprintf("hci: acl flags out of range (pbf 0x%02X, bcf 0x%02X)", pbf, bcf))
	}
	p.view.putHeaderUint16(0, handle|uint16(pbf)<<12|uint16(bcf)<<14)
	p.view.putHeaderUint16(2, uint16(p.view.PayloadSize()))
}

// InitFromBuffer resizes the payload to the length the just-read header
// declares.
func (p *ACLDataPacket) InitFromBuffer() error {
	declared := int(p.view.headerUint16(2))
	if declared > p.view.Capacity() {
		return errors.Wrapf(ErrMalformedPacket, "acl declares %d bytes, buffer holds %d", declared, p.view.Capacity())
	}
	p.view.Resize(declared)
	return nil
}

// ConnectionHandle returns the 12-bit connection handle.
func (p *ACLDataPacket) ConnectionHandle() uint16 {
	return p.view.headerUint16(0) & maxConnectionHandle
}

// PacketBoundaryFlag returns the 2-bit packet boundary flag.
func (p *ACLDataPacket) PacketBoundaryFlag() uint8 {
	return uint8(p.view.headerUint16(0)>>12) & 0x03
}

// BroadcastFlag returns the 2-bit broadcast flag.
func (p *ACLDataPacket) BroadcastFlag() uint8 {
	return uint8(p.view.headerUint16(0)>>14) & 0x03
}

// DataTotalLength returns the header's declared payload length.
func (p *ACLDataPacket) DataTotalLength() uint16 { return p.view.headerUint16(2) }

// View returns the packet's byte view.
func (p *ACLDataPacket) View() *PacketView { return &p.view }

// Payload returns the mutable payload region.
func (p *ACLDataPacket) Payload() []byte { return p.view.Payload() }

// Data returns the full wire image, header included.
func (p *ACLDataPacket) Data() []byte { return p.view.Data() }

// Release returns the backing buffer to its pool.
func (p *ACLDataPacket) Release() {
	if p.tier != nil {
		p.tier.put(p.view.buf)
		p.tier = nil
	}
}
