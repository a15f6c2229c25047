package hci

import "fmt"

// CommandPacket is an HCI command: a 16-bit opcode, a one-byte parameter
// length and up to 255 bytes of parameters.
type CommandPacket struct {
	view PacketView
	tier *bufferTier
}

// NewCommandPacket allocates a command packet and writes its header.
func NewCommandPacket(opcode uint16, payloadSize int) (*CommandPacket, error) {
	if payloadSize > MaxCommandPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf, tier, err := commandBufferPool.acquire(payloadSize)
	if err != nil {
		return nil, err
	}
	p := &CommandPacket{
		view: NewPacketView(CommandHeaderSize, buf, payloadSize),
		tier: tier,
	}
	p.view.putHeaderUint16(0, opcode)
	p.view.Header()[2] = byte(payloadSize)
	return p, nil
}

// Opcode returns the little-endian decoded command opcode.
func (p *CommandPacket) Opcode() uint16 { return p.view.headerUint16(0) }

// ParamTotalSize returns the header's declared parameter length.
func (p *CommandPacket) ParamTotalSize() uint8 { return p.view.Header()[2] }

// View returns the packet's byte view.
func (p *CommandPacket) View() *PacketView { return &p.view }

// Payload returns the mutable parameter region.
func (p *CommandPacket) Payload() []byte { return p.view.Payload() }

// Data returns the full wire image, header included.
func (p *CommandPacket) Data() []byte { return p.view.Data() }

// Release returns the backing buffer to its pool. The packet must not be
// used afterwards.
func (p *CommandPacket) Release() {
	if p.tier != nil {
		p.tier.put(p.view.buf)
		p.tier = nil
	}
}

func (p *CommandPacket) String() string {
	return fmt.Sprintf("hci command 0x%04X (%d bytes)", p.Opcode(), p.view.PayloadSize())
}
