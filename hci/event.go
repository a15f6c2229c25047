package hci

import "github.com/pkg/errors"

// EventPacket is an HCI event: a one-byte event code, a one-byte parameter
// length and up to 255 bytes of parameters. Events are constructed empty,
// filled from a wire read, then finalized with InitFromBuffer.
type EventPacket struct {
	view PacketView
	tier *bufferTier
}

// NewEventPacket allocates an event packet sized to receive payloadSize
// parameter bytes. The header is left for the wire read to fill in.
func NewEventPacket(payloadSize int) (*EventPacket, error) {
	if payloadSize > MaxEventPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf, tier, err := eventBufferPool.acquire(payloadSize)
	if err != nil {
		return nil, err
	}
	return &EventPacket{
		view: NewPacketView(EventHeaderSize, buf, payloadSize),
		tier: tier,
	}, nil
}

// newEventFromWire copies a complete wire event (header included) into a
// pooled packet and finalizes it.
func newEventFromWire(b []byte) (*EventPacket, error) {
	if len(b) < EventHeaderSize {
		return nil, ErrMalformedPacket
	}
	p, err := NewEventPacket(len(b) - EventHeaderSize)
	if err != nil {
		return nil, err
	}
	copy(p.view.buf, b)
	if err := p.InitFromBuffer(); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

// InitFromBuffer resizes the payload to the length the just-read header
// declares. The declared length is authoritative after a wire read.
func (p *EventPacket) InitFromBuffer() error {
	declared := int(p.view.Header()[1])
	if declared > p.view.Capacity() {
		return errors.Wrapf(ErrMalformedPacket, "event declares %d bytes, buffer holds %d", declared, p.view.Capacity())
	}
	p.view.Resize(declared)
	return nil
}

// EventCode returns the raw event code byte.
func (p *EventPacket) EventCode() uint8 { return p.view.Header()[0] }

// DataTotalLength returns the header's declared parameter length.
func (p *EventPacket) DataTotalLength() uint8 { return p.view.Header()[1] }

// Params returns the full parameter region. Callers must confirm EventCode
// before interpreting the bytes.
func (p *EventPacket) Params() []byte { return p.view.Payload() }

// View returns the packet's byte view.
func (p *EventPacket) View() *PacketView { return &p.view }

// Data returns the full wire image, header included.
func (p *EventPacket) Data() []byte { return p.view.Data() }

// Release returns the backing buffer to its pool.
func (p *EventPacket) Release() {
	if p.tier != nil {
		p.tier.put(p.view.buf)
		p.tier = nil
	}
}

// Command Complete parameter prefix: NumHCICommandPackets (1) + opcode (2).
const commandCompletePrefixSize = 3

// ReturnParams returns the nested return parameters of a Command Complete
// event, or nil when the event is a different kind or the payload is too
// short for the fixed prefix.
func (p *EventPacket) ReturnParams() []byte {
	if p.EventCode() != CommandCompleteCode {
		return nil
	}
	params := p.Params()
	if len(params) < commandCompletePrefixSize {
		return nil
	}
	return params[commandCompletePrefixSize:]
}

// CommandCompleteOpcode returns the opcode a Command Complete event answers,
// false when the event is malformed or of a different kind.
func (p *EventPacket) CommandCompleteOpcode() (uint16, bool) {
	if p.EventCode() != CommandCompleteCode || p.view.PayloadSize() < commandCompletePrefixSize {
		return 0, false
	}
	params := p.Params()
	return uint16(params[1]) | uint16(params[2])<<8, true
}

// NumHCICommandPackets returns the command credit count carried by Command
// Complete and Command Status events, zero otherwise.
func (p *EventPacket) NumHCICommandPackets() uint8 {
	switch p.EventCode() {
	case CommandCompleteCode:
		if p.view.PayloadSize() >= 1 {
			return p.Params()[0]
		}
	case CommandStatusCode:
		if p.view.PayloadSize() >= 2 {
			return p.Params()[1]
		}
	}
	return 0
}

// SubeventCode returns the nested subevent code of an LE meta or vendor
// event, false for any other event code or an empty payload.
func (p *EventPacket) SubeventCode() (uint8, bool) {
	code := p.EventCode()
	if code != LEMetaEventCode && code != VendorEventCode {
		return 0, false
	}
	params := p.Params()
	if len(params) < 1 {
		return 0, false
	}
	return params[0], true
}

// SubeventParams returns the payload past the subevent code of an LE meta or
// vendor event, nil for any other event code or a payload too short for the
// prefix.
func (p *EventPacket) SubeventParams() []byte {
	if _, ok := p.SubeventCode(); !ok {
		return nil
	}
	return p.Params()[1:]
}

// statusEntry locates the status byte inside a known event's parameters.
type statusEntry struct {
	offset int // status byte offset within Params (or SubeventParams)
	minLen int // smallest parameter size that carries the status
}

// Events whose parameters carry a controller status code. An event code
// missing here yields "status not extracted" rather than a crash, malformed
// or unknown input from the controller must never take the process down.
var eventStatusTable = map[uint8]statusEntry{
	ConnectionCompleteCode:            {offset: 0, minLen: 11},
	DisconnectionCompleteCode:         {offset: 0, minLen: 4},
	EncryptionChangeCode:              {offset: 0, minLen: 4},
	CommandStatusCode:                 {offset: 0, minLen: 4},
	SynchronousConnectionCompleteCode: {offset: 0, minLen: 17},
}

var leSubeventStatusTable = map[uint8]statusEntry{
	LEConnectionCompleteSubCode:       {offset: 0, minLen: 18},
	LEConnectionUpdateCompleteSubCode: {offset: 0, minLen: 9},
}

// StatusCode extracts the controller status carried by this event. The
// second return is false when the payload is too small for the expected
// structure or the event (or subevent) code has no registered mapping.
func (p *EventPacket) StatusCode() (uint8, bool) {
	code := p.EventCode()
	switch code {
	case CommandCompleteCode:
		// status is the first return parameter byte
		rp := p.ReturnParams()
		if len(rp) < 1 {
			return 0, false
		}
		return rp[0], true

	case LEMetaEventCode:
		sub, ok := p.SubeventCode()
		if !ok {
			return 0, false
		}
		entry, ok := leSubeventStatusTable[sub]
		if !ok {
			return 0, false
		}
		sp := p.SubeventParams()
		if len(sp) < entry.minLen {
			return 0, false
		}
		return sp[entry.offset], true

	case VendorEventCode:
		// vendor subevents carry no standard status byte
		return 0, false
	}

	entry, ok := eventStatusTable[code]
	if !ok {
		return 0, false
	}
	params := p.Params()
	if len(params) < entry.minLen {
		return 0, false
	}
	return params[entry.offset], true
}

// Error converts the event's status into an error: nil on success,
// ErrCommand on a controller failure, ErrMalformedPacket when no status
// could be extracted.
func (p *EventPacket) Error() error {
	status, ok := p.StatusCode()
	if !ok {
		return errors.Wrapf(ErrMalformedPacket, "no status in event 0x%02X", p.EventCode())
	}
	if status == 0x00 {
		return nil
	}
	return ErrCommand(status)
}
