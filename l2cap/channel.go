package l2cap

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/btleaf/bthost/hci"
)

// Fixed channel identifiers [Vol 3, Part A, 2.1].
const (
	cidSignalingBREDR  = 0x0001
	CIDAttribute       = 0x0004
	cidSignalingLE     = 0x0005
	CIDSecurityManager = 0x0006

	minDynamicCID = 0x0040
	maxDynamicCID = 0xffff
)

// basicHeaderSize is the B-frame header: length u16 + channel id u16.
const basicHeaderSize = 4

const (
	defaultMTU   = 672
	leDefaultMTU = 23
)

// Channel is one logical L2CAP channel multiplexed over a physical link.
type Channel struct {
	link *link

	localCID  uint16
	remoteCID uint16
	psm       uint16
	mtu       uint16

	mu        sync.Mutex
	rxHandler func([]byte)
	secCb     func(SecurityProperties)
	closed    bool
}

// ID returns the channel's local identifier.
func (c *Channel) ID() uint16 { return c.localCID }

// RemoteID returns the channel identifier used by the peer.
func (c *Channel) RemoteID() uint16 { return c.remoteCID }

// Handle returns the connection handle of the underlying physical link.
func (c *Channel) Handle() uint16 { return c.link.handle }

// PSM returns the protocol/service multiplexer for dynamic channels, zero
// for fixed ones.
func (c *Channel) PSM() uint16 { return c.psm }

// MTU returns the largest SDU the peer accepts on this channel.
func (c *Channel) MTU() uint16 { return c.mtu }

// SetReceiveHandler installs the consumer for inbound SDUs. Data arriving
// before a handler is installed is dropped.
func (c *Channel) SetReceiveHandler(f func([]byte)) {
	c.mu.Lock()
	c.rxHandler = f
	c.mu.Unlock()
}

// OnSecurityChange installs a callback invoked when the link's security
// properties change.
func (c *Channel) OnSecurityChange(f func(SecurityProperties)) {
	c.mu.Lock()
	c.secCb = f
	c.mu.Unlock()
}

// RequestSecurityUpgrade asks the owner of the physical link to raise its
// security level. The outcome is reported through OnSecurityChange once the
// link's properties are reassigned.
func (c *Channel) RequestSecurityUpgrade(level SecurityLevel) {
	if c.link.securityCb != nil {
		c.link.securityCb(c.link.handle, level)
	}
}

// Send queues one SDU for transmission.
func (c *Channel) Send(b []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("channel closed")
	}
	c.mu.Unlock()
	if len(b) > int(c.mtu) {
		return errors.Errorf("sdu of %d bytes exceeds channel mtu %d", len(b), c.mtu)
	}
	return c.link.queuePDU(c.remoteCID, b)
}

// Close tears the channel down. Dynamic channels additionally run the
// disconnect handshake with the peer.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.psm != 0 {
		c.link.disconnectChannel(c)
	}
	c.link.removeChannel(c.localCID)
}

func (c *Channel) deliver(b []byte) {
	c.mu.Lock()
	f := c.rxHandler
	c.mu.Unlock()
	if f != nil {
		f(b)
	}
}

func (c *Channel) securityChanged(p SecurityProperties) {
	c.mu.Lock()
	f := c.secCb
	c.mu.Unlock()
	if f != nil {
		f(p)
	}
}

// link is one physical ACL or LE connection carrying multiplexed channels.
// It implements hci.ACLConnection.
type link struct {
	mgr      *manager
	handle   uint16
	linkType hci.LinkType
	role     ConnectionRole

	errCb         func(error)
	paramUpdateCb func(ConnectionParameters)
	securityCb    SecurityUpgradeCallback

	mu       sync.Mutex
	channels map[uint16]*Channel
	security SecurityProperties
	outbound []*hci.ACLDataPacket

	nextSigID  uint8
	pendingSig map[uint8]func(code uint8, payload []byte)

	// recombination state for the in-flight inbound PDU
	rxBuf      []byte
	rxExpected int
}

func newLink(mgr *manager, handle uint16, lt hci.LinkType, role ConnectionRole, errCb func(error)) *link {
	return &link{
		mgr:        mgr,
		handle:     handle,
		linkType:   lt,
		role:       role,
		errCb:      errCb,
		channels:   make(map[uint16]*Channel),
		nextSigID:  1,
		pendingSig: make(map[uint8]func(uint8, []byte)),
	}
}

// Handle implements hci.ACLConnection.
func (l *link) Handle() uint16 { return l.handle }

// LinkType implements hci.ACLConnection.
func (l *link) LinkType() hci.LinkType { return l.linkType }

// GetNextOutboundPacket implements hci.ACLConnection.
func (l *link) GetNextOutboundPacket() *hci.ACLDataPacket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.outbound) == 0 {
		return nil
	}
	pkt := l.outbound[0]
	l.outbound = l.outbound[1:]
	return pkt
}

// ReceiveInboundPacket implements hci.ACLConnection. Fragments are
// recombined into complete PDUs and routed by channel id.
func (l *link) ReceiveInboundPacket(pkt *hci.ACLDataPacket) {
	pbf := pkt.PacketBoundaryFlag()
	payload := pkt.Payload()

	l.mu.Lock()
	switch pbf {
	case hci.PbfContinuingFragment:
		if l.rxBuf == nil {
			l.mu.Unlock()
			pkt.Release()
			l.mgr.log.Warnf("l2cap: continuation fragment with no pdu in progress on 0x%04X", l.handle)
			return
		}
		l.rxBuf = append(l.rxBuf, payload...)
	default:
		if l.rxBuf != nil {
			l.mgr.log.Warnf("l2cap: new pdu interrupts recombination on 0x%04X, dropping partial", l.handle)
		}
		if len(payload) < basicHeaderSize {
			l.rxBuf, l.rxExpected = nil, 0
			l.mu.Unlock()
			pkt.Release()
			l.mgr.log.Warnf("l2cap: first fragment of %d bytes is shorter than the basic header", len(payload))
			return
		}
		l.rxExpected = basicHeaderSize + int(uint16(payload[0])|uint16(payload[1])<<8)
		l.rxBuf = append([]byte(nil), payload...)
	}
	done := len(l.rxBuf) >= l.rxExpected
	var pdu []byte
	if done {
		if len(l.rxBuf) > l.rxExpected {
			l.mgr.log.Warnf("l2cap: pdu on 0x%04X carries %d bytes beyond its declared length, truncating",
				l.handle, len(l.rxBuf)-l.rxExpected)
		}
		pdu = l.rxBuf[:l.rxExpected]
		l.rxBuf, l.rxExpected = nil, 0
	}
	l.mu.Unlock()
	pkt.Release()

	if done {
		l.routePDU(pdu)
	}
}

// OnLinkError implements hci.ACLConnection.
func (l *link) OnLinkError(err error) {
	l.mu.Lock()
	chs := make([]*Channel, 0, len(l.channels))
	for _, c := range l.channels {
		chs = append(chs, c)
	}
	l.channels = make(map[uint16]*Channel)
	l.mu.Unlock()

	for _, c := range chs {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	}
	if l.errCb != nil {
		l.errCb(err)
	}
}

func (l *link) routePDU(pdu []byte) {
	cid := uint16(pdu[2]) | uint16(pdu[3])<<8
	payload := pdu[basicHeaderSize:]

	if cid == l.signalingCID() {
		l.mgr.handleSignal(l, payload)
		return
	}

	l.mu.Lock()
	ch, ok := l.channels[cid]
	l.mu.Unlock()
	if !ok {
		l.mgr.log.Warnf("l2cap: dropping pdu for unknown cid 0x%04X on handle 0x%04X", cid, l.handle)
		return
	}
	ch.deliver(payload)
}

func (l *link) signalingCID() uint16 {
	if l.linkType == hci.LinkTypeLE {
		return cidSignalingLE
	}
	return cidSignalingBREDR
}

// queuePDU wraps a payload in a B-frame header, fragments it to the
// controller's ACL payload size and queues the fragments for transmission.
func (l *link) queuePDU(cid uint16, payload []byte) error {
	frame := make([]byte, basicHeaderSize+len(payload))
	frame[0] = byte(len(payload))
	frame[1] = byte(len(payload) >> 8)
	frame[2] = byte(cid)
	frame[3] = byte(cid >> 8)
	copy(frame[basicHeaderSize:], payload)

	frag := int(l.mgr.acl.BufferInfoFor(l.linkType).MaxDataLength)
	if frag == 0 {
		return errors.New("acl data channel not initialized")
	}

	var pkts []*hci.ACLDataPacket
	pbf := uint8(hci.PbfFirstNonFlushable)
	for len(frame) > 0 {
		n := len(frame)
		if n > frag {
			n = frag
		}
		pkt, err := hci.NewACLDataPacketWithHeader(l.handle, pbf, 0, n)
		if err != nil {
			for _, p := range pkts {
				p.Release()
			}
			return errors.Wrap(err, "can't allocate acl packet")
		}
		copy(pkt.Payload(), frame[:n])
		pkts = append(pkts, pkt)
		frame = frame[n:]
		pbf = hci.PbfContinuingFragment
	}

	l.mu.Lock()
	l.outbound = append(l.outbound, pkts...)
	l.mu.Unlock()

	l.mgr.acl.OnOutboundPacketReadable()
	return nil
}

// sendSignal queues a signaling command and, when completion is non-nil,
// records it against the command's identifier for the matching response.
func (l *link) sendSignal(s sigCmd, completion func(code uint8, payload []byte)) error {
	l.mu.Lock()
	id := l.nextSigID
	l.nextSigID++
	if l.nextSigID == 0 {
		l.nextSigID = 1
	}
	if completion != nil {
		l.pendingSig[id] = completion
	}
	l.mu.Unlock()

	return l.queuePDU(l.signalingCID(), marshalSignal(id, s))
}

// respondSignal queues a signaling response reusing the request identifier.
func (l *link) respondSignal(id uint8, s sigCmd) error {
	return l.queuePDU(l.signalingCID(), marshalSignal(id, s))
}

func (l *link) takePendingSig(id uint8) func(uint8, []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.pendingSig[id]
	if !ok {
		return nil
	}
	delete(l.pendingSig, id)
	return f
}

func (l *link) addChannel(c *Channel) {
	l.mu.Lock()
	l.channels[c.localCID] = c
	l.mu.Unlock()
}

func (l *link) removeChannel(cid uint16) {
	l.mu.Lock()
	delete(l.channels, cid)
	l.mu.Unlock()
}

func (l *link) channelByLocalCID(cid uint16) *Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channels[cid]
}

func (l *link) nextDynamicCID() (uint16, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for cid := minDynamicCID; cid <= maxDynamicCID; cid++ {
		if _, ok := l.channels[uint16(cid)]; !ok {
			return uint16(cid), nil
		}
	}
	return 0, errors.New("no free dynamic cid")
}

func (l *link) disconnectChannel(c *Channel) {
	req := &DisconnectRequest{DestinationCID: c.remoteCID, SourceCID: c.localCID}
	if err := l.sendSignal(req, func(uint8, []byte) {}); err != nil {
		l.mgr.log.Warnf("l2cap: can't send disconnect for cid 0x%04X: %s", c.localCID, err)
	}
}
