package hci

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/btleaf/bthost"
)

// BufferInfo is a controller data buffer capacity report: how large one
// packet may be and how many may be in flight at once.
type BufferInfo struct {
	MaxDataLength int
	MaxNumPackets int
}

func (i BufferInfo) isZero() bool { return i.MaxDataLength == 0 && i.MaxNumPackets == 0 }

// LinkType selects which controller buffer pool a link draws from. BR/EDR
// and LE links are flow controlled independently when the controller has
// dedicated LE buffers.
type LinkType uint8

const (
	LinkTypeBREDR LinkType = 0x00
	LinkTypeLE    LinkType = 0x01
)

// ACLConnection is one registered logical link's packet source and sink.
type ACLConnection interface {
	Handle() uint16
	LinkType() LinkType

	// GetNextOutboundPacket returns the next queued packet or nil. It is
	// invoked with the channel's internal lock held and must not call
	// back into the ACLDataChannel.
	GetNextOutboundPacket() *ACLDataPacket

	// ReceiveInboundPacket hands an inbound packet to the link. The link
	// owns the packet and releases it when done.
	ReceiveInboundPacket(*ACLDataPacket)

	// OnLinkError reports a channel failure affecting this link.
	OnLinkError(error)
}

type aclPending struct {
	count int
	lt    LinkType
}

// ACLDataChannel multiplexes registered logical links over the ACL data
// channel under controller packet-count flow control [Vol 4, Part E, 4.1.1].
type ACLDataChannel struct {
	rwc io.ReadWriteCloser
	cmd *CommandChannel
	log bthost.Logger

	bredrInfo BufferInfo
	leInfo    BufferInfo
	shared    bool

	mu      sync.Mutex
	links   map[uint16]ACLConnection
	order   []uint16
	pending map[uint16]*aclPending

	nocpID HandlerID
	errCb  func(error)

	cmu  sync.Mutex
	done chan struct{}
}

// NewACLDataChannel starts an ACL data channel engine. When the controller
// reports no dedicated LE buffers the BR/EDR pool is shared, matching the
// controller's own accounting.
func NewACLDataChannel(rwc io.ReadWriteCloser, cmd *CommandChannel, bredrInfo, leInfo BufferInfo, log bthost.Logger, errCb func(error)) *ACLDataChannel {
	shared := leInfo.isZero()
	if shared {
		leInfo = bredrInfo
	}
	a := &ACLDataChannel{
		rwc:       rwc,
		cmd:       cmd,
		log:       log,
		bredrInfo: bredrInfo,
		leInfo:    leInfo,
		shared:    shared,
		links:     make(map[uint16]ACLConnection),
		pending:   make(map[uint16]*aclPending),
		errCb:     errCb,
		done:      make(chan struct{}),
	}
	a.nocpID = cmd.AddEventHandler(NumberOfCompletedPacketsCode, a.handleNumberOfCompletedPackets)
	go a.readLoop()
	return a
}

// BufferInfoFor reports the buffer info backing one link type's pool.
func (a *ACLDataChannel) BufferInfoFor(lt LinkType) BufferInfo {
	if lt == LinkTypeLE {
		return a.leInfo
	}
	return a.bredrInfo
}

// RegisterLink adds a logical link. Registering a handle twice is a caller
// bug.
func (a *ACLDataChannel) RegisterLink(conn ACLConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := conn.Handle()
	if _, ok := a.links[h]; ok {
		panic(fmt.Sprintf("hci: acl link 0x%04X registered twice", h))
	}
	a.links[h] = conn
	a.order = append(a.order, h)
	a.trySendLocked()
}

// UnregisterLink removes a logical link. Pending packet counts survive so a
// late completion report can still be reconciled; they are cleared only by
// ClearControllerPacketCount.
func (a *ACLDataChannel) UnregisterLink(handle uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.links[handle]; !ok {
		return
	}
	delete(a.links, handle)
	for i, h := range a.order {
		if h == handle {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// ClearControllerPacketCount drops the pending count of an unregistered
// handle once the controller is known to never reference it again. Calling
// it for a still-registered handle is a caller bug.
func (a *ACLDataChannel) ClearControllerPacketCount(handle uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.links[handle]; ok {
		panic(fmt.Sprintf("hci: clearing packet count of registered acl link 0x%04X", handle))
	}
	delete(a.pending, handle)
	a.trySendLocked()
}

// OnOutboundPacketReadable hints that a registered link has data queued.
func (a *ACLDataChannel) OnOutboundPacketReadable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trySendLocked()
}

func (a *ACLDataChannel) pendingTotalLocked(lt LinkType) int {
	total := 0
	for _, p := range a.pending {
		if a.shared || p.lt == lt {
			total += p.count
		}
	}
	return total
}

func (a *ACLDataChannel) trySendLocked() {
	for _, h := range a.order {
		conn := a.links[h]
		lt := conn.LinkType()
		info := a.BufferInfoFor(lt)
		for a.pendingTotalLocked(lt) < info.MaxNumPackets {
			pkt := conn.GetNextOutboundPacket()
			if pkt == nil {
				break
			}
			data := pkt.Data()
			_, err := a.rwc.Write(data)
			pkt.Release()
			if err != nil {
				a.log.Error("acl write failed, dropping packet: ", err)
				continue
			}
			p, ok := a.pending[h]
			if !ok {
				p = &aclPending{lt: lt}
				a.pending[h] = p
			}
			p.count++
		}
	}
}

func (a *ACLDataChannel) handleNumberOfCompletedPackets(evt *EventPacket) {
	params := evt.Params()
	if len(params) < 1 {
		a.log.Warn("malformed number of completed packets event")
		return
	}
	numHandles := int(params[0])
	if len(params) < 1+numHandles*4 {
		a.log.Warn("truncated number of completed packets event")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < numHandles; i++ {
		handle := binary.LittleEndian.Uint16(params[1+i*4:]) & maxConnectionHandle
		completed := int(binary.LittleEndian.Uint16(params[3+i*4:]))

		p, ok := a.pending[handle]
		if !ok {
			// another flow-controlled channel's handle
			continue
		}
		if completed > p.count {
			a.log.Errorf("controller reported %d completions for 0x%04X, only %d in flight", completed, handle, p.count)
			completed = p.count
		}
		p.count -= completed
		if p.count == 0 {
			delete(a.pending, handle)
		}
	}
	a.trySendLocked()
}

func (a *ACLDataChannel) readLoop() {
	b := make([]byte, 1+ACLDataHeaderSize+MaxACLPayloadSize)
	for {
		n, err := a.rwc.Read(b)
		switch {
		case n == 0 && err == nil:
			if !a.isOpen() {
				return
			}
			continue
		case err != nil:
			if a.isOpen() {
				a.dispatchError(errors.Wrap(err, "acl channel read"))
			}
			return
		}

		if err := a.handleInbound(b[:n]); err != nil {
			a.log.Warn("dropping acl packet: ", err)
		}
	}
}

func (a *ACLDataChannel) handleInbound(b []byte) error {
	if len(b) < ACLDataHeaderSize {
		return errors.Wrap(ErrMalformedPacket, "acl packet shorter than header")
	}
	pkt, err := NewACLDataPacket(len(b) - ACLDataHeaderSize)
	if err != nil {
		return err
	}
	copy(pkt.view.buf, b)
	if err := pkt.InitFromBuffer(); err != nil {
		pkt.Release()
		return err
	}
	if int(pkt.DataTotalLength()) != len(b)-ACLDataHeaderSize {
		pkt.Release()
		return errors.Wrapf(ErrMalformedPacket, "acl declares %d bytes, received %d", pkt.DataTotalLength(), len(b)-ACLDataHeaderSize)
	}

	handle := pkt.ConnectionHandle()
	a.mu.Lock()
	conn, ok := a.links[handle]
	a.mu.Unlock()
	if !ok {
		pkt.Release()
		return errors.Errorf("no registered link for handle 0x%04X", handle)
	}
	conn.ReceiveInboundPacket(pkt)
	return nil
}

// Close stops the engine. The completed-packets handler is unregistered
// through the command channel first, so Close must run before the command
// channel's own teardown.
func (a *ACLDataChannel) Close() error {
	a.cmu.Lock()
	defer a.cmu.Unlock()

	select {
	case <-a.done:
		return nil
	default:
		close(a.done)
	}
	a.cmd.RemoveEventHandler(a.nocpID)

	a.mu.Lock()
	links := make([]ACLConnection, 0, len(a.links))
	for _, c := range a.links {
		links = append(links, c)
	}
	a.mu.Unlock()
	for _, c := range links {
		c.OnLinkError(ErrClosed)
	}
	return a.rwc.Close()
}

func (a *ACLDataChannel) isOpen() bool {
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

func (a *ACLDataChannel) dispatchError(e error) {
	if a.errCb != nil {
		a.errCb(e)
	} else {
		a.log.Error(e)
	}
}
