package hci

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/btleaf/bthost"
)

// ScoConnection is one registered synchronous connection's packet source and
// sink. Only connections whose negotiated data path runs through the host
// belong here; an offloaded connection never touches this channel.
type ScoConnection interface {
	Handle() uint16
	Parameters() ScoConnectionParameters

	// GetNextOutboundPacket returns the next queued packet or nil. It is
	// invoked with the channel's internal lock held and must not call
	// back into the ScoDataChannel.
	GetNextOutboundPacket() *ScoDataPacket

	// ReceiveInboundPacket hands an inbound packet to the connection. The
	// connection owns the packet and releases it when done.
	ReceiveInboundPacket(*ScoDataPacket)

	// OnHciError reports a hardware or channel failure affecting this
	// connection. The channel unregisters the connection afterwards.
	OnHciError(error)
}

type scoConnState int

const (
	scoConnPending scoConnState = iota
	scoConnConfigured
)

type scoRegistration struct {
	conn  ScoConnection
	state scoConnState
	token *scoConfigToken
}

// scoConfigToken is a cancellable handle to the channel, shared with an
// in-flight hardware configure callback. The callback may fire on any
// goroutine and any time, including after the connection it belongs to is
// gone; firing through a cleared token is a no-op. The token is released
// exactly once, by the callback completing or by defuse, whichever comes
// first.
type scoConfigToken struct {
	mu     sync.Mutex
	ch     *ScoDataChannel
	handle uint16
	timer  *time.Timer
}

func (t *scoConfigToken) fire(err error) {
	t.mu.Lock()
	ch := t.ch
	t.ch = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if ch == nil {
		return
	}
	ch.postConfigResult(scoConfigResult{token: t, handle: t.handle, err: err})
}

func (t *scoConfigToken) defuse() {
	t.mu.Lock()
	t.ch = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

type scoConfigResult struct {
	token  *scoConfigToken
	handle uint16
	err    error
}

// ScoDataChannel multiplexes registered synchronous connections over the
// one physical synchronous channel. At most one connection is hardware
// configured at a time; every registration's outbound queue is still
// serviced, under the shared controller packet budget.
type ScoDataChannel struct {
	rwc    io.ReadWriteCloser
	device Device
	cmd    *CommandChannel
	log    bthost.Logger

	info BufferInfo

	mu       sync.Mutex
	regs     map[uint16]*scoRegistration
	order    []uint16 // insertion order, front is the active candidate
	active   *scoRegistration
	pending  map[uint16]int
	configTm time.Duration

	chConfigDone chan scoConfigResult
	nocpID       HandlerID
	errCb        func(error)

	cmu  sync.Mutex
	done chan struct{}
}

// NewScoDataChannel starts a synchronous data channel engine. configTimeout
// bounds the hardware configuration handshake; zero waits forever.
func NewScoDataChannel(rwc io.ReadWriteCloser, device Device, cmd *CommandChannel, info BufferInfo, configTimeout time.Duration, log bthost.Logger, errCb func(error)) *ScoDataChannel {
	s := &ScoDataChannel{
		rwc:          rwc,
		device:       device,
		cmd:          cmd,
		log:          log,
		info:         info,
		regs:         make(map[uint16]*scoRegistration),
		pending:      make(map[uint16]int),
		configTm:     configTimeout,
		chConfigDone: make(chan scoConfigResult, 1),
		errCb:        errCb,
		done:         make(chan struct{}),
	}
	s.nocpID = cmd.AddEventHandler(NumberOfCompletedPacketsCode, s.handleNumberOfCompletedPackets)
	go s.configLoop()
	go s.readLoop()
	return s
}

// RegisterConnection adds a synchronous connection and re-evaluates which
// connection the hardware should be configured for. Registering an
// offloaded connection or a duplicate handle is a caller bug.
func (s *ScoDataChannel) RegisterConnection(conn ScoConnection) {
	if conn.Parameters().Path != ScoDataPathHost {
		panic(fmt.Sprintf("hci: sco connection 0x%04X is not routed through the host", conn.Handle()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := conn.Handle()
	if _, ok := s.regs[h]; ok {
		panic(fmt.Sprintf("hci: sco connection 0x%04X registered twice", h))
	}
	s.regs[h] = &scoRegistration{conn: conn, state: scoConnPending}
	s.order = append(s.order, h)
	s.updateActiveLocked()
}

// UnregisterConnection removes a synchronous connection. Any in-flight
// configure callback for it is defused first, so a callback arriving later
// is guaranteed to be a no-op. Pending packet counts are deliberately left
// alone: the controller may still report completions for packets already
// sent. They are cleared by ClearControllerPacketCount once the handle is
// known dead.
func (s *ScoDataChannel) UnregisterConnection(handle uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(handle)
}

func (s *ScoDataChannel) unregisterLocked(handle uint16) {
	reg, ok := s.regs[handle]
	if !ok {
		return
	}
	if reg.token != nil {
		reg.token.defuse()
		reg.token = nil
	}
	delete(s.regs, handle)
	for i, h := range s.order {
		if h == handle {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == reg {
		s.active = nil
	}
	s.updateActiveLocked()
}

// ClearControllerPacketCount drops the pending count of an unregistered
// handle, freeing its in-flight budget for other connections. Calling it
// for a still-registered handle is a caller bug.
func (s *ScoDataChannel) ClearControllerPacketCount(handle uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.regs[handle]; ok {
		panic(fmt.Sprintf("hci: clearing packet count of registered sco connection 0x%04X", handle))
	}
	delete(s.pending, handle)
	s.trySendNextPacketsLocked()
}

// OnOutboundPacketReadable hints that a registered connection has data
// queued.
func (s *ScoDataChannel) OnOutboundPacketReadable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trySendNextPacketsLocked()
}

// MaxDataLength reports the controller's synchronous packet size limit.
func (s *ScoDataChannel) MaxDataLength() int { return s.info.MaxDataLength }

// updateActiveLocked applies the active-connection selection rule: keep the
// current active connection while it stays registered (reconfiguring
// hardware is expensive), otherwise pick the oldest registration, and with
// nothing registered ask the hardware to drop its configuration.
func (s *ScoDataChannel) updateActiveLocked() {
	if s.active != nil {
		if _, ok := s.regs[s.active.conn.Handle()]; ok {
			return
		}
		s.active = nil
	}

	if len(s.order) == 0 {
		log := s.log
		s.device.ResetSco(func(err error) {
			if err != nil {
				log.Warn("sco reset failed: ", err)
			}
		})
		return
	}

	reg := s.regs[s.order[0]]
	s.active = reg
	s.configureActiveLocked(reg)
}

// configureActiveLocked starts the asynchronous hardware configuration
// handshake for one registration. The parameter mapping is best effort and
// always reserves the more capable option rather than under-provisioning:
// an unsupported coding format falls back to CVSD, a zero coded sample size
// to 16 bits, any rate other than 8 or 16 kHz to 16 kHz.
func (s *ScoDataChannel) configureActiveLocked(reg *scoRegistration) {
	params := reg.conn.Parameters()

	format := CodingFormatCVSD
	switch params.CodingFormat {
	case CodingFormatCVSD, CodingFormatMSBC:
		format = params.CodingFormat
	default:
		s.log.Infof("unsupported sco coding format %d, using CVSD", params.CodingFormat)
	}

	encoding := SampleEncoding16Bits
	switch params.CodedSampleSizeBits {
	case 8:
		encoding = SampleEncoding8Bits
	case 0:
		s.log.Info("unspecified sco sample size, using 16 bits")
	case 16:
	default:
		s.log.Infof("unsupported sco sample size %d, using 16 bits", params.CodedSampleSizeBits)
	}

	rate := SampleRate16Khz
	switch params.SampleRateHz {
	case 8000:
		rate = SampleRate8Khz
	case 16000:
	default:
		s.log.Infof("unsupported sco sample rate %d Hz, using 16 kHz", params.SampleRateHz)
	}

	token := &scoConfigToken{ch: s, handle: reg.conn.Handle()}
	if s.configTm > 0 {
		token.timer = time.AfterFunc(s.configTm, func() {
			token.fire(ErrScoConfigTimeout)
		})
	}
	reg.token = token
	s.device.ConfigureSco(format, encoding, rate, token.fire)
}

// postConfigResult marshals a hardware callback onto the channel's own
// goroutine. Callbacks can originate anywhere; state is only touched from
// configLoop.
func (s *ScoDataChannel) postConfigResult(r scoConfigResult) {
	select {
	case s.chConfigDone <- r:
	case <-s.done:
	}
}

func (s *ScoDataChannel) configLoop() {
	for {
		select {
		case <-s.done:
			return
		case r := <-s.chConfigDone:
			s.handleConfigResult(r)
		}
	}
}

func (s *ScoDataChannel) handleConfigResult(r scoConfigResult) {
	s.mu.Lock()

	reg, ok := s.regs[r.handle]
	if !ok || reg.token != r.token {
		// a result already queued when its registration was removed, or
		// one belonging to a prior registration of a reused handle
		s.mu.Unlock()
		return
	}
	reg.token = nil

	if r.err != nil {
		s.log.Errorf("sco configuration for 0x%04X failed: %v", r.handle, r.err)
		conn := reg.conn
		s.mu.Unlock()
		// the connection observes the failure while still registered
		conn.OnHciError(r.err)
		s.mu.Lock()
		if cur, ok := s.regs[r.handle]; ok && cur == reg {
			s.unregisterLocked(r.handle)
		}
		s.mu.Unlock()
		return
	}

	reg.state = scoConnConfigured
	s.trySendNextPacketsLocked()
	s.mu.Unlock()
}

func (s *ScoDataChannel) pendingTotalLocked() int {
	total := 0
	for _, n := range s.pending {
		total += n
	}
	return total
}

// trySendNextPacketsLocked services every registration's outbound queue
// while the controller has buffer slots free. Only one connection is
// hardware configured, but normally only one has data anyway; the budget is
// shared. A failed write drops that packet and moves on.
func (s *ScoDataChannel) trySendNextPacketsLocked() {
	if s.active == nil || s.active.state != scoConnConfigured {
		return
	}

	for _, h := range s.order {
		reg := s.regs[h]
		for s.pendingTotalLocked() < s.info.MaxNumPackets {
			pkt := reg.conn.GetNextOutboundPacket()
			if pkt == nil {
				break
			}
			data := pkt.Data()
			_, err := s.rwc.Write(data)
			pkt.Release()
			if err != nil {
				s.log.Error("sco write failed, dropping packet: ", err)
				continue
			}
			s.pending[h]++
		}
	}
}

func (s *ScoDataChannel) handleNumberOfCompletedPackets(evt *EventPacket) {
	params := evt.Params()
	if len(params) < 1 {
		return
	}
	numHandles := int(params[0])
	if len(params) < 1+numHandles*4 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < numHandles; i++ {
		handle := binary.LittleEndian.Uint16(params[1+i*4:]) & maxConnectionHandle
		completed := int(binary.LittleEndian.Uint16(params[3+i*4:]))

		count, ok := s.pending[handle]
		if !ok {
			// a handle flow controlled elsewhere, e.g. ACL
			continue
		}
		if completed > count {
			s.log.Errorf("controller reported %d sco completions for 0x%04X, only %d in flight", completed, handle, count)
			completed = count
		}
		count -= completed
		if count == 0 {
			delete(s.pending, handle)
		} else {
			s.pending[handle] = count
		}
	}
	s.trySendNextPacketsLocked()
}

func (s *ScoDataChannel) readLoop() {
	b := make([]byte, 1+ScoDataHeaderSize+MaxScoPayloadSize)
	for {
		n, err := s.rwc.Read(b)
		switch {
		case n == 0 && err == nil:
			if !s.isOpen() {
				return
			}
			continue
		case err != nil:
			if s.isOpen() {
				s.dispatchError(errors.Wrap(err, "sco channel read"))
			}
			return
		}

		if err := s.handleInbound(b[:n]); err != nil {
			s.log.Warn("dropping sco packet: ", err)
		}
	}
}

func (s *ScoDataChannel) handleInbound(b []byte) error {
	if len(b) < ScoDataHeaderSize {
		return errors.Wrap(ErrMalformedPacket, "sco packet shorter than header")
	}
	declared := int(b[2])
	if declared != len(b)-ScoDataHeaderSize {
		return errors.Wrapf(ErrMalformedPacket, "sco declares %d bytes, received %d", declared, len(b)-ScoDataHeaderSize)
	}

	pkt, err := NewScoDataPacket(declared)
	if err != nil {
		return err
	}
	copy(pkt.view.buf, b)
	if err := pkt.InitFromBuffer(); err != nil {
		pkt.Release()
		return err
	}

	handle := pkt.ConnectionHandle()
	s.mu.Lock()
	reg, ok := s.regs[handle]
	s.mu.Unlock()
	if !ok {
		// synchronous audio has no value once delayed, no buffering for
		// not-yet-registered handles
		pkt.Release()
		return nil
	}
	reg.conn.ReceiveInboundPacket(pkt)
	return nil
}

// Close defuses every in-flight configure callback, unregisters the
// completed-packets handler through the command channel, and closes the
// physical channel. Must run before the command channel's own teardown.
func (s *ScoDataChannel) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	s.mu.Lock()
	for _, reg := range s.regs {
		if reg.token != nil {
			reg.token.defuse()
			reg.token = nil
		}
	}
	s.active = nil
	s.mu.Unlock()

	close(s.done)
	s.cmd.RemoveEventHandler(s.nocpID)
	return s.rwc.Close()
}

func (s *ScoDataChannel) isOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *ScoDataChannel) dispatchError(e error) {
	if s.errCb != nil {
		s.errCb(e)
	} else {
		s.log.Error(e)
	}
}
