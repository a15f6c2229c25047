package hci

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/btleaf/bthost"
)

// Command is a host-to-controller command a caller knows how to serialize.
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// CommandRP deserializes a command's return parameters.
type CommandRP interface {
	Unmarshal(b []byte) error
}

// HandlerID names one registered event handler so it can be removed later.
type HandlerID uint64

type eventHandler struct {
	id HandlerID
	fn func(*EventPacket)
}

type sentCmd struct {
	opcode int
	done   chan []byte
}

// CommandChannel serializes command submission over the command/event
// channel and routes inbound events to registered handlers by event code.
// Host-to-controller command flow control follows [Vol 4, Part E, 4.4]: one
// credit per command the controller is willing to take, replenished from
// Command Complete / Command Status events.
type CommandChannel struct {
	rwc io.ReadWriteCloser
	log bthost.Logger

	chCmdBufs chan []byte
	muSent    sync.Mutex
	sent      map[int]*sentCmd

	muHandlers sync.Mutex
	handlers   map[uint8][]eventHandler
	nextID     HandlerID

	errCb func(error)

	cmu  sync.Mutex
	done chan struct{}
}

// NewCommandChannel starts a command channel engine over rwc. errCb is
// invoked once if the channel itself fails.
func NewCommandChannel(rwc io.ReadWriteCloser, log bthost.Logger, errCb func(error)) *CommandChannel {
	c := &CommandChannel{
		rwc:       rwc,
		log:       log,
		chCmdBufs: make(chan []byte, chCmdBufChanSize),
		sent:      make(map[int]*sentCmd),
		handlers:  make(map[uint8][]eventHandler),
		nextID:    1,
		errCb:     errCb,
		done:      make(chan struct{}),
	}
	c.setAllowedCommands(1)
	go c.readLoop()
	return c
}

// AddEventHandler registers fn for one event code. Several handlers may
// share a code; each inbound event of that code is offered to all of them in
// registration order.
func (c *CommandChannel) AddEventHandler(code uint8, fn func(*EventPacket)) HandlerID {
	c.muHandlers.Lock()
	defer c.muHandlers.Unlock()

	id := c.nextID
	c.nextID++
	c.handlers[code] = append(c.handlers[code], eventHandler{id: id, fn: fn})
	return id
}

// RemoveEventHandler unregisters a handler. Unknown ids are ignored.
func (c *CommandChannel) RemoveEventHandler(id HandlerID) {
	c.muHandlers.Lock()
	defer c.muHandlers.Unlock()

	for code, hh := range c.handlers {
		for i, h := range hh {
			if h.id == id {
				c.handlers[code] = append(hh[:i], hh[i+1:]...)
				return
			}
		}
	}
}

// Send submits one command and blocks until its Command Complete or Command
// Status arrives, unmarshaling return parameters into r when given.
func (c *CommandChannel) Send(cmd Command, r CommandRP) error {
	b, err := c.send(cmd)
	if err != nil {
		return err
	}
	if len(b) > 0 && b[0] != 0x00 {
		return ErrCommand(b[0])
	}
	if r != nil {
		return r.Unmarshal(b)
	}
	return nil
}

func (c *CommandChannel) send(cmd Command) ([]byte, error) {
	c.muSent.Lock()
	if _, ok := c.sent[cmd.OpCode()]; ok {
		c.muSent.Unlock()
		return nil, errors.Errorf("command with opcode 0x%04X pending", cmd.OpCode())
	}
	p := &sentCmd{opcode: cmd.OpCode(), done: make(chan []byte, 1)}
	c.sent[cmd.OpCode()] = p
	c.muSent.Unlock()

	defer func() {
		c.muSent.Lock()
		delete(c.sent, cmd.OpCode())
		c.muSent.Unlock()
	}()

	// take a credit before touching the wire
	var b []byte
	select {
	case <-c.done:
		return nil, ErrClosed
	case b = <-c.chCmdBufs:
	case <-time.After(chCmdBufTimeout):
		err := errors.New("command credit timeout")
		c.dispatchError(err)
		return nil, err
	}

	b[0] = byte(cmd.OpCode())
	b[1] = byte(cmd.OpCode() >> 8)
	b[2] = byte(cmd.Len())
	if err := cmd.Marshal(b[3:]); err != nil {
		return nil, errors.Wrap(err, "marshal command")
	}

	if !c.isOpen() {
		return nil, ErrClosed
	}
	if n, err := c.rwc.Write(b[:CommandHeaderSize+cmd.Len()]); err != nil {
		c.dispatchError(errors.Wrap(err, "command channel write"))
		return nil, err
	} else if n != CommandHeaderSize+cmd.Len() {
		err := errors.New("short command channel write")
		c.dispatchError(err)
		return nil, err
	}

	// Responses are normally immediate. A timeout here means the
	// controller stopped talking, which is terminal for the channel.
	select {
	case <-time.After(cmdResponseTimeout):
		err := errors.Errorf("no response to command 0x%04X", cmd.OpCode())
		c.dispatchError(err)
		return nil, err
	case <-c.done:
		return nil, ErrClosed
	case ret := <-p.done:
		return ret, nil
	}
}

// Close stops the engine and closes the underlying channel. Idempotent.
func (c *CommandChannel) Close() error {
	c.cmu.Lock()
	defer c.cmu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.rwc.Close()
}

func (c *CommandChannel) isOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *CommandChannel) dispatchError(e error) {
	if !c.isOpen() {
		c.log.Debug("command channel closing: ", e)
		return
	}
	if c.errCb != nil {
		c.errCb(e)
	} else {
		c.log.Error(e)
	}
}

func (c *CommandChannel) readLoop() {
	b := make([]byte, 4096)
	for {
		n, err := c.rwc.Read(b)
		switch {
		case n == 0 && err == nil:
			if !c.isOpen() {
				return
			}
			continue
		case err != nil:
			if c.isOpen() {
				c.dispatchError(errors.Wrap(err, "command channel read"))
			}
			return
		}

		if err := c.handleEvent(b[:n]); err != nil {
			// framing errors drop the single offending event
			c.log.Warn("dropping event: ", err)
		}
	}
}

func (c *CommandChannel) handleEvent(b []byte) error {
	pkt, err := newEventFromWire(b)
	if err != nil {
		return err
	}
	defer pkt.Release()

	if int(pkt.DataTotalLength()) != len(b)-EventHeaderSize {
		return errors.Wrapf(ErrMalformedPacket, "event declares %d bytes, received %d", pkt.DataTotalLength(), len(b)-EventHeaderSize)
	}

	switch pkt.EventCode() {
	case CommandCompleteCode:
		c.handleCommandComplete(pkt)
	case CommandStatusCode:
		c.handleCommandStatus(pkt)
	}

	c.muHandlers.Lock()
	hh := append([]eventHandler(nil), c.handlers[pkt.EventCode()]...)
	c.muHandlers.Unlock()

	for _, h := range hh {
		h.fn(pkt)
	}
	return nil
}

func (c *CommandChannel) handleCommandComplete(pkt *EventPacket) {
	c.setAllowedCommands(int(pkt.NumHCICommandPackets()))

	opcode, ok := pkt.CommandCompleteOpcode()
	if !ok {
		c.log.Warn("malformed command complete event")
		return
	}
	if opcode == 0x0000 {
		// NOP, flow control only [Vol 4, Part E, 4.4]
		return
	}

	c.muSent.Lock()
	p, found := c.sent[int(opcode)]
	c.muSent.Unlock()
	if !found {
		c.log.Warnf("command complete for unknown opcode 0x%04X", opcode)
		return
	}

	rp := append([]byte(nil), pkt.ReturnParams()...)
	select {
	case p.done <- rp:
	default:
	}
}

func (c *CommandChannel) handleCommandStatus(pkt *EventPacket) {
	c.setAllowedCommands(int(pkt.NumHCICommandPackets()))

	params := pkt.Params()
	if len(params) < 4 {
		c.log.Warn("malformed command status event")
		return
	}
	status := params[0]
	opcode := uint16(params[2]) | uint16(params[3])<<8

	c.muSent.Lock()
	p, found := c.sent[int(opcode)]
	c.muSent.Unlock()
	if !found {
		c.log.Warnf("command status for unknown opcode 0x%04X", opcode)
		return
	}

	select {
	case p.done <- []byte{status}:
	default:
	}
}

func (c *CommandChannel) setAllowedCommands(n int) {
	if n > chCmdBufChanSize {
		n = chCmdBufChanSize
	}
	for len(c.chCmdBufs) < n {
		select {
		case <-c.done:
			return
		case c.chCmdBufs <- make([]byte, chCmdBufElementSize):
		default:
			return
		}
	}
}
