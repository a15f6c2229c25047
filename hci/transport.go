package hci

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/btleaf/bthost"
	"github.com/btleaf/bthost/hci/h4"
	"github.com/btleaf/bthost/hci/socket"
)

// transportConfig collects the functional options before any channel opens.
type transportConfig struct {
	hciSocketID  *int
	h4UartPath   string
	errHandler   func(error)
	log          bthost.Logger
	scoConfigTm  time.Duration
	deviceConfig DeviceConfig
}

func (c *transportConfig) SetDeviceHCISocket(id int) error {
	c.hciSocketID = &id
	return nil
}

func (c *transportConfig) SetDeviceH4Uart(path string) error {
	c.h4UartPath = path
	return nil
}

func (c *transportConfig) SetErrorHandler(handler func(error)) error {
	c.errHandler = handler
	return nil
}

func (c *transportConfig) SetLogger(l bthost.Logger) error {
	c.log = l
	return nil
}

func (c *transportConfig) SetScoConfigTimeout(d time.Duration) error {
	c.scoConfigTm = d
	return nil
}

// Transport owns the physical channels to one controller and the engines on
// top of them. Construction brings up the command channel; the data channel
// engines are attached afterwards once controller buffer capacities are
// known. Any channel failure tears the whole transport down and fires the
// closed callback exactly once.
type Transport struct {
	device Device
	log    bthost.Logger
	cfg    transportConfig

	cmd *CommandChannel

	mu       sync.Mutex
	acl      *ACLDataChannel
	sco      *ScoDataChannel
	closedCb func()
	closed   bool
}

// New opens a transport over the device selected by the options (an HCI
// user channel socket or an H4 framed UART).
func New(opts ...bthost.Option) (*Transport, error) {
	cfg := transportConfig{log: bthost.GetLogger()}
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, errors.Wrap(err, "can't set options")
		}
	}

	var dev Device
	switch {
	case cfg.hciSocketID != nil:
		sk, err := socket.NewSocket(*cfg.hciSocketID)
		if err != nil {
			return nil, errors.Wrap(err, "can't open hci socket")
		}
		dev = NewDevice(sk, cfg.deviceConfig, cfg.log)

	case cfg.h4UartPath != "":
		u, err := h4.NewSerial(cfg.h4UartPath)
		if err != nil {
			return nil, errors.Wrap(err, "can't open h4 uart")
		}
		dev = NewDevice(u, cfg.deviceConfig, cfg.log)

	default:
		return nil, errors.New("no device selected")
	}

	t, err := NewTransport(dev, opts...)
	if err != nil {
		dev.Close()
	}
	return t, err
}

// NewTransport opens a transport over an already-constructed device. It
// fails, releasing the device, when the command channel can't initialize.
func NewTransport(device Device, opts ...bthost.Option) (*Transport, error) {
	cfg := transportConfig{log: bthost.GetLogger()}
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, errors.Wrap(err, "can't set options")
		}
	}

	t := &Transport{
		device: device,
		log:    cfg.log,
		cfg:    cfg,
	}

	cmdCh, err := device.CommandChannel()
	if err != nil {
		return nil, errors.Wrap(err, "can't open command channel")
	}
	t.cmd = NewCommandChannel(cmdCh, t.log, t.onChannelError)
	return t, nil
}

// CommandChannel returns the command-dispatch engine.
func (t *Transport) CommandChannel() *CommandChannel { return t.cmd }

// ACLDataChannel returns the ACL engine, nil before initialization.
func (t *Transport) ACLDataChannel() *ACLDataChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acl
}

// ScoDataChannel returns the SCO engine, nil before initialization.
func (t *Transport) ScoDataChannel() *ScoDataChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sco
}

// InitializeACLDataChannel attaches the ACL data engine with the
// controller's reported buffer capacities.
func (t *Transport) InitializeACLDataChannel(bredrInfo, leInfo BufferInfo) error {
	ch, err := t.device.ACLDataChannel()
	if err != nil {
		return errors.Wrap(err, "can't open acl data channel")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.acl = NewACLDataChannel(ch, t.cmd, bredrInfo, leInfo, t.log, t.onChannelError)
	return nil
}

// InitializeScoDataChannel attaches the SCO data engine. Returns false when
// the controller has no synchronous channel or reported no buffer capacity
// for it; the transport stays usable either way.
func (t *Transport) InitializeScoDataChannel(info BufferInfo) bool {
	if info.isZero() {
		t.log.Info("controller reports no sco buffers")
		return false
	}
	ch, err := t.device.ScoChannel()
	if err != nil {
		t.log.Info("sco not available: ", err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sco = NewScoDataChannel(ch, t.device, t.cmd, info, t.cfg.scoConfigTm, t.log, t.onChannelError)
	return true
}

// SetTransportClosedCallback registers the single closed notification.
// Registering twice or registering nil is a caller bug.
func (t *Transport) SetTransportClosedCallback(f func()) {
	if f == nil {
		panic("hci: nil transport closed callback")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closedCb != nil {
		panic("hci: transport closed callback registered twice")
	}
	t.closedCb = f
}

func (t *Transport) onChannelError(err error) {
	t.log.Error("transport channel error: ", err)
	if h := t.cfg.errHandler; h != nil {
		h(err)
	}
	go t.shutdown()
}

// Close tears the transport down in order and fires the closed callback.
// Safe to call more than once.
func (t *Transport) Close() error {
	t.shutdown()
	return nil
}

// shutdown is the ordered teardown sequence: data channels first, because
// they unregister their event handlers through the command channel, then
// the command channel, then the device handle.
func (t *Transport) shutdown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sco, acl, cb := t.sco, t.acl, t.closedCb
	t.mu.Unlock()

	if sco != nil {
		sco.Close()
	}
	if acl != nil {
		acl.Close()
	}
	t.cmd.Close()
	t.device.Close()

	if cb != nil {
		cb()
	} else {
		t.log.Error("transport closed with no closed callback registered")
	}
}
