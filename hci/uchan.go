package hci

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/btleaf/bthost"
)

// DeviceConfig describes what the wrapped controller can do.
type DeviceConfig struct {
	Features     VendorFeatures
	ScoSupported bool
}

// rawChannelDevice adapts one raw packet stream (an HCI user channel socket
// or an H4 framed UART) into the Device contract. Each Read on the raw
// stream returns exactly one packet led by its indicator byte; the demux
// loop routes packets to per-kind logical channels and writes prepend the
// indicator back on.
type rawChannelDevice struct {
	raw io.ReadWriteCloser
	wmu sync.Mutex

	cmdCh *logicalChannel
	aclCh *logicalChannel
	scoCh *logicalChannel

	cfg DeviceConfig
	log bthost.Logger

	cmu  sync.Mutex
	done chan struct{}
}

// NewDevice wraps a raw controller stream into a Device.
func NewDevice(raw io.ReadWriteCloser, cfg DeviceConfig, log bthost.Logger) Device {
	d := &rawChannelDevice{
		raw:  raw,
		cfg:  cfg,
		log:  log,
		done: make(chan struct{}),
	}
	d.cmdCh = newLogicalChannel(d, pktTypeCommand)
	d.aclCh = newLogicalChannel(d, pktTypeACLData)
	d.scoCh = newLogicalChannel(d, pktTypeSCOData)
	go d.demuxLoop()
	return d
}

func (d *rawChannelDevice) CommandChannel() (io.ReadWriteCloser, error) {
	return d.cmdCh, nil
}

func (d *rawChannelDevice) ACLDataChannel() (io.ReadWriteCloser, error) {
	return d.aclCh, nil
}

func (d *rawChannelDevice) ScoChannel() (io.ReadWriteCloser, error) {
	if !d.cfg.ScoSupported {
		return nil, ErrScoNotSupported
	}
	return d.scoCh, nil
}

func (d *rawChannelDevice) VendorFeatures() VendorFeatures { return d.cfg.Features }

func (d *rawChannelDevice) EncodeVendorCommand(command VendorCommand, params []byte) ([]byte, error) {
	if d.cfg.Features&VendorFeatureScoConfig == 0 {
		return nil, ErrScoNotSupported
	}
	opcode := uint16(ogfVendorSpecific)<<ogfBitShift | uint16(command)
	p, err := NewCommandPacket(opcode, len(params))
	if err != nil {
		return nil, err
	}
	defer p.Release()
	copy(p.Payload(), params)
	out := make([]byte, len(p.Data()))
	copy(out, p.Data())
	return out, nil
}

func (d *rawChannelDevice) ConfigureSco(format CodingFormat, encoding SampleEncoding, rate SampleRate, done func(error)) {
	go func() {
		b, err := d.EncodeVendorCommand(VendorCommandConfigureSco, []byte{byte(format), byte(encoding), byte(rate)})
		if err != nil {
			// controller needs no vendor configuration
			done(nil)
			return
		}
		done(d.writeRaw(pktTypeCommand, b))
	}()
}

func (d *rawChannelDevice) ResetSco(done func(error)) {
	go func() {
		b, err := d.EncodeVendorCommand(VendorCommandResetSco, nil)
		if err != nil {
			done(nil)
			return
		}
		done(d.writeRaw(pktTypeCommand, b))
	}()
}

func (d *rawChannelDevice) Close() error {
	d.cmu.Lock()
	defer d.cmu.Unlock()

	select {
	case <-d.done:
		return nil
	default:
		close(d.done)
	}
	d.cmdCh.shutdown()
	d.aclCh.shutdown()
	d.scoCh.shutdown()
	return d.raw.Close()
}

func (d *rawChannelDevice) isOpen() bool {
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

func (d *rawChannelDevice) writeRaw(indicator uint8, b []byte) error {
	if !d.isOpen() {
		return io.EOF
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()

	out := make([]byte, 1+len(b))
	out[0] = indicator
	copy(out[1:], b)
	n, err := d.raw.Write(out)
	if err != nil {
		return errors.Wrap(err, "raw channel write")
	}
	if n != len(out) {
		return errors.Errorf("short raw channel write (%d of %d)", n, len(out))
	}
	return nil
}

func (d *rawChannelDevice) demuxLoop() {
	defer func() {
		d.cmdCh.shutdown()
		d.aclCh.shutdown()
		d.scoCh.shutdown()
	}()

	b := make([]byte, 4096)
	for {
		n, err := d.raw.Read(b)
		switch {
		case n == 0 && err == nil:
			// read timeout
			if !d.isOpen() {
				return
			}
			continue
		case err != nil:
			if d.isOpen() {
				d.log.Error("device read failed: ", err)
			}
			return
		}

		p := make([]byte, n-1)
		copy(p, b[1:n])
		switch b[0] {
		case pktTypeEvent:
			d.cmdCh.deliver(p)
		case pktTypeACLData:
			d.aclCh.deliver(p)
		case pktTypeSCOData:
			d.scoCh.deliver(p)
		default:
			d.log.Warnf("dropping packet with unknown indicator 0x%02X", b[0])
		}
	}
}

const logicalChannelDepth = 16

// logicalChannel is one packet-framed view of the raw stream. Reads return
// one inbound packet per call; writes put the kind's indicator back on.
type logicalChannel struct {
	dev       *rawChannelDevice
	indicator uint8
	rx        chan []byte

	cmu    sync.Mutex
	closed chan struct{}
}

func newLogicalChannel(dev *rawChannelDevice, indicator uint8) *logicalChannel {
	return &logicalChannel{
		dev:       dev,
		indicator: indicator,
		rx:        make(chan []byte, logicalChannelDepth),
		closed:    make(chan struct{}),
	}
}

func (c *logicalChannel) deliver(p []byte) {
	select {
	case c.rx <- p:
	case <-c.closed:
	default:
		// consumer stalled, inbound packet dropped
	}
}

func (c *logicalChannel) Read(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.EOF
	case b := <-c.rx:
		if len(p) < len(b) {
			return 0, io.ErrShortBuffer
		}
		return copy(p, b), nil
	}
}

func (c *logicalChannel) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.EOF
	default:
	}
	if err := c.dev.writeRaw(c.indicator, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *logicalChannel) Close() error {
	c.shutdown()
	return nil
}

func (c *logicalChannel) shutdown() {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}
