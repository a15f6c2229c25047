package hci

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/btleaf/bthost"
)

func testLogger() bthost.Logger {
	return bthost.GetLogger()
}

// waitUntil polls cond until it holds or the deadline passes. The engines
// run their own goroutines, so observable effects are eventually consistent.
func waitUntil(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// fakeChannel is an in-memory stand-in for a physical channel. Reads block
// on injected packets, writes are recorded.
type fakeChannel struct {
	rx chan []byte

	mu       sync.Mutex
	writes   [][]byte
	writeErr error

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		rx:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.EOF
	case b := <-f.rx:
		return copy(p, b), nil
	}
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		if f.onClose != nil {
			f.onClose()
		}
	})
	return nil
}

func (f *fakeChannel) inject(b []byte) {
	f.rx <- append([]byte(nil), b...)
}

func (f *fakeChannel) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeChannel) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeChannel) write(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[i]
}

// eventBytes builds a wire event: code, declared length, parameters.
func eventBytes(code uint8, params ...byte) []byte {
	b := make([]byte, EventHeaderSize+len(params))
	b[0] = code
	b[1] = byte(len(params))
	copy(b[EventHeaderSize:], params)
	return b
}

// nocpEvent builds a Number of Completed Packets event for handle/count
// pairs.
func nocpEvent(pairs ...uint16) []byte {
	params := []byte{byte(len(pairs) / 2)}
	for i := 0; i < len(pairs); i += 2 {
		handle, count := pairs[i], pairs[i+1]
		params = append(params, byte(handle), byte(handle>>8), byte(count), byte(count>>8))
	}
	return eventBytes(NumberOfCompletedPacketsCode, params...)
}

// newTestCommandChannel builds a command channel over a fake physical
// channel, with a background responder completing every command with a
// success status and fresh credits.
func newTestCommandChannel(t *testing.T) (*CommandChannel, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	cc := NewCommandChannel(ch, testLogger(), nil)
	t.Cleanup(func() { cc.Close() })
	return cc, ch
}

type scoConfigCall struct {
	format   CodingFormat
	encoding SampleEncoding
	rate     SampleRate
	done     func(error)
}

// fakeDevice is a scriptable Device. Configure/reset requests are recorded
// and completed manually by the test.
type fakeDevice struct {
	cmdCh *fakeChannel
	aclCh *fakeChannel
	scoCh *fakeChannel

	features VendorFeatures

	mu      sync.Mutex
	configs []scoConfigCall
	resets  []func(error)
	closed  bool
	onClose func()
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		cmdCh:    newFakeChannel(),
		aclCh:    newFakeChannel(),
		scoCh:    newFakeChannel(),
		features: VendorFeatureScoConfig,
	}
}

func (d *fakeDevice) CommandChannel() (io.ReadWriteCloser, error) { return d.cmdCh, nil }
func (d *fakeDevice) ACLDataChannel() (io.ReadWriteCloser, error) { return d.aclCh, nil }
func (d *fakeDevice) ScoChannel() (io.ReadWriteCloser, error)     { return d.scoCh, nil }

func (d *fakeDevice) ConfigureSco(format CodingFormat, encoding SampleEncoding, rate SampleRate, done func(error)) {
	d.mu.Lock()
	d.configs = append(d.configs, scoConfigCall{format: format, encoding: encoding, rate: rate, done: done})
	d.mu.Unlock()
}

func (d *fakeDevice) ResetSco(done func(error)) {
	d.mu.Lock()
	d.resets = append(d.resets, done)
	d.mu.Unlock()
}

func (d *fakeDevice) VendorFeatures() VendorFeatures { return d.features }

func (d *fakeDevice) EncodeVendorCommand(command VendorCommand, params []byte) ([]byte, error) {
	pkt, err := NewCommandPacket(uint16(ogfVendorSpecific)<<ogfBitShift|uint16(command), len(params))
	if err != nil {
		return nil, err
	}
	defer pkt.Release()
	copy(pkt.Payload(), params)
	return append([]byte(nil), pkt.Data()...), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	already := d.closed
	d.closed = true
	cb := d.onClose
	d.mu.Unlock()
	if !already && cb != nil {
		cb()
	}
	return nil
}

func (d *fakeDevice) configCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

func (d *fakeDevice) config(i int) scoConfigCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configs[i]
}

func (d *fakeDevice) resetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.resets)
}

// fakeScoConn is a scriptable ScoConnection with an outbound payload queue.
type fakeScoConn struct {
	handle uint16
	params ScoConnectionParameters
	onErr  func(error)

	mu       sync.Mutex
	outbound [][]byte
	received [][]byte
	errs     []error
}

func newFakeScoConn(handle uint16) *fakeScoConn {
	return &fakeScoConn{
		handle: handle,
		params: ScoConnectionParameters{
			CodingFormat:        CodingFormatMSBC,
			SampleRateHz:        16000,
			CodedSampleSizeBits: 16,
			Path:                ScoDataPathHost,
		},
	}
}

func (c *fakeScoConn) Handle() uint16                      { return c.handle }
func (c *fakeScoConn) Parameters() ScoConnectionParameters { return c.params }

func (c *fakeScoConn) GetNextOutboundPacket() *ScoDataPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbound) == 0 {
		return nil
	}
	payload := c.outbound[0]
	c.outbound = c.outbound[1:]
	pkt, err := NewScoDataPacket(len(payload))
	if err != nil {
		return nil
	}
	copy(pkt.Payload(), payload)
	pkt.WriteHeader(c.handle)
	return pkt
}

func (c *fakeScoConn) ReceiveInboundPacket(pkt *ScoDataPacket) {
	c.mu.Lock()
	c.received = append(c.received, append([]byte(nil), pkt.Payload()...))
	c.mu.Unlock()
	pkt.Release()
}

func (c *fakeScoConn) OnHciError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	cb := c.onErr
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (c *fakeScoConn) queue(payload []byte) {
	c.mu.Lock()
	c.outbound = append(c.outbound, append([]byte(nil), payload...))
	c.mu.Unlock()
}

func (c *fakeScoConn) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func (c *fakeScoConn) receivedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

// fakeACLConn is a scriptable ACLConnection.
type fakeACLConn struct {
	handle uint16
	lt     LinkType

	mu       sync.Mutex
	outbound [][]byte
	received [][]byte
	errs     []error
}

func newFakeACLConn(handle uint16, lt LinkType) *fakeACLConn {
	return &fakeACLConn{handle: handle, lt: lt}
}

func (c *fakeACLConn) Handle() uint16     { return c.handle }
func (c *fakeACLConn) LinkType() LinkType { return c.lt }

func (c *fakeACLConn) GetNextOutboundPacket() *ACLDataPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbound) == 0 {
		return nil
	}
	payload := c.outbound[0]
	c.outbound = c.outbound[1:]
	pkt, err := NewACLDataPacketWithHeader(c.handle, PbfFirstNonFlushable, 0, len(payload))
	if err != nil {
		return nil
	}
	copy(pkt.Payload(), payload)
	return pkt
}

func (c *fakeACLConn) ReceiveInboundPacket(pkt *ACLDataPacket) {
	c.mu.Lock()
	c.received = append(c.received, append([]byte(nil), pkt.Payload()...))
	c.mu.Unlock()
	pkt.Release()
}

func (c *fakeACLConn) OnLinkError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *fakeACLConn) queue(payload []byte) {
	c.mu.Lock()
	c.outbound = append(c.outbound, append([]byte(nil), payload...))
	c.mu.Unlock()
}

func (c *fakeACLConn) receivedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func (c *fakeACLConn) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}
