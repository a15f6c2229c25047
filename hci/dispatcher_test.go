package hci

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
)

type testCmd struct {
	opcode int
	params []byte
}

func (c *testCmd) OpCode() int { return c.opcode }
func (c *testCmd) Len() int    { return len(c.params) }
func (c *testCmd) Marshal(b []byte) error {
	copy(b, c.params)
	return nil
}

type testRP struct {
	raw []byte
}

func (r *testRP) Unmarshal(b []byte) error {
	r.raw = append([]byte(nil), b...)
	return nil
}

func TestCommandSendCompletes(t *testing.T) {
	cc, ch := newTestCommandChannel(t)

	go func() {
		waitUntil(t, "command on the wire", func() bool { return ch.writeCount() == 1 })
		// complete opcode 0x0C03 with status 0x00 and one extra byte
		ch.inject(eventBytes(CommandCompleteCode, 0x01, 0x03, 0x0C, 0x00, 0x5A))
	}()

	rp := testRP{}
	if err := cc.Send(&testCmd{opcode: 0x0C03, params: []byte{0xAB, 0xCD}}, &rp); err != nil {
		t.Fatal(err)
	}

	want := []byte{0x03, 0x0C, 0x02, 0xAB, 0xCD}
	if !bytes.Equal(ch.write(0), want) {
		t.Fatalf("wire bytes % X, want % X", ch.write(0), want)
	}
	if !bytes.Equal(rp.raw, []byte{0x00, 0x5A}) {
		t.Fatalf("return params % X", rp.raw)
	}
}

func TestCommandSendStatusError(t *testing.T) {
	cc, ch := newTestCommandChannel(t)

	go func() {
		waitUntil(t, "command on the wire", func() bool { return ch.writeCount() == 1 })
		ch.inject(eventBytes(CommandCompleteCode, 0x01, 0x01, 0x04, 0x0C))
	}()

	err := cc.Send(&testCmd{opcode: 0x0401}, nil)
	cmdErr, ok := err.(ErrCommand)
	if !ok {
		t.Fatalf("error type %T: %v", err, err)
	}
	if uint8(cmdErr) != 0x0C {
		t.Fatalf("status 0x%02X, want command disallowed", uint8(cmdErr))
	}
}

func TestCommandSendViaCommandStatus(t *testing.T) {
	cc, ch := newTestCommandChannel(t)

	go func() {
		waitUntil(t, "command on the wire", func() bool { return ch.writeCount() == 1 })
		// status 0x00, 1 credit, opcode 0x0405
		ch.inject(eventBytes(CommandStatusCode, 0x00, 0x01, 0x05, 0x04))
	}()

	if err := cc.Send(&testCmd{opcode: 0x0405}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestCommandSendRejectsDuplicateOpcode(t *testing.T) {
	cc, ch := newTestCommandChannel(t)

	release := make(chan struct{})
	var firstErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			waitUntil(t, "command on the wire", func() bool { return ch.writeCount() == 1 })
			<-release
			ch.inject(eventBytes(CommandCompleteCode, 0x01, 0x03, 0x0C, 0x00))
		}()
		firstErr = cc.Send(&testCmd{opcode: 0x0C03}, nil)
	}()

	waitUntil(t, "first command pending", func() bool { return ch.writeCount() == 1 })
	if err := cc.Send(&testCmd{opcode: 0x0C03}, nil); err == nil {
		t.Fatal("second send of a pending opcode accepted")
	}

	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first send failed: %v", firstErr)
	}
}

func TestCommandFlowControlCredits(t *testing.T) {
	cc, ch := newTestCommandChannel(t)

	// the first command consumes the single initial credit; completing it
	// with zero
	// credits must leave the channel unable to send until a NOP grants one.
	go func() {
		waitUntil(t, "command on the wire", func() bool { return ch.writeCount() == 1 })
		ch.inject(eventBytes(CommandCompleteCode, 0x00, 0x03, 0x0C, 0x00))
	}()
	if err := cc.Send(&testCmd{opcode: 0x0C03}, nil); err != nil {
		t.Fatal(err)
	}
	if len(cc.chCmdBufs) != 0 {
		t.Fatalf("%d credits left after zero-credit completion", len(cc.chCmdBufs))
	}

	// NOP command complete grants credits without answering anything
	ch.inject(eventBytes(CommandCompleteCode, 0x02, 0x00, 0x00))
	waitUntil(t, "credits replenished", func() bool { return len(cc.chCmdBufs) == 2 })
}

func TestEventHandlerDispatchOrderAndRemoval(t *testing.T) {
	cc, ch := newTestCommandChannel(t)

	var mu sync.Mutex
	var order []int
	id1 := cc.AddEventHandler(HardwareErrorCode, func(*EventPacket) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	cc.AddEventHandler(HardwareErrorCode, func(*EventPacket) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	})

	ch.inject(eventBytes(HardwareErrorCode, 0x01))
	waitUntil(t, "both handlers fired", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	if order[0] != 1 || order[1] != 2 {
		t.Fatalf("dispatch order %v", order)
	}
	mu.Unlock()

	cc.RemoveEventHandler(id1)
	ch.inject(eventBytes(HardwareErrorCode, 0x02))
	waitUntil(t, "remaining handler fired", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	mu.Lock()
	if order[2] != 2 {
		t.Fatalf("removed handler fired: %v", order)
	}
	mu.Unlock()
}

func TestEventDeclaredLengthMismatchDropped(t *testing.T) {
	cc, ch := newTestCommandChannel(t)

	var fired int32
	cc.AddEventHandler(HardwareErrorCode, func(*EventPacket) {
		atomic.AddInt32(&fired, 1)
	})

	// declares 3 parameter bytes, carries 1
	bad := []byte{HardwareErrorCode, 0x03, 0x01}
	ch.inject(bad)
	ch.inject(eventBytes(HardwareErrorCode, 0x01))

	waitUntil(t, "well-formed event dispatched", func() bool { return atomic.LoadInt32(&fired) == 1 })
}

func TestCommandChannelCloseIdempotent(t *testing.T) {
	cc, _ := newTestCommandChannel(t)
	if err := cc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := cc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := cc.Send(&testCmd{opcode: 0x0C03}, nil); err != ErrClosed {
		t.Fatalf("send after close = %v", err)
	}
}
