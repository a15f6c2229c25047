package hci

import (
	"bytes"
	"testing"
)

func TestEventFromWire(t *testing.T) {
	pkt, err := newEventFromWire(eventBytes(DisconnectionCompleteCode, 0x00, 0x42, 0x00, 0x13))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()

	if pkt.EventCode() != DisconnectionCompleteCode {
		t.Fatalf("event code = 0x%02X", pkt.EventCode())
	}
	if pkt.DataTotalLength() != 4 {
		t.Fatalf("declared length = %d", pkt.DataTotalLength())
	}
	if !bytes.Equal(pkt.Params(), []byte{0x00, 0x42, 0x00, 0x13}) {
		t.Fatalf("params = % X", pkt.Params())
	}
}

func TestEventFromWireRejectsShortBuffer(t *testing.T) {
	if _, err := newEventFromWire([]byte{0x0E}); err == nil {
		t.Fatal("one-byte event accepted")
	}
}

func TestEventInitFromBufferRejectsOverdeclaredLength(t *testing.T) {
	pkt, err := NewEventPacket(2)
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()
	pkt.view.Header()[0] = HardwareErrorCode
	pkt.view.Header()[1] = 255

	if err := pkt.InitFromBuffer(); err == nil {
		t.Fatal("declared length past capacity accepted")
	}
}

func TestCommandCompleteAccessors(t *testing.T) {
	// NumHCICommandPackets=2, opcode 0x0C03, return params {0x00, 0xAA}
	pkt, err := newEventFromWire(eventBytes(CommandCompleteCode, 0x02, 0x03, 0x0C, 0x00, 0xAA))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()

	if pkt.NumHCICommandPackets() != 2 {
		t.Fatalf("credits = %d", pkt.NumHCICommandPackets())
	}
	opcode, ok := pkt.CommandCompleteOpcode()
	if !ok || opcode != 0x0C03 {
		t.Fatalf("opcode = 0x%04X, ok=%v", opcode, ok)
	}
	if !bytes.Equal(pkt.ReturnParams(), []byte{0x00, 0xAA}) {
		t.Fatalf("return params = % X", pkt.ReturnParams())
	}
	if status, ok := pkt.StatusCode(); !ok || status != 0x00 {
		t.Fatalf("status = 0x%02X, ok=%v", status, ok)
	}
}

func TestReturnParamsNilForOtherEvents(t *testing.T) {
	pkt, err := newEventFromWire(eventBytes(CommandStatusCode, 0x00, 0x01, 0x03, 0x0C))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()
	if pkt.ReturnParams() != nil {
		t.Fatal("command status event produced return params")
	}
}

func TestSubeventAccessors(t *testing.T) {
	params := make([]byte, 19)
	params[0] = LEConnectionCompleteSubCode
	params[1] = 0x00 // status
	pkt, err := newEventFromWire(eventBytes(LEMetaEventCode, params...))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()

	sub, ok := pkt.SubeventCode()
	if !ok || sub != LEConnectionCompleteSubCode {
		t.Fatalf("subevent = 0x%02X, ok=%v", sub, ok)
	}
	if len(pkt.SubeventParams()) != 18 {
		t.Fatalf("subevent params = %d bytes", len(pkt.SubeventParams()))
	}
	if status, ok := pkt.StatusCode(); !ok || status != 0x00 {
		t.Fatalf("status = 0x%02X, ok=%v", status, ok)
	}
}

func TestSubeventOnlyForMetaAndVendor(t *testing.T) {
	pkt, err := newEventFromWire(eventBytes(HardwareErrorCode, 0x01))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()
	if _, ok := pkt.SubeventCode(); ok {
		t.Fatal("hardware error event produced a subevent code")
	}
	if pkt.SubeventParams() != nil {
		t.Fatal("hardware error event produced subevent params")
	}
}

// Unknown event and subevent codes must degrade to "no status", never take
// the process down: the bytes come straight from the controller.
func TestStatusCodeUnknownCodes(t *testing.T) {
	pkt, err := newEventFromWire(eventBytes(0x57, 0x01, 0x02))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pkt.StatusCode(); ok {
		t.Fatal("unknown event code produced a status")
	}
	pkt.Release()

	pkt, err = newEventFromWire(eventBytes(LEMetaEventCode, 0x7E, 0x00))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()
	if _, ok := pkt.StatusCode(); ok {
		t.Fatal("unknown subevent code produced a status")
	}
}

func TestStatusCodeTruncatedParams(t *testing.T) {
	// disconnection complete needs 4 parameter bytes
	pkt, err := newEventFromWire(eventBytes(DisconnectionCompleteCode, 0x00, 0x42))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()
	if _, ok := pkt.StatusCode(); ok {
		t.Fatal("truncated event produced a status")
	}
	if pkt.Error() == nil {
		t.Fatal("truncated event produced no error")
	}
}

func TestEventError(t *testing.T) {
	pkt, err := newEventFromWire(eventBytes(EncryptionChangeCode, 0x0C, 0x42, 0x00, 0x01))
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()

	e := pkt.Error()
	cmdErr, ok := e.(ErrCommand)
	if !ok {
		t.Fatalf("error type %T: %v", e, e)
	}
	if uint8(cmdErr) != 0x0C {
		t.Fatalf("status = 0x%02X", uint8(cmdErr))
	}
}
