package hci

import (
	"bytes"
	"testing"
)

func TestPacketViewLayout(t *testing.T) {
	buf := make([]byte, 10)
	v := NewPacketView(3, buf, 4)

	if v.HeaderSize() != 3 || v.PayloadSize() != 4 || v.Size() != 7 {
		t.Fatalf("got header %d payload %d size %d", v.HeaderSize(), v.PayloadSize(), v.Size())
	}
	if v.Capacity() != 7 {
		t.Fatalf("capacity = %d, want 7", v.Capacity())
	}
	if len(v.Header()) != 3 || len(v.Payload()) != 4 || len(v.Data()) != 7 {
		t.Fatalf("slice lengths %d/%d/%d", len(v.Header()), len(v.Payload()), len(v.Data()))
	}
}

func TestPacketViewResize(t *testing.T) {
	v := NewPacketView(2, make([]byte, 8), 0)
	v.Resize(6)
	if v.PayloadSize() != 6 {
		t.Fatalf("payload size = %d after resize", v.PayloadSize())
	}

	defer func() {
		if recover() == nil {
			t.Fatal("resize past capacity did not panic")
		}
	}()
	v.Resize(7)
}

func TestPacketViewFillAndCopy(t *testing.T) {
	v := NewPacketView(1, make([]byte, 5), 4)
	v.FillPayload(0xAB)
	if !bytes.Equal(v.Payload(), []byte{0xAB, 0xAB, 0xAB, 0xAB}) {
		t.Fatalf("payload = % X", v.Payload())
	}

	dst := make([]byte, 2)
	if n := v.CopyPayload(dst); n != 2 {
		t.Fatalf("copied %d bytes, want 2", n)
	}
	if !bytes.Equal(dst, []byte{0xAB, 0xAB}) {
		t.Fatalf("dst = % X", dst)
	}
}

func TestPacketViewHeaderUint16(t *testing.T) {
	v := NewPacketView(4, make([]byte, 8), 0)
	v.putHeaderUint16(1, 0x1234)
	if got := v.headerUint16(1); got != 0x1234 {
		t.Fatalf("round trip = 0x%04X", got)
	}
	if v.Header()[1] != 0x34 || v.Header()[2] != 0x12 {
		t.Fatalf("not little endian: % X", v.Header())
	}
}

func TestPacketViewRejectsBadSizes(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("oversized payload did not panic")
		}
	}()
	NewPacketView(3, make([]byte, 4), 2)
}
