package hci

import (
	"bytes"
	"testing"
)

func TestCommandPacketWireFormat(t *testing.T) {
	pkt, err := NewCommandPacket(0x07FF, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()
	pkt.Payload()[0] = 127

	want := []byte{0xFF, 0x07, 0x01, 0x7F}
	if !bytes.Equal(pkt.Data(), want) {
		t.Fatalf("serialized to % X, want % X", pkt.Data(), want)
	}
	if pkt.Opcode() != 0x07FF {
		t.Fatalf("opcode = 0x%04X", pkt.Opcode())
	}
	if pkt.ParamTotalSize() != 1 {
		t.Fatalf("param total size = %d", pkt.ParamTotalSize())
	}
}

func TestCommandPacketRejectsOversizedPayload(t *testing.T) {
	if _, err := NewCommandPacket(0x0C03, MaxCommandPayloadSize+1); err == nil {
		t.Fatal("expected error for payload above the command maximum")
	}
}

func TestACLHeaderRoundTrip(t *testing.T) {
	handles := []uint16{0x0000, 0x0001, 0x0ABC, 0x0FFF}
	for _, h := range handles {
		for pbf := uint8(0); pbf <= 0x03; pbf++ {
			for bcf := uint8(0); bcf <= 0x03; bcf++ {
				pkt, err := NewACLDataPacketWithHeader(h, pbf, bcf, 4)
				if err != nil {
					t.Fatal(err)
				}
				if pkt.ConnectionHandle() != h || pkt.PacketBoundaryFlag() != pbf || pkt.BroadcastFlag() != bcf {
					t.Fatalf("decode(encode(0x%04X, %d, %d)) = (0x%04X, %d, %d)",
						h, pbf, bcf, pkt.ConnectionHandle(), pkt.PacketBoundaryFlag(), pkt.BroadcastFlag())
				}
				if pkt.DataTotalLength() != 4 {
					t.Fatalf("data total length = %d", pkt.DataTotalLength())
				}
				pkt.Release()
			}
		}
	}
}

func TestACLHeaderRejectsOutOfRangeFields(t *testing.T) {
	pkt, err := NewACLDataPacket(0)
	if err != nil {
		t.Fatal(err)
	}
	defer pkt.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("13-bit handle did not panic")
		}
	}()
	pkt.WriteHeader(0x1000, 0, 0)
}

func TestACLLengthFidelity(t *testing.T) {
	for _, size := range []int{0, 1, smallACLPayloadSize, mediumACLPayloadSize, MaxACLPayloadSize} {
		pkt, err := NewACLDataPacketWithHeader(0x0042, PbfFirstFlushable, 0, size)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		wire := append([]byte(nil), pkt.Data()...)
		pkt.Release()

		reparsed, err := NewACLDataPacket(MaxACLPayloadSize)
		if err != nil {
			t.Fatal(err)
		}
		copy(reparsed.view.buf, wire)
		if err := reparsed.InitFromBuffer(); err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if reparsed.View().PayloadSize() != size {
			t.Fatalf("size %d reparsed as %d", size, reparsed.View().PayloadSize())
		}
		reparsed.Release()
	}
}

func TestScoHeaderRoundTrip(t *testing.T) {
	for _, h := range []uint16{0x0000, 0x0001, 0x0FFF} {
		pkt, err := NewScoDataPacket(9)
		if err != nil {
			t.Fatal(err)
		}
		pkt.WriteHeader(h)
		if pkt.ConnectionHandle() != h {
			t.Fatalf("handle round trip: 0x%04X -> 0x%04X", h, pkt.ConnectionHandle())
		}
		if pkt.PacketStatusFlag() != 0 {
			t.Fatalf("status flag = %d on outbound packet", pkt.PacketStatusFlag())
		}
		if pkt.DataTotalLength() != 9 {
			t.Fatalf("data total length = %d", pkt.DataTotalLength())
		}
		pkt.Release()
	}
}

func TestScoLengthFidelity(t *testing.T) {
	for _, size := range []int{0, 1, 60, MaxScoPayloadSize} {
		pkt, err := NewScoDataPacket(size)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		pkt.WriteHeader(0x0003)
		wire := append([]byte(nil), pkt.Data()...)
		pkt.Release()

		reparsed, err := NewScoDataPacket(MaxScoPayloadSize)
		if err != nil {
			t.Fatal(err)
		}
		copy(reparsed.view.buf, wire)
		if err := reparsed.InitFromBuffer(); err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if reparsed.View().PayloadSize() != size {
			t.Fatalf("size %d reparsed as %d", size, reparsed.View().PayloadSize())
		}
		reparsed.Release()
	}
}
