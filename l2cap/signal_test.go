package l2cap

import (
	"bytes"
	"testing"
)

func TestSignalHeaderRoundTrip(t *testing.T) {
	req := &ConnectionRequest{PSM: 0x0025, SourceCID: 0x0040}
	pdu := marshalSignal(7, req)

	want := []byte{SignalConnectionRequest, 7, 4, 0, 0x25, 0x00, 0x40, 0x00}
	if !bytes.Equal(pdu, want) {
		t.Fatalf("pdu % X, want % X", pdu, want)
	}

	code, id, payload, err := parseSignal(pdu)
	if err != nil {
		t.Fatal(err)
	}
	if code != SignalConnectionRequest || id != 7 {
		t.Fatalf("code 0x%02X id %d", code, id)
	}

	var parsed ConnectionRequest
	if err := parsed.Unmarshal(payload); err != nil {
		t.Fatal(err)
	}
	if parsed != *req {
		t.Fatalf("parsed %+v", parsed)
	}
}

func TestParseSignalRejectsTruncation(t *testing.T) {
	if _, _, _, err := parseSignal([]byte{0x02, 0x01}); err == nil {
		t.Fatal("short header accepted")
	}
	// declares 4 payload bytes, carries 2
	if _, _, _, err := parseSignal([]byte{0x02, 0x01, 0x04, 0x00, 0xAA, 0xBB}); err == nil {
		t.Fatal("truncated payload accepted")
	}
}

func TestConnectionResponseRoundTrip(t *testing.T) {
	rsp := &ConnectionResponse{
		DestinationCID: 0x0041,
		SourceCID:      0x0040,
		Result:         ConnectionResultSuccessful,
		Status:         0,
	}
	var parsed ConnectionResponse
	if err := parsed.Unmarshal(rsp.Marshal()); err != nil {
		t.Fatal(err)
	}
	if parsed != *rsp {
		t.Fatalf("parsed %+v", parsed)
	}
}

func TestParameterUpdateRoundTrip(t *testing.T) {
	req := &ConnectionParameterUpdateRequest{
		IntervalMin:       0x0006,
		IntervalMax:       0x0C80,
		PeripheralLatency: 4,
		TimeoutMultiplier: 100,
	}
	var parsed ConnectionParameterUpdateRequest
	if err := parsed.Unmarshal(req.Marshal()); err != nil {
		t.Fatal(err)
	}
	if parsed != *req {
		t.Fatalf("parsed %+v", parsed)
	}
}
