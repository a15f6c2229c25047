package l2cap

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Signaling command codes [Vol 3, Part A, 4].
const (
	SignalCommandReject                     = 0x01
	SignalConnectionRequest                 = 0x02
	SignalConnectionResponse                = 0x03
	SignalDisconnectRequest                 = 0x06
	SignalDisconnectResponse                = 0x07
	SignalConnectionParameterUpdateRequest  = 0x12
	SignalConnectionParameterUpdateResponse = 0x13
)

// Connection Response result codes.
const (
	ConnectionResultSuccessful     = 0x0000
	ConnectionResultPending        = 0x0001
	ConnectionResultPSMUnsupported = 0x0002
	ConnectionResultSecurityBlock  = 0x0003
	ConnectionResultNoResources    = 0x0004
)

const sigHeaderSize = 4

// CommandReject implements Command Reject (0x01) [Vol 3, Part A, 4.1].
type CommandReject struct {
	Reason uint16
}

// Code returns the signaling code of the command.
func (s CommandReject) Code() uint8 { return SignalCommandReject }

// Marshal serializes the command parameters into binary form.
func (s *CommandReject) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *CommandReject) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// ConnectionRequest implements Connection Request (0x02) [Vol 3, Part A, 4.2].
type ConnectionRequest struct {
	PSM       uint16
	SourceCID uint16
}

// Code returns the signaling code of the command.
func (s ConnectionRequest) Code() uint8 { return SignalConnectionRequest }

// Marshal serializes the command parameters into binary form.
func (s *ConnectionRequest) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConnectionRequest) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// ConnectionResponse implements Connection Response (0x03) [Vol 3, Part A, 4.3].
type ConnectionResponse struct {
	DestinationCID uint16
	SourceCID      uint16
	Result         uint16
	Status         uint16
}

// Code returns the signaling code of the command.
func (s ConnectionResponse) Code() uint8 { return SignalConnectionResponse }

// Marshal serializes the command parameters into binary form.
func (s *ConnectionResponse) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConnectionResponse) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// DisconnectRequest implements Disconnect Request (0x06) [Vol 3, Part A, 4.6].
type DisconnectRequest struct {
	DestinationCID uint16
	SourceCID      uint16
}

// Code returns the signaling code of the command.
func (s DisconnectRequest) Code() uint8 { return SignalDisconnectRequest }

// Marshal serializes the command parameters into binary form.
func (s *DisconnectRequest) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *DisconnectRequest) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// DisconnectResponse implements Disconnect Response (0x07) [Vol 3, Part A, 4.7].
type DisconnectResponse struct {
	DestinationCID uint16
	SourceCID      uint16
}

// Code returns the signaling code of the command.
func (s DisconnectResponse) Code() uint8 { return SignalDisconnectResponse }

// Marshal serializes the command parameters into binary form.
func (s *DisconnectResponse) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *DisconnectResponse) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// ConnectionParameterUpdateRequest implements Connection Parameter Update
// Request (0x12) [Vol 3, Part A, 4.20].
type ConnectionParameterUpdateRequest struct {
	IntervalMin       uint16
	IntervalMax       uint16
	PeripheralLatency uint16
	TimeoutMultiplier uint16
}

// Code returns the signaling code of the command.
func (s ConnectionParameterUpdateRequest) Code() uint8 {
	return SignalConnectionParameterUpdateRequest
}

// Marshal serializes the command parameters into binary form.
func (s *ConnectionParameterUpdateRequest) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConnectionParameterUpdateRequest) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// ConnectionParameterUpdateResponse implements Connection Parameter Update
// Response (0x13) [Vol 3, Part A, 4.21].
type ConnectionParameterUpdateResponse struct {
	Result uint16
}

// Code returns the signaling code of the command.
func (s ConnectionParameterUpdateResponse) Code() uint8 {
	return SignalConnectionParameterUpdateResponse
}

// Marshal serializes the command parameters into binary form.
func (s *ConnectionParameterUpdateResponse) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConnectionParameterUpdateResponse) Unmarshal(b []byte) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, s)
}

// sigCmd is the common surface of the signaling command structs above.
type sigCmd interface {
	Code() uint8
	Marshal() []byte
}

// marshalSignal prepends the signaling header (code, identifier, length) to
// a marshaled command.
func marshalSignal(id uint8, s sigCmd) []byte {
	p := s.Marshal()
	b := make([]byte, sigHeaderSize+len(p))
	b[0] = s.Code()
	b[1] = id
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(p)))
	copy(b[sigHeaderSize:], p)
	return b
}

// parseSignal splits a signaling PDU into its header fields and payload.
func parseSignal(b []byte) (code, id uint8, payload []byte, err error) {
	if len(b) < sigHeaderSize {
		return 0, 0, nil, errors.Errorf("signaling pdu too short: %d bytes", len(b))
	}
	n := int(binary.LittleEndian.Uint16(b[2:4]))
	if len(b) < sigHeaderSize+n {
		return 0, 0, nil, errors.Errorf("signaling pdu truncated: declared %d, have %d",
			n, len(b)-sigHeaderSize)
	}
	return b[0], b[1], b[sigHeaderSize : sigHeaderSize+n], nil
}
