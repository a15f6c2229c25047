package hci

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrPayloadTooLarge reports a packet construction request above the
	// kind's absolute payload maximum.
	ErrPayloadTooLarge = errors.New("payload exceeds largest buffer tier")

	// ErrMalformedPacket reports wire data whose declared lengths do not
	// line up with the bytes actually received.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrUnsupportedEvent reports an event or subevent code with no
	// registered status mapping.
	ErrUnsupportedEvent = errors.New("unsupported event code")

	// ErrScoNotSupported reports a controller without a synchronous data
	// channel or without the vendor hooks to configure one.
	ErrScoNotSupported = errors.New("sco not supported by controller")

	// ErrScoConfigTimeout reports a hardware configuration handshake that
	// never completed.
	ErrScoConfigTimeout = errors.New("sco configuration timed out")

	// ErrClosed reports use of a channel after teardown began.
	ErrClosed = errors.New("channel closed")
)

// ErrCommand is a controller status code [Vol 1, Part F, 1.3] returned by a
// command, non-zero values are failures.
type ErrCommand uint8

func (e ErrCommand) Error() string {
	if s, ok := errCmd[e]; ok {
		return s
	}
	return fmt.Sprintf("unknown controller status 0x%02X", uint8(e))
}

const (
	ErrUnknownCommand     ErrCommand = 0x01
	ErrConnID             ErrCommand = 0x02
	ErrHardwareFailure    ErrCommand = 0x03
	ErrAuthFailure        ErrCommand = 0x05
	ErrMemoryCapacity     ErrCommand = 0x07
	ErrConnectionTimeout  ErrCommand = 0x08
	ErrCommandDisallowed  ErrCommand = 0x0C
	ErrInvalidParams      ErrCommand = 0x12
	ErrRemoteUser         ErrCommand = 0x13
	ErrLocalHost          ErrCommand = 0x16
	ErrUnsupportedFeature ErrCommand = 0x1A
	ErrUnspecified        ErrCommand = 0x1F
)

var errCmd = map[ErrCommand]string{
	ErrUnknownCommand:     "unknown HCI command",
	ErrConnID:             "unknown connection identifier",
	ErrHardwareFailure:    "hardware failure",
	ErrAuthFailure:        "authentication failure",
	ErrMemoryCapacity:     "memory capacity exceeded",
	ErrConnectionTimeout:  "connection timeout",
	ErrCommandDisallowed:  "command disallowed",
	ErrInvalidParams:      "invalid HCI command parameters",
	ErrRemoteUser:         "remote user terminated connection",
	ErrLocalHost:          "connection terminated by local host",
	ErrUnsupportedFeature: "unsupported feature or parameter value",
	ErrUnspecified:        "unspecified error",
}
