package hci

import "io"

// CodingFormat is an HCI assigned-numbers coding format identifier.
type CodingFormat uint8

const (
	CodingFormatULaw        CodingFormat = 0x00
	CodingFormatALaw        CodingFormat = 0x01
	CodingFormatCVSD        CodingFormat = 0x02
	CodingFormatTransparent CodingFormat = 0x03
	CodingFormatLinearPCM   CodingFormat = 0x04
	CodingFormatMSBC        CodingFormat = 0x05
)

// SampleEncoding is the per-sample width the controller ships synchronous
// data in.
type SampleEncoding uint8

const (
	SampleEncoding8Bits  SampleEncoding = 0x00
	SampleEncoding16Bits SampleEncoding = 0x01
)

// SampleRate is the synchronous stream sample rate.
type SampleRate uint8

const (
	SampleRate8Khz  SampleRate = 0x00
	SampleRate16Khz SampleRate = 0x01
)

// ScoDataPath selects where synchronous audio is routed.
type ScoDataPath uint8

const (
	// ScoDataPathHost routes audio through the host stack, packet by packet.
	ScoDataPathHost ScoDataPath = 0x00
	// ScoDataPathOffload routes audio controller-to-peripheral, bypassing
	// the host data channel entirely.
	ScoDataPathOffload ScoDataPath = 0x01
)

// ScoConnectionParameters are the negotiated parameters of an accepted
// synchronous connection, as the channel needs them to configure hardware.
type ScoConnectionParameters struct {
	CodingFormat        CodingFormat
	SampleRateHz        uint32
	CodedSampleSizeBits uint8
	Path                ScoDataPath
}

// VendorFeatures is a bit set of vendor extensions the controller supports.
type VendorFeatures uint32

const (
	// VendorFeatureScoConfig marks controllers whose synchronous channel
	// must be configured through a vendor command before use.
	VendorFeatureScoConfig VendorFeatures = 1 << 0
)

// VendorCommand identifies a vendor-specific command the device wrapper can
// encode.
type VendorCommand uint8

const (
	VendorCommandConfigureSco VendorCommand = 0x01
	VendorCommandResetSco     VendorCommand = 0x02
)

// Device wraps the driver primitives that open raw channels to a controller.
// Implementations own the hardware handle; everything above them deals only
// in framed packets. Configure and reset callbacks may fire on a different
// goroutine than the caller's, consumers must marshal back onto their own
// execution context before touching shared state.
type Device interface {
	// CommandChannel opens the command/event channel.
	CommandChannel() (io.ReadWriteCloser, error)

	// ACLDataChannel opens the ACL data channel.
	ACLDataChannel() (io.ReadWriteCloser, error)

	// ScoChannel opens the synchronous data channel, failing when the
	// controller has none.
	ScoChannel() (io.ReadWriteCloser, error)

	// ConfigureSco asks the controller to configure its synchronous path
	// for one stream. done fires exactly once.
	ConfigureSco(format CodingFormat, encoding SampleEncoding, rate SampleRate, done func(error))

	// ResetSco clears any synchronous path configuration. done fires
	// exactly once.
	ResetSco(done func(error))

	// VendorFeatures reports the controller's vendor extension bits.
	VendorFeatures() VendorFeatures

	// EncodeVendorCommand renders a vendor command into wire bytes, nil
	// when the controller has no such command.
	EncodeVendorCommand(command VendorCommand, params []byte) ([]byte, error)

	// Close releases the hardware handle.
	Close() error
}
