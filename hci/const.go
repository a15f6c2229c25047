package hci

import "time"

// HCI packet indicators, the first byte of every packet on a raw controller
// channel.
const (
	pktTypeCommand uint8 = 0x01
	pktTypeACLData uint8 = 0x02
	pktTypeSCOData uint8 = 0x03
	pktTypeEvent   uint8 = 0x04
	pktTypeVendor  uint8 = 0xFF
)

// Fixed header sizes per packet kind [Vol 4, Part E, 5.4].
const (
	CommandHeaderSize = 3 // opcode (2) + parameter total length (1)
	EventHeaderSize   = 2 // event code (1) + parameter total length (1)
	ACLDataHeaderSize = 4 // handle+flags (2) + data total length (2)
	ScoDataHeaderSize = 3 // handle+flags (2) + data total length (1)
)

// Absolute payload maxima per packet kind. A request above these is a logic
// error in the caller, not a runtime condition.
const (
	MaxCommandPayloadSize = 255
	MaxEventPayloadSize   = 255
	MaxACLPayloadSize     = 1024
	MaxScoPayloadSize     = 255
)

// Buffer pool tiers. The smallest tier whose capacity covers the requested
// payload is always selected.
const (
	smallControlPayloadSize = 16
	smallACLPayloadSize     = 64
	mediumACLPayloadSize    = 256

	controlSlabSlots  = 8
	aclSmallSlabSlots = 32
	aclSlabSlots      = 16
	scoSlabSlots      = 16
)

// Packet boundary flags of an HCI ACL data packet [Vol 4, Part E, 5.4.2].
const (
	PbfFirstNonFlushable  = 0x00
	PbfContinuingFragment = 0x01
	PbfFirstFlushable     = 0x02
	PbfCompletePDU        = 0x03
)

// Event codes handled by this core.
const (
	ConnectionCompleteCode            = 0x03
	DisconnectionCompleteCode         = 0x05
	EncryptionChangeCode              = 0x08
	CommandCompleteCode               = 0x0E
	CommandStatusCode                 = 0x0F
	HardwareErrorCode                 = 0x10
	NumberOfCompletedPacketsCode      = 0x13
	SynchronousConnectionCompleteCode = 0x2C
	LEMetaEventCode                   = 0x3E
	VendorEventCode                   = 0xFF
)

// LE meta subevent codes handled by this core.
const (
	LEConnectionCompleteSubCode       = 0x01
	LEConnectionUpdateCompleteSubCode = 0x03
)

const (
	maxConnectionHandle = 0x0FFF

	chCmdBufChanSize    = 16
	chCmdBufElementSize = 4 + CommandHeaderSize + MaxCommandPayloadSize
	chCmdBufTimeout     = time.Second * 5
	cmdResponseTimeout  = time.Second * 10
)

const (
	ogfVendorSpecific = 0x3F
	ogfBitShift       = 10
)
