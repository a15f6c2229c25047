// Package l2cap multiplexes logical channels over the physical links managed
// by the hci package.
package l2cap

import (
	"github.com/btleaf/bthost"
	"github.com/btleaf/bthost/hci"
)

// ConnectionRole is the link-layer role of the local device on a connection.
type ConnectionRole uint8

const (
	RoleCentral    ConnectionRole = 0x00
	RolePeripheral ConnectionRole = 0x01
)

// SecurityLevel is the link security a channel may require.
type SecurityLevel uint8

const (
	SecurityLevelNone SecurityLevel = iota
	SecurityLevelEncrypted
	SecurityLevelAuthenticated
)

// SecurityProperties describes the security state of a physical link.
type SecurityProperties struct {
	Encrypted         bool
	Authenticated     bool
	SecureConnections bool
	KeySize           uint8
}

// ConnectionParameters are the LE connection parameters negotiated through
// the signaling channel.
type ConnectionParameters struct {
	IntervalMin       uint16
	IntervalMax       uint16
	PeripheralLatency uint16
	TimeoutMultiplier uint16
}

// ChannelParameters configures a channel opened locally or accepted on a
// registered service. A zero MaxRxSDUSize selects the transport default.
type ChannelParameters struct {
	MaxRxSDUSize uint16
}

// SecurityUpgradeCallback is invoked when a channel asks for the link's
// security to be raised. The owner performs the upgrade and reports back
// through AssignLinkSecurityProperties.
type SecurityUpgradeCallback func(handle uint16, level SecurityLevel)

// FixedLEChannels are the channels that exist on every LE link without a
// connection handshake.
type FixedLEChannels struct {
	Attribute       *Channel
	SecurityManager *Channel
}

// ChannelManager is the multiplexing surface over an initialized ACL data
// channel. All methods are safe for concurrent use.
type ChannelManager struct {
	m *manager
}

// NewChannelManager builds a channel manager on top of the given ACL data
// channel. The channel is required; passing nil panics.
func NewChannelManager(acl *hci.ACLDataChannel, log bthost.Logger) *ChannelManager {
	if acl == nil {
		panic("l2cap: channel manager requires an acl data channel")
	}
	if log == nil {
		log = bthost.GetLogger()
	}
	return &ChannelManager{m: newManager(acl, log.ChildLogger(map[string]interface{}{"subsystem": "l2cap"}))}
}

// AddACLConnection registers a BR/EDR link for multiplexing. linkErrCb fires
// if the underlying data channel fails; securityCb is invoked when a channel
// on this link requests a security upgrade. Registering a handle twice
// panics.
func (cm *ChannelManager) AddACLConnection(handle uint16, role ConnectionRole,
	linkErrCb func(error), securityCb SecurityUpgradeCallback) {
	cm.m.addConnection(handle, hci.LinkTypeBREDR, role, linkErrCb, nil, securityCb)
}

// AddLEConnection registers an LE link and returns its fixed channels.
// paramCb receives connection-parameter update requests from a peripheral
// peer; accepting the request is implied by having a callback registered.
func (cm *ChannelManager) AddLEConnection(handle uint16, role ConnectionRole,
	linkErrCb func(error), paramCb func(ConnectionParameters),
	securityCb SecurityUpgradeCallback) FixedLEChannels {

	l := cm.m.addConnection(handle, hci.LinkTypeLE, role, linkErrCb, paramCb, securityCb)

	att := &Channel{link: l, localCID: CIDAttribute, remoteCID: CIDAttribute, mtu: leDefaultMTU}
	smp := &Channel{link: l, localCID: CIDSecurityManager, remoteCID: CIDSecurityManager, mtu: leDefaultMTU}
	l.addChannel(att)
	l.addChannel(smp)
	return FixedLEChannels{Attribute: att, SecurityManager: smp}
}

// RemoveConnection tears down all channel state for a link and releases its
// controller packet budget.
func (cm *ChannelManager) RemoveConnection(handle uint16) {
	cm.m.removeConnection(handle)
}

// AssignLinkSecurityProperties propagates a security change to every open
// channel on the link.
func (cm *ChannelManager) AssignLinkSecurityProperties(handle uint16, props SecurityProperties) {
	cm.m.assignSecurity(handle, props)
}

// RequestConnectionParameterUpdate forwards an LE connection-parameter
// negotiation request to the peer. cb reports whether the peer accepted.
func (cm *ChannelManager) RequestConnectionParameterUpdate(handle uint16,
	params ConnectionParameters, cb func(accepted bool)) error {
	return cm.m.requestParameterUpdate(handle, params, cb)
}

// OpenChannel opens a dynamic channel to the peer service at psm on an
// existing link. cb fires once the handshake completes.
func (cm *ChannelManager) OpenChannel(handle, psm uint16, params ChannelParameters,
	cb func(*Channel, error)) error {
	return cm.m.openChannel(handle, psm, params, cb)
}

// RegisterService accepts incoming channel-open requests on psm. It returns
// false if the psm is already registered.
func (cm *ChannelManager) RegisterService(psm uint16, params ChannelParameters,
	cb func(*Channel)) bool {
	return cm.m.registerService(psm, params, cb)
}

// UnregisterService stops accepting channels on psm. Channels already open
// stay up.
func (cm *ChannelManager) UnregisterService(psm uint16) {
	cm.m.unregisterService(psm)
}
