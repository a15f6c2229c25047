package l2cap

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/btleaf/bthost"
	"github.com/btleaf/bthost/hci"
)

type service struct {
	psm    uint16
	params ChannelParameters
	cb     func(*Channel)
}

// manager owns the per-link channel registries and the PSM service table.
type manager struct {
	acl *hci.ACLDataChannel
	log bthost.Logger

	mu       sync.Mutex
	links    map[uint16]*link
	services map[uint16]*service
}

func newManager(acl *hci.ACLDataChannel, log bthost.Logger) *manager {
	return &manager{
		acl:      acl,
		log:      log,
		links:    make(map[uint16]*link),
		services: make(map[uint16]*service),
	}
}

func (m *manager) addConnection(handle uint16, lt hci.LinkType, role ConnectionRole,
	errCb func(error), paramCb func(ConnectionParameters), secCb SecurityUpgradeCallback) *link {

	l := newLink(m, handle, lt, role, errCb)
	l.paramUpdateCb = paramCb
	l.securityCb = secCb

	m.mu.Lock()
	if _, ok := m.links[handle]; ok {
		m.mu.Unlock()
		panic(errors.Errorf("l2cap: connection handle 0x%04X already registered", handle))
	}
	m.links[handle] = l
	m.mu.Unlock()

	m.acl.RegisterLink(l)
	return l
}

func (m *manager) removeConnection(handle uint16) {
	m.mu.Lock()
	l, ok := m.links[handle]
	delete(m.links, handle)
	m.mu.Unlock()
	if !ok {
		m.log.Warnf("l2cap: remove of unknown connection handle 0x%04X", handle)
		return
	}

	m.acl.UnregisterLink(handle)
	m.acl.ClearControllerPacketCount(handle)

	l.mu.Lock()
	chs := make([]*Channel, 0, len(l.channels))
	for _, c := range l.channels {
		chs = append(chs, c)
	}
	l.channels = make(map[uint16]*Channel)
	l.mu.Unlock()
	for _, c := range chs {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	}
}

func (m *manager) linkFor(handle uint16) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[handle]
}

func (m *manager) assignSecurity(handle uint16, props SecurityProperties) {
	l := m.linkFor(handle)
	if l == nil {
		m.log.Warnf("l2cap: security assignment for unknown handle 0x%04X", handle)
		return
	}

	l.mu.Lock()
	l.security = props
	chs := make([]*Channel, 0, len(l.channels))
	for _, c := range l.channels {
		chs = append(chs, c)
	}
	l.mu.Unlock()
	for _, c := range chs {
		c.securityChanged(props)
	}
}

func (m *manager) requestParameterUpdate(handle uint16, p ConnectionParameters, cb func(accepted bool)) error {
	l := m.linkFor(handle)
	if l == nil {
		return errors.Errorf("no connection with handle 0x%04X", handle)
	}
	if l.linkType != hci.LinkTypeLE {
		return errors.Errorf("connection parameter update on non-LE handle 0x%04X", handle)
	}

	req := &ConnectionParameterUpdateRequest{
		IntervalMin:       p.IntervalMin,
		IntervalMax:       p.IntervalMax,
		PeripheralLatency: p.PeripheralLatency,
		TimeoutMultiplier: p.TimeoutMultiplier,
	}
	return l.sendSignal(req, func(code uint8, payload []byte) {
		var rsp ConnectionParameterUpdateResponse
		if code != SignalConnectionParameterUpdateResponse || rsp.Unmarshal(payload) != nil {
			cb(false)
			return
		}
		cb(rsp.Result == 0)
	})
}

func (m *manager) openChannel(handle, psm uint16, params ChannelParameters, cb func(*Channel, error)) error {
	l := m.linkFor(handle)
	if l == nil {
		return errors.Errorf("no connection with handle 0x%04X", handle)
	}

	cid, err := l.nextDynamicCID()
	if err != nil {
		return err
	}
	ch := &Channel{link: l, localCID: cid, psm: psm, mtu: channelMTU(params, l.linkType)}
	l.addChannel(ch)

	req := &ConnectionRequest{PSM: psm, SourceCID: cid}
	err = l.sendSignal(req, func(code uint8, payload []byte) {
		var rsp ConnectionResponse
		if code != SignalConnectionResponse || rsp.Unmarshal(payload) != nil {
			l.removeChannel(cid)
			cb(nil, errors.Errorf("channel open on psm 0x%04X rejected by peer", psm))
			return
		}
		if rsp.Result != ConnectionResultSuccessful {
			l.removeChannel(cid)
			cb(nil, errors.Errorf("channel open on psm 0x%04X failed: result 0x%04X", psm, rsp.Result))
			return
		}
		ch.remoteCID = rsp.DestinationCID
		cb(ch, nil)
	})
	if err != nil {
		l.removeChannel(cid)
		return err
	}
	return nil
}

func (m *manager) registerService(psm uint16, params ChannelParameters, cb func(*Channel)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[psm]; ok {
		return false
	}
	m.services[psm] = &service{psm: psm, params: params, cb: cb}
	return true
}

func (m *manager) unregisterService(psm uint16) {
	m.mu.Lock()
	delete(m.services, psm)
	m.mu.Unlock()
}

func (m *manager) serviceFor(psm uint16) *service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.services[psm]
}

// handleSignal processes one inbound signaling PDU for a link.
func (m *manager) handleSignal(l *link, pdu []byte) {
	code, id, payload, err := parseSignal(pdu)
	if err != nil {
		m.log.Warnf("l2cap: %s", err)
		return
	}

	switch code {
	case SignalConnectionRequest:
		m.handleConnectionRequest(l, id, payload)
	case SignalDisconnectRequest:
		m.handleDisconnectRequest(l, id, payload)
	case SignalConnectionParameterUpdateRequest:
		m.handleParameterUpdateRequest(l, id, payload)

	case SignalConnectionResponse:
		var rsp ConnectionResponse
		if rsp.Unmarshal(payload) == nil && rsp.Result == ConnectionResultPending {
			// the final response reuses the identifier, keep waiting
			return
		}
		m.completeSignal(l, code, id, payload)
	case SignalCommandReject, SignalDisconnectResponse, SignalConnectionParameterUpdateResponse:
		m.completeSignal(l, code, id, payload)

	default:
		if err := l.respondSignal(id, &CommandReject{Reason: 0x0000}); err != nil {
			m.log.Warnf("l2cap: can't reject signaling code 0x%02X: %s", code, err)
		}
	}
}

func (m *manager) completeSignal(l *link, code, id uint8, payload []byte) {
	f := l.takePendingSig(id)
	if f == nil {
		m.log.Debugf("l2cap: unmatched signaling response code 0x%02X id %d", code, id)
		return
	}
	f(code, payload)
}

func (m *manager) handleConnectionRequest(l *link, id uint8, payload []byte) {
	var req ConnectionRequest
	if err := req.Unmarshal(payload); err != nil {
		m.log.Warnf("l2cap: malformed connection request: %s", err)
		return
	}

	svc := m.serviceFor(req.PSM)
	if svc == nil {
		rsp := &ConnectionResponse{SourceCID: req.SourceCID, Result: ConnectionResultPSMUnsupported}
		if err := l.respondSignal(id, rsp); err != nil {
			m.log.Warnf("l2cap: can't refuse psm 0x%04X: %s", req.PSM, err)
		}
		return
	}

	cid, err := l.nextDynamicCID()
	if err != nil {
		rsp := &ConnectionResponse{SourceCID: req.SourceCID, Result: ConnectionResultNoResources}
		if err := l.respondSignal(id, rsp); err != nil {
			m.log.Warnf("l2cap: can't refuse psm 0x%04X: %s", req.PSM, err)
		}
		return
	}

	ch := &Channel{
		link:      l,
		localCID:  cid,
		remoteCID: req.SourceCID,
		psm:       req.PSM,
		mtu:       channelMTU(svc.params, l.linkType),
	}
	l.addChannel(ch)

	rsp := &ConnectionResponse{DestinationCID: cid, SourceCID: req.SourceCID, Result: ConnectionResultSuccessful}
	if err := l.respondSignal(id, rsp); err != nil {
		l.removeChannel(cid)
		m.log.Warnf("l2cap: can't accept psm 0x%04X: %s", req.PSM, err)
		return
	}
	svc.cb(ch)
}

func (m *manager) handleDisconnectRequest(l *link, id uint8, payload []byte) {
	var req DisconnectRequest
	if err := req.Unmarshal(payload); err != nil {
		m.log.Warnf("l2cap: malformed disconnect request: %s", err)
		return
	}

	ch := l.channelByLocalCID(req.DestinationCID)
	if ch == nil || ch.remoteCID != req.SourceCID {
		if err := l.respondSignal(id, &CommandReject{Reason: 0x0002}); err != nil {
			m.log.Warnf("l2cap: can't reject disconnect: %s", err)
		}
		return
	}

	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
	l.removeChannel(ch.localCID)

	rsp := &DisconnectResponse{DestinationCID: req.DestinationCID, SourceCID: req.SourceCID}
	if err := l.respondSignal(id, rsp); err != nil {
		m.log.Warnf("l2cap: can't acknowledge disconnect of cid 0x%04X: %s", req.DestinationCID, err)
	}
}

func (m *manager) handleParameterUpdateRequest(l *link, id uint8, payload []byte) {
	var req ConnectionParameterUpdateRequest
	if err := req.Unmarshal(payload); err != nil {
		m.log.Warnf("l2cap: malformed parameter update request: %s", err)
		return
	}

	result := uint16(1) // rejected
	if l.paramUpdateCb != nil {
		l.paramUpdateCb(ConnectionParameters{
			IntervalMin:       req.IntervalMin,
			IntervalMax:       req.IntervalMax,
			PeripheralLatency: req.PeripheralLatency,
			TimeoutMultiplier: req.TimeoutMultiplier,
		})
		result = 0
	}
	if err := l.respondSignal(id, &ConnectionParameterUpdateResponse{Result: result}); err != nil {
		m.log.Warnf("l2cap: can't answer parameter update: %s", err)
	}
}

func channelMTU(p ChannelParameters, lt hci.LinkType) uint16 {
	if p.MaxRxSDUSize != 0 {
		return p.MaxRxSDUSize
	}
	if lt == hci.LinkTypeLE {
		return leDefaultMTU
	}
	return defaultMTU
}
