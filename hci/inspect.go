package hci

import jsoniter "github.com/json-iterator/go"

// TransportState is a point-in-time snapshot of one transport's channels,
// serialized for diagnostics.
type TransportState struct {
	Closed bool           `json:"closed"`
	ACL    *ACLState      `json:"acl,omitempty"`
	Sco    *ScoState      `json:"sco,omitempty"`
	Vendor VendorFeatures `json:"vendor_features"`
}

type ACLState struct {
	BREDRBufferInfo BufferInfo     `json:"bredr_buffer_info"`
	LEBufferInfo    BufferInfo     `json:"le_buffer_info"`
	Links           []uint16       `json:"links"`
	Pending         map[uint16]int `json:"pending"`
}

type ScoState struct {
	BufferInfo   BufferInfo     `json:"buffer_info"`
	Registered   []uint16       `json:"registered"`
	ActiveHandle *uint16        `json:"active_handle,omitempty"`
	Configured   bool           `json:"active_configured"`
	Pending      map[uint16]int `json:"pending"`
}

// Inspect snapshots the transport state.
func (t *Transport) Inspect() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := TransportState{
		Closed: t.closed,
		Vendor: t.device.VendorFeatures(),
	}
	if t.acl != nil {
		st.ACL = t.acl.inspect()
	}
	if t.sco != nil {
		st.Sco = t.sco.inspect()
	}
	return st
}

// InspectJSON renders the snapshot as JSON.
func (t *Transport) InspectJSON() ([]byte, error) {
	return jsoniter.Marshal(t.Inspect())
}

func (a *ACLDataChannel) inspect() *ACLState {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := &ACLState{
		BREDRBufferInfo: a.bredrInfo,
		LEBufferInfo:    a.leInfo,
		Links:           append([]uint16(nil), a.order...),
		Pending:         make(map[uint16]int, len(a.pending)),
	}
	for h, p := range a.pending {
		st.Pending[h] = p.count
	}
	return st
}

func (s *ScoDataChannel) inspect() *ScoState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &ScoState{
		BufferInfo: s.info,
		Registered: append([]uint16(nil), s.order...),
		Pending:    make(map[uint16]int, len(s.pending)),
	}
	for h, n := range s.pending {
		st.Pending[h] = n
	}
	if s.active != nil {
		h := s.active.conn.Handle()
		st.ActiveHandle = &h
		st.Configured = s.active.state == scoConnConfigured
	}
	return st
}
