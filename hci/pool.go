package hci

// Packet backing buffers come from per-kind tiered slabs. A tier hands out
// fixed-layout buffers from a pre-allocated free list and falls back to a
// one-off allocation of the same layout when the list runs dry, so packet
// construction never fails merely because a slab is exhausted. Only a
// payload above the kind's largest tier is rejected.

type bufferTier struct {
	payloadCap int
	free       chan []byte
}

func newBufferTier(hdrSize, payloadCap, slots int) *bufferTier {
	t := &bufferTier{
		payloadCap: payloadCap,
		free:       make(chan []byte, slots),
	}
	for len(t.free) < slots {
		t.free <- make([]byte, hdrSize+payloadCap)
	}
	return t
}

func (t *bufferTier) get(hdrSize int) []byte {
	select {
	case b := <-t.free:
		return b
	default:
		// slab exhausted, same layout off the heap
		return make([]byte, hdrSize+t.payloadCap)
	}
}

func (t *bufferTier) put(b []byte) {
	select {
	case t.free <- b:
	default:
		// fallback buffer or slab already full, let it go
	}
}

type bufferPool struct {
	hdrSize int
	tiers   []*bufferTier // ascending payload capacity
}

// acquire selects the smallest tier that covers payloadSize. The returned
// tier pointer is what release needs to route the buffer home.
func (p *bufferPool) acquire(payloadSize int) ([]byte, *bufferTier, error) {
	for _, t := range p.tiers {
		if payloadSize <= t.payloadCap {
			return t.get(p.hdrSize), t, nil
		}
	}
	return nil, nil, ErrPayloadTooLarge
}

var (
	commandBufferPool = &bufferPool{
		hdrSize: CommandHeaderSize,
		tiers: []*bufferTier{
			newBufferTier(CommandHeaderSize, smallControlPayloadSize, controlSlabSlots),
			newBufferTier(CommandHeaderSize, MaxCommandPayloadSize, controlSlabSlots),
		},
	}
	eventBufferPool = &bufferPool{
		hdrSize: EventHeaderSize,
		tiers: []*bufferTier{
			newBufferTier(EventHeaderSize, smallControlPayloadSize, controlSlabSlots),
			newBufferTier(EventHeaderSize, MaxEventPayloadSize, controlSlabSlots),
		},
	}
	aclBufferPool = &bufferPool{
		hdrSize: ACLDataHeaderSize,
		tiers: []*bufferTier{
			newBufferTier(ACLDataHeaderSize, smallACLPayloadSize, aclSmallSlabSlots),
			newBufferTier(ACLDataHeaderSize, mediumACLPayloadSize, aclSlabSlots),
			newBufferTier(ACLDataHeaderSize, MaxACLPayloadSize, aclSlabSlots),
		},
	}
	scoBufferPool = &bufferPool{
		hdrSize: ScoDataHeaderSize,
		tiers: []*bufferTier{
			newBufferTier(ScoDataHeaderSize, MaxScoPayloadSize, scoSlabSlots),
		},
	}
)
