package h4

// frame reassembles H4 packets from an unframed byte stream. A UART
// delivers arbitrary chunks; complete packets, indicator byte included, are
// pushed to out. Bytes that can't start a known packet are skipped until an
// indicator shows up again.

const (
	indCommand = 0x01
	indACLData = 0x02
	indSCOData = 0x03
	indEvent   = 0x04
)

type frame struct {
	b   []byte
	out chan []byte
}

func newFrame(out chan []byte) *frame {
	return &frame{
		b:   make([]byte, 0, 512),
		out: out,
	}
}

func (f *frame) Assemble(b []byte) {
	f.b = append(f.b, b...)

	for {
		f.skipToIndicator()
		n, ok := f.frameLen()
		if !ok || len(f.b) < n {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, f.b[:n])
		f.out <- pkt
		f.b = f.b[:copy(f.b, f.b[n:])]
	}
}

func (f *frame) skipToIndicator() {
	i := 0
	for i < len(f.b) {
		switch f.b[i] {
		case indCommand, indACLData, indSCOData, indEvent:
			f.b = f.b[:copy(f.b, f.b[i:])]
			return
		}
		i++
	}
	f.b = f.b[:0]
}

// frameLen returns the full length of the packet at the buffer front, false
// while the header is still incomplete.
func (f *frame) frameLen() (int, bool) {
	if len(f.b) == 0 {
		return 0, false
	}
	switch f.b[0] {
	case indEvent:
		if len(f.b) < 3 {
			return 0, false
		}
		return 3 + int(f.b[2]), true
	case indSCOData:
		if len(f.b) < 4 {
			return 0, false
		}
		return 4 + int(f.b[3]), true
	case indACLData:
		if len(f.b) < 5 {
			return 0, false
		}
		return 5 + int(f.b[3]) + int(f.b[4])<<8, true
	case indCommand:
		if len(f.b) < 4 {
			return 0, false
		}
		return 4 + int(f.b[3]), true
	}
	return 0, false
}
