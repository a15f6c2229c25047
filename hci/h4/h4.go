// Package h4 frames an HCI H4 byte stream, normally a UART, into one
// packet per Read.
package h4

import (
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

const rxQueueSize = 64

type h4 struct {
	sp  io.ReadWriteCloser
	rmu sync.Mutex
	wmu sync.Mutex

	rxQueue chan []byte

	done chan struct{}
	cmu  sync.Mutex
}

// DefaultSerialOptions is the usual 115200 8N1 setup for an HCI UART.
func DefaultSerialOptions() serial.OpenOptions {
	return serial.OpenOptions{
		BaudRate:              115200,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}
}

// NewSerial opens an H4 framed channel over the serial port at path.
func NewSerial(path string) (io.ReadWriteCloser, error) {
	opts := DefaultSerialOptions()
	opts.PortName = path
	return New(opts)
}

// New opens an H4 framed channel over the given serial port options.
func New(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	// one Read per packet requires reassembly, not blocking reads
	opts.MinimumReadSize = 0
	if opts.InterCharacterTimeout == 0 {
		opts.InterCharacterTimeout = 100
	}

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "can't open serial port")
	}

	h := &h4{
		sp:      sp,
		rxQueue: make(chan []byte, rxQueueSize),
		done:    make(chan struct{}),
	}
	go h.rxLoop()
	return h, nil
}

func (h *h4) Read(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.rmu.Lock()
	defer h.rmu.Unlock()

	select {
	case <-h.done:
		return 0, io.EOF
	case t := <-h.rxQueue:
		if len(p) < len(t) {
			return 0, io.ErrShortBuffer
		}
		return copy(p, t), nil
	}
}

func (h *h4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.sp.Write(p)
	return n, errors.Wrap(err, "can't write h4 uart")
}

func (h *h4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
		return h.sp.Close()
	}
}

func (h *h4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *h4) rxLoop() {
	fr := newFrame(h.rxQueue)
	b := make([]byte, 1024)

	for h.isOpen() {
		n, err := h.sp.Read(b)
		if err != nil {
			h.Close()
			return
		}
		if n > 0 {
			fr.Assemble(b[:n])
		}
	}
}
