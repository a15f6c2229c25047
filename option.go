package bthost

import "time"

// TransportOption is the configuration surface a transport implementation
// exposes to the Option functions below.
type TransportOption interface {
	SetDeviceHCISocket(id int) error
	SetDeviceH4Uart(path string) error
	SetErrorHandler(handler func(error)) error
	SetLogger(l Logger) error
	SetScoConfigTimeout(d time.Duration) error
}

// An Option is a configuration function, which configures the transport.
type Option func(TransportOption) error

// OptDeviceHCISocket selects the HCI user channel socket of the given device
// id as the raw controller channel.
func OptDeviceHCISocket(id int) Option {
	return func(opt TransportOption) error {
		return opt.SetDeviceHCISocket(id)
	}
}

// OptDeviceH4Uart selects an H4 framed UART at the given path as the raw
// controller channel.
func OptDeviceH4Uart(path string) Option {
	return func(opt TransportOption) error {
		return opt.SetDeviceH4Uart(path)
	}
}

// OptErrorHandler sets the handler invoked for asynchronous channel errors.
func OptErrorHandler(handler func(error)) Option {
	return func(opt TransportOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptLogger overrides the package default logger for one transport.
func OptLogger(l Logger) Option {
	return func(opt TransportOption) error {
		return opt.SetLogger(l)
	}
}

// OptScoConfigTimeout bounds the synchronous channel hardware configuration
// handshake. A connection whose configure callback has not arrived within d
// is torn down with a hardware error. Zero disables the timeout.
func OptScoConfigTimeout(d time.Duration) Option {
	return func(opt TransportOption) error {
		return opt.SetScoConfigTimeout(d)
	}
}
