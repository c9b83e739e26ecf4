// Package gateway emulates the device side of the link. A Peripheral
// reassembles command fragments, hands complete commands to a Handler and
// writes the fragmented reply back. The Handler keeps devices, registers
// and configuration in a storage.Store.
//
// It exists so the client can be exercised end to end without hardware,
// both in tests over a transport.Pipe and from `gwlink emulate`.
package gateway
