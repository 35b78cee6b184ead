// Package addr defines the addressing unit used to key sessions, identities,
// and the skipped-key cache throughout the ratchet core.
package addr

import "fmt"

// ProtocolAddress identifies one of a peer's devices. A single logical
// identity (Name) may run several devices, each holding an independent
// Double Ratchet session; (Name, DeviceID) is the store key everywhere in
// this module.
type ProtocolAddress struct {
	Name     string
	DeviceID uint32
}

// New builds a ProtocolAddress for the given name and device id.
func New(name string, deviceID uint32) ProtocolAddress {
	return ProtocolAddress{Name: name, DeviceID: deviceID}
}

func (a ProtocolAddress) String() string {
	return fmt.Sprintf("%s.%d", a.Name, a.DeviceID)
}
