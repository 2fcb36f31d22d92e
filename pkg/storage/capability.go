// Package storage defines the capability-based driver contract the gateway
// core dispatches through. Backends advertise what they can do; the facade
// and the upload coordinator check capabilities, never concrete types.
package storage

import "strings"

// Capability is one backend feature flag.
type Capability uint16

const (
	// CapReader allows stat/list/download.
	CapReader Capability = 1 << iota

	// CapWriter allows upload/update/rename/copy/remove/mkdir.
	CapWriter

	// CapProxy means part bytes flow through the gateway (single_session).
	CapProxy

	// CapMultipart enables the multipart quintet.
	CapMultipart

	// CapAtomic means single-call uploads are atomic on the backend.
	CapAtomic

	// CapPresigned means the backend can mint client-facing part URLs.
	CapPresigned
)

var capabilityNames = map[Capability]string{
	CapReader:    "READER",
	CapWriter:    "WRITER",
	CapProxy:     "PROXY",
	CapMultipart: "MULTIPART",
	CapAtomic:    "ATOMIC",
	CapPresigned: "PRESIGNED",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// CapabilitySet is a bitmask of capabilities.
type CapabilitySet uint16

// NewCapabilitySet folds the given capabilities into a set.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var set CapabilitySet
	for _, c := range caps {
		set = set.Add(c)
	}
	return set
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// Add returns the set with the capability included.
func (s CapabilitySet) Add(c Capability) CapabilitySet {
	return s | CapabilitySet(c)
}

// Names returns the contained capability names in declaration order.
func (s CapabilitySet) Names() []string {
	ordered := []Capability{CapReader, CapWriter, CapProxy, CapMultipart, CapAtomic, CapPresigned}

	names := make([]string, 0, len(ordered))
	for _, c := range ordered {
		if s.Has(c) {
			names = append(names, c.String())
		}
	}
	return names
}

func (s CapabilitySet) String() string {
	names := s.Names()
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}
