package igd

import (
	"cmp"
	"fmt"
	"slices"
)

// Protocol is the transport of a port mapping as reported by the router.
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
	ProtocolInvalid
)

// ParseProtocol maps the router's protocol string to a Protocol.
// Matching is exact and case-sensitive; anything else is ProtocolInvalid.
func ParseProtocol(s string) Protocol {
	switch s {
	case "TCP":
		return ProtocolTCP
	case "UDP":
		return ProtocolUDP
	default:
		return ProtocolInvalid
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return "Invalid"
	}
}

// wireName returns the protocol as sent to the router, or false for ProtocolInvalid.
func (p Protocol) wireName() (string, bool) {
	switch p {
	case ProtocolTCP, ProtocolUDP:
		return p.String(), true
	default:
		return "", false
	}
}

// PortMapping is one entry of the router's NAT table.
type PortMapping struct {
	ExternalPort   uint16
	InternalClient string
	InternalPort   uint16
	Protocol       Protocol
	Description    string
	Enabled        string
	RemoteHost     string
	Duration       string

	// protocolName is the protocol text exactly as the router sent it.
	protocolName string
}

// newPortMapping converts a raw table row into a PortMapping.
func newPortMapping(e GenericPortMappingEntry) PortMapping {
	return PortMapping{
		ExternalPort:   e.ExternalPort,
		InternalClient: e.InternalClient,
		InternalPort:   e.InternalPort,
		Protocol:       ParseProtocol(e.Protocol),
		Description:    e.Description,
		Enabled:        e.Enabled,
		RemoteHost:     e.RemoteHost,
		Duration:       e.LeaseDuration,
		protocolName:   e.Protocol,
	}
}

// SortKey orders mappings by external port, TCP before UDP on the same port.
func (m PortMapping) SortKey() uint32 {
	return uint32(m.ExternalPort)*2 + uint32(m.Protocol)
}

// DisplayLabel renders the mapping as "description (PROTO ext->client:int)".
func (m PortMapping) DisplayLabel() string {
	proto := m.protocolName
	if proto == "" {
		proto = m.Protocol.String()
	}
	return fmt.Sprintf("%s (%s %d->%s:%d)", m.Description, proto,
		m.ExternalPort, m.InternalClient, m.InternalPort)
}

// compareMappings orders by SortKey, then by the remaining fields so that
// equal keys still sort the same way regardless of input order.
func compareMappings(a, b PortMapping) int {
	return cmp.Or(
		cmp.Compare(a.SortKey(), b.SortKey()),
		cmp.Compare(a.Description, b.Description),
		cmp.Compare(a.InternalClient, b.InternalClient),
		cmp.Compare(a.InternalPort, b.InternalPort),
		cmp.Compare(a.RemoteHost, b.RemoteHost),
		cmp.Compare(a.protocolName, b.protocolName),
	)
}

// MappingCache mirrors the router's table as of the last enumeration.
// It is only touched from the controller's sequence.
type MappingCache struct {
	entries []PortMapping
}

// Reset empties the cache.
func (c *MappingCache) Reset() {
	c.entries = nil
}

// Append adds an entry at the end; call Sort once the pass is complete.
func (c *MappingCache) Append(m PortMapping) {
	c.entries = append(c.entries, m)
}

// Sort orders the cache ascending by SortKey.
func (c *MappingCache) Sort() {
	slices.SortStableFunc(c.entries, compareMappings)
}

// Len returns the number of cached entries.
func (c *MappingCache) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the cached entries in sort order.
func (c *MappingCache) Entries() []PortMapping {
	return slices.Clone(c.entries)
}
