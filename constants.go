package igd

import "time"

// Constants for discovery and port-mapping table enumeration
const (
	discoveryTimeout = 2000 * time.Millisecond

	// descriptionTimeout bounds fetching one device description after the
	// search window has closed.
	descriptionTimeout = 5 * time.Second

	// maxPortMappingEntries bounds enumeration; the index is a uint16 on the wire.
	maxPortMappingEntries = 1 << 16

	// SSDP search targets for Internet Gateway Devices, newest first.
	urnIGDv2 = "urn:schemas-upnp-org:device:InternetGatewayDevice:2"
	urnIGDv1 = "urn:schemas-upnp-org:device:InternetGatewayDevice:1"
)
