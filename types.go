package igd

import (
	"context"
	"net"
	"net/url"

	"github.com/huin/goupnp"
)

// Device is one candidate answering SSDP discovery.
type Device struct {
	USN       string
	Location  *url.URL
	LocalAddr net.IP

	root *goupnp.RootDevice
	err  error
}

// SelectStatus classifies the outcome of choosing an IGD from a device list.
type SelectStatus int

const (
	// StatusNoIGD means no usable device was found at all.
	StatusNoIGD SelectStatus = iota
	// StatusConnectedIGD means a valid IGD whose WAN connection is up.
	StatusConnectedIGD
	// StatusDisconnectedIGD means a valid IGD whose WAN connection is down.
	StatusDisconnectedIGD
	// StatusNotIGD means UPnP devices answered but none exposes a WAN connection service.
	StatusNotIGD
)

func (s SelectStatus) String() string {
	switch s {
	case StatusConnectedIGD:
		return "valid connected IGD"
	case StatusDisconnectedIGD:
		return "valid IGD, not connected"
	case StatusNotIGD:
		return "UPnP device found, not an IGD"
	default:
		return "no IGD found"
	}
}

// valid reports whether the status denotes a usable IGD regardless of link state.
func (s SelectStatus) valid() bool {
	return s == StatusConnectedIGD || s == StatusDisconnectedIGD
}

// GenericPortMappingEntry is one raw row of the router's port-mapping table.
// Enabled and LeaseDuration are kept as the router reported them.
type GenericPortMappingEntry struct {
	RemoteHost     string
	ExternalPort   uint16
	Protocol       string
	InternalPort   uint16
	InternalClient string
	Enabled        string
	Description    string
	LeaseDuration  string
}

// Gateway is the control endpoint of a selected IGD.
// Failed calls return a *RouterError.
type Gateway interface {
	ServiceType() string
	ControlURL() string
	ExternalIPAddress(ctx context.Context) (string, error)
	IsConnected(ctx context.Context) bool
	PortMappingEntry(ctx context.Context, index uint16) (GenericPortMappingEntry, error)
	AddPortMapping(
		ctx context.Context,
		remoteHost string,
		externalPort uint16,
		protocol string,
		internalPort uint16,
		internalClient string,
		enabled bool,
		description string,
		leaseDuration uint32,
	) error
	DeletePortMapping(ctx context.Context, remoteHost string, externalPort uint16, protocol string) error
	// Release drops any resources held for the endpoint. Calling it twice is a no-op.
	Release()
}

// ControlLibrary discovers UPnP devices and picks a valid IGD among them.
type ControlLibrary interface {
	// Discover searches until the ctx deadline. Work after the search
	// window, such as fetching descriptions, must not be cut short by it.
	Discover(ctx context.Context) ([]Device, error)
	SelectValidIGD(ctx context.Context, devices []Device) (SelectStatus, Gateway, net.IP)
}

// ExternalIPResolver answers the external address when the IGD's own query fails.
type ExternalIPResolver interface {
	ExternalIP(ctx context.Context, gw Gateway) (string, error)
}
