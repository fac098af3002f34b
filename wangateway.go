package igd

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/dcps/internetgateway2"
)

// wanConnection is the subset of the IGD WAN connection service the
// controller drives. It is satisfied by WANIPConnection1, WANIPConnection2
// and WANPPPConnection1.
type wanConnection interface {
	GetExternalIPAddressCtx(ctx context.Context) (NewExternalIPAddress string, err error)
	GetStatusInfoCtx(ctx context.Context) (NewConnectionStatus string, NewLastConnectionError string, NewUptime uint32, err error)
	GetGenericPortMappingEntryCtx(ctx context.Context, NewPortMappingIndex uint16) (
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
		err error,
	)
	AddPortMappingCtx(
		ctx context.Context,
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error
	DeletePortMappingCtx(
		ctx context.Context,
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
	) error
}

// wanService is one WAN connection service found on a root device.
type wanService struct {
	conn   wanConnection
	client *goupnp.ServiceClient
}

// wanServiceFactory builds clients for one WAN connection service type.
type wanServiceFactory struct {
	name    string
	clients func(root *goupnp.RootDevice, loc *url.URL) ([]wanService, error)
}

// wanServiceFactories lists the supported services in order of preference:
// WANIPConnection2 (newest), WANIPConnection1 (cable/fiber), then
// WANPPPConnection1 (PPPoE routers like DSL).
var wanServiceFactories = []wanServiceFactory{
	{
		name: "WANIPConnection2",
		clients: func(root *goupnp.RootDevice, loc *url.URL) ([]wanService, error) {
			cs, err := internetgateway2.NewWANIPConnection2ClientsFromRootDevice(root, loc)
			return wrapServices(cs, err, func(c *internetgateway2.WANIPConnection2) *goupnp.ServiceClient {
				return &c.ServiceClient
			})
		},
	},
	{
		name: "WANIPConnection1",
		clients: func(root *goupnp.RootDevice, loc *url.URL) ([]wanService, error) {
			cs, err := internetgateway2.NewWANIPConnection1ClientsFromRootDevice(root, loc)
			return wrapServices(cs, err, func(c *internetgateway2.WANIPConnection1) *goupnp.ServiceClient {
				return &c.ServiceClient
			})
		},
	},
	{
		name: "WANPPPConnection1",
		clients: func(root *goupnp.RootDevice, loc *url.URL) ([]wanService, error) {
			cs, err := internetgateway2.NewWANPPPConnection1ClientsFromRootDevice(root, loc)
			return wrapServices(cs, err, func(c *internetgateway2.WANPPPConnection1) *goupnp.ServiceClient {
				return &c.ServiceClient
			})
		},
	},
}

func wrapServices[T wanConnection](cs []T, err error, sc func(T) *goupnp.ServiceClient) ([]wanService, error) {
	if err != nil {
		return nil, err
	}
	services := make([]wanService, 0, len(cs))
	for _, c := range cs {
		services = append(services, wanService{conn: c, client: sc(c)})
	}
	return services, nil
}

// wanGateway implements Gateway on a goupnp WAN connection client.
type wanGateway struct {
	conn        wanConnection
	serviceType string
	controlURL  string
	released    atomic.Bool
}

// errGatewayReleased is returned by calls on a gateway after Release.
var errGatewayReleased = fmt.Errorf("%w: gateway released", ErrNoValidIGD)

func newWANGateway(s wanService) *wanGateway {
	gw := &wanGateway{conn: s.conn}
	if s.client != nil && s.client.Service != nil {
		gw.serviceType = s.client.Service.ServiceType
		gw.controlURL = s.client.Service.ControlURL.URL.String()
	}
	return gw
}

func (g *wanGateway) ServiceType() string { return g.serviceType }

func (g *wanGateway) ControlURL() string { return g.controlURL }

// ExternalIPAddress returns the WAN address reported by the IGD.
func (g *wanGateway) ExternalIPAddress(ctx context.Context) (string, error) {
	if g.released.Load() {
		return "", errGatewayReleased
	}
	ip, err := g.conn.GetExternalIPAddressCtx(ctx)
	if err != nil {
		return "", routerErrorFrom(err)
	}
	return ip, nil
}

// IsConnected reports whether the WAN connection status is "Connected".
// A released gateway is never connected.
func (g *wanGateway) IsConnected(ctx context.Context) bool {
	if g.released.Load() {
		return false
	}
	status, _, _, err := g.conn.GetStatusInfoCtx(ctx)
	if err != nil {
		return false
	}
	return status == "Connected"
}

// PortMappingEntry fetches the table row at index.
func (g *wanGateway) PortMappingEntry(ctx context.Context, index uint16) (GenericPortMappingEntry, error) {
	if g.released.Load() {
		return GenericPortMappingEntry{}, errGatewayReleased
	}
	remoteHost, extPort, proto, intPort, intClient, enabled, desc, lease, err :=
		g.conn.GetGenericPortMappingEntryCtx(ctx, index)
	if err != nil {
		return GenericPortMappingEntry{}, routerErrorFrom(err)
	}

	return GenericPortMappingEntry{
		RemoteHost:     remoteHost,
		ExternalPort:   extPort,
		Protocol:       proto,
		InternalPort:   intPort,
		InternalClient: intClient,
		Enabled:        formatEnabled(enabled),
		Description:    desc,
		LeaseDuration:  strconv.FormatUint(uint64(lease), 10),
	}, nil
}

// AddPortMapping creates a port mapping on the IGD.
func (g *wanGateway) AddPortMapping(
	ctx context.Context,
	remoteHost string,
	externalPort uint16,
	protocol string,
	internalPort uint16,
	internalClient string,
	enabled bool,
	description string,
	leaseDuration uint32,
) error {
	if g.released.Load() {
		return errGatewayReleased
	}
	err := g.conn.AddPortMappingCtx(ctx, remoteHost, externalPort, protocol, internalPort,
		internalClient, enabled, description, leaseDuration)
	if err != nil {
		return routerErrorFrom(err)
	}
	return nil
}

// DeletePortMapping removes a port mapping from the IGD.
func (g *wanGateway) DeletePortMapping(ctx context.Context, remoteHost string, externalPort uint16, protocol string) error {
	if g.released.Load() {
		return errGatewayReleased
	}
	if err := g.conn.DeletePortMappingCtx(ctx, remoteHost, externalPort, protocol); err != nil {
		return routerErrorFrom(err)
	}
	return nil
}

// Release marks the gateway as no longer selected; later calls fail with
// errGatewayReleased. goupnp keeps no per-client connection open, so there
// is nothing else to free.
func (g *wanGateway) Release() {
	g.released.Store(true)
}

// formatEnabled renders the enabled flag the way the SOAP response carries it.
func formatEnabled(enabled bool) string {
	if enabled {
		return "1"
	}
	return "0"
}
