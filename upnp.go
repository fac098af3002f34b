package igd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/huin/goupnp"
	"github.com/huin/goupnp/httpu"
	"github.com/huin/goupnp/ssdp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// UPnPLibrary implements ControlLibrary with goupnp: SSDP discovery of
// Internet Gateway Devices and SOAP control of their WAN connection service.
type UPnPLibrary struct {
	searchTargets []string
	logger        *slog.Logger

	// newClient opens the HTTPU client one search runs on.
	newClient func() (ssdp.HTTPUClientCtx, func(), error)
}

// NewUPnPLibrary creates a goupnp-backed control library searching for
// IGDv2 and IGDv1 root devices.
func NewUPnPLibrary(logger *slog.Logger) *UPnPLibrary {
	if logger == nil {
		logger = slog.Default()
	}
	return &UPnPLibrary{
		searchTargets: []string{urnIGDv2, urnIGDv1},
		logger:        logger,
		newClient:     newSearchClient,
	}
}

// ssdpAnswer is one deduplicated search response awaiting its description.
type ssdpAnswer struct {
	usn       string
	location  *url.URL
	localAddr net.IP
}

// Discover runs one SSDP search per target in parallel, merges the answers
// and then fetches each device description. The ctx deadline bounds the
// search window only; descriptions are fetched afterwards on their own
// timeout, so a search that used its full window still yields devices.
// Finding nothing is not an error; an error is returned only when every
// search failed outright.
func (l *UPnPLibrary) Discover(ctx context.Context) ([]Device, error) {
	results := make([][]*http.Response, len(l.searchTargets))
	errs := make([]error, len(l.searchTargets))

	var g errgroup.Group
	for i, target := range l.searchTargets {
		g.Go(func() error {
			found, err := l.search(ctx, target)
			if err != nil {
				errs[i] = fmt.Errorf("SSDP search for %s failed: %w", target, err)
				return errs[i]
			}
			results[i] = found
			return nil
		})
	}
	waitErr := g.Wait()

	answers := mergeAnswers(results)
	if waitErr != nil {
		combined := multierr.Combine(errs...)
		if len(answers) == 0 && len(multierr.Errors(combined)) == len(l.searchTargets) {
			return nil, combined
		}
		l.logger.Debug("partial SSDP search failure", "error", combined)
	}

	return l.describe(context.WithoutCancel(ctx), answers), nil
}

func (l *UPnPLibrary) search(ctx context.Context, target string) ([]*http.Response, error) {
	client, closeClient, err := l.newClient()
	if err != nil {
		return nil, err
	}
	defer closeClient()
	return ssdp.RawSearch(ctx, client, target, 3)
}

// describe fetches the root device description of every answer in parallel.
// A failed fetch is kept on the Device so selection can report it.
func (l *UPnPLibrary) describe(ctx context.Context, answers []ssdpAnswer) []Device {
	devices := make([]Device, len(answers))

	var g errgroup.Group
	for i, a := range answers {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, descriptionTimeout)
			defer cancel()

			d := Device{USN: a.usn, Location: a.location, LocalAddr: a.localAddr}
			root, err := goupnp.DeviceByURLCtx(fetchCtx, a.location)
			if err != nil {
				d.err = err
				l.logger.Debug("device description fetch failed", "location", a.location, "error", err)
			} else {
				d.root = root
			}
			devices[i] = d
			return nil
		})
	}
	_ = g.Wait()

	return devices
}

// mergeAnswers flattens the per-target responses, keeping the first answer
// per device UUID and location.
func mergeAnswers(results [][]*http.Response) []ssdpAnswer {
	seen := make(map[string]bool)
	var answers []ssdpAnswer
	for _, found := range results {
		for _, resp := range found {
			loc, err := resp.Location()
			if err != nil {
				continue
			}
			usn := resp.Header.Get("USN")
			key := deviceKey(usn, loc)
			if seen[key] {
				continue
			}
			seen[key] = true

			a := ssdpAnswer{usn: usn, location: loc}
			if ip := net.ParseIP(resp.Header.Get(httpu.LocalAddressHeader)); ip != nil && !ip.IsUnspecified() {
				a.localAddr = ip
			}
			answers = append(answers, a)
		}
	}
	return answers
}

// deviceKey identifies a device by the UUID part of its USN and its
// location. The USN suffix names the search target, so the same root
// device answering both IGD searches shares one key.
func deviceKey(usn string, loc *url.URL) string {
	uuid, _, _ := strings.Cut(usn, "::")
	return uuid + "|" + loc.String()
}

// newSearchClient opens one HTTPU socket on any local port per multicast
// capable IPv4 interface, so answers carry the LAN address they came in on.
func newSearchClient() (ssdp.HTTPUClientCtx, func(), error) {
	addrs := localMulticastAddrs()
	if len(addrs) == 0 {
		c, err := httpu.NewHTTPUClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SSDP socket: %w", err)
		}
		return c, func() { c.Close() }, nil
	}

	clients := make([]*httpu.HTTPUClient, 0, len(addrs))
	delegates := make([]httpu.ClientInterfaceCtx, 0, len(addrs))
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	for _, addr := range addrs {
		c, err := httpu.NewHTTPUClientAddr(addr)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to open SSDP socket on %s: %w", addr, err)
		}
		clients = append(clients, c)
		delegates = append(delegates, c)
	}
	return httpu.NewMultiClientCtx(delegates), closeAll, nil
}

// SelectValidIGD walks the devices in order and returns the first IGD whose
// WAN connection is up. Failing that it returns the first IGD found, with
// StatusDisconnectedIGD. StatusNotIGD means devices answered but none
// exposes a WAN connection service.
func (l *UPnPLibrary) SelectValidIGD(ctx context.Context, devices []Device) (SelectStatus, Gateway, net.IP) {
	var (
		fallback    *wanGateway
		fallbackLAN net.IP
		sawRoot     bool
		errs        error
	)

	for _, d := range devices {
		if d.root == nil {
			if d.err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", d.USN, d.err))
			}
			continue
		}
		sawRoot = true

		for _, factory := range wanServiceFactories {
			services, err := factory.clients(d.root, d.Location)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", d.USN, factory.name, err))
				continue
			}

			for _, s := range services {
				gw := newWANGateway(s)
				lan := lanAddrFor(d, gw)
				if gw.IsConnected(ctx) {
					if fallback != nil {
						fallback.Release()
					}
					l.logger.Debug("connected IGD found",
						"device", d.root.Device.FriendlyName,
						"service", factory.name,
						"location", d.Location)
					return StatusConnectedIGD, gw, lan
				}
				if fallback == nil {
					fallback, fallbackLAN = gw, lan
				} else {
					gw.Release()
				}
			}
		}
	}

	if errs != nil {
		l.logger.Debug("IGD candidates skipped", "error", errs)
	}

	switch {
	case fallback != nil:
		return StatusDisconnectedIGD, fallback, fallbackLAN
	case sawRoot:
		return StatusNotIGD, nil, nil
	default:
		return StatusNoIGD, nil, nil
	}
}

// lanAddrFor returns the local address the device was discovered from, or
// the address the host would use to reach the gateway's control URL.
func lanAddrFor(d Device, gw *wanGateway) net.IP {
	if d.LocalAddr != nil {
		return d.LocalAddr
	}
	host := hostOf(gw.ControlURL())
	if host == "" && d.Location != nil {
		host = d.Location.Hostname()
	}
	ip, err := localAddrTowards(host)
	if err != nil {
		return nil
	}
	return ip
}
