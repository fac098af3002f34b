package igd

import (
	"context"
	"fmt"
	"net"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
)

// defaultNATPMPTimeout bounds the total retry time of one NAT-PMP request.
const defaultNATPMPTimeout = time.Second

// NATPMPResolver answers the external address over NAT-PMP, asking the
// host that serves the IGD's control URL. Many home routers speak both.
type NATPMPResolver struct {
	Timeout time.Duration
}

// ExternalIP queries the gateway behind gw for its external IPv4 address.
func (r NATPMPResolver) ExternalIP(ctx context.Context, gw Gateway) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	gateway, err := gatewayIP(gw.ControlURL())
	if err != nil {
		return "", fmt.Errorf("NAT-PMP gateway discovery failed: %w", err)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultNATPMPTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	client := natpmp.NewClientWithTimeout(gateway, timeout)
	result, err := client.GetExternalAddress()
	if err != nil {
		return "", fmt.Errorf("NAT-PMP external IP lookup failed: %w", err)
	}

	ip := net.IPv4(result.ExternalIPAddress[0], result.ExternalIPAddress[1],
		result.ExternalIPAddress[2], result.ExternalIPAddress[3])
	return ip.String(), nil
}
