package igd

import (
	"fmt"
	"net"
	"net/url"
)

// hostOf returns the host part of rawURL, or "" if it cannot be parsed.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// localAddrTowards returns the local IP the routing table would use to reach
// host. Opening a UDP "connection" sends no packets.
func localAddrTowards(host string) (net.IP, error) {
	if host == "" {
		return nil, fmt.Errorf("no gateway host")
	}

	conn, err := net.Dial("udp", net.JoinHostPort(host, "1900"))
	if err != nil {
		return nil, fmt.Errorf("failed to determine local IP: %w", err)
	}
	defer conn.Close()

	// Use safe type assertion to prevent potential panic
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type: %T", conn.LocalAddr())
	}
	return localAddr.IP, nil
}

// gatewayIP resolves the IPv4 address of the IGD from its control URL.
func gatewayIP(controlURL string) (net.IP, error) {
	host := hostOf(controlURL)
	if host == "" {
		return nil, fmt.Errorf("no host in control URL %q", controlURL)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve gateway %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("gateway %s has no address", host)
		}
		ip = addrs[0]
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not IPv4 address: %s", ip)
	}
	return ip4, nil
}

// localMulticastAddrs returns the IPv4 addresses of up, non-loopback,
// multicast capable interfaces.
func localMulticastAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var addrs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifAddrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			addrs = append(addrs, ipNet.IP.String())
		}
	}
	return addrs
}
