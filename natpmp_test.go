package igd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayIP(t *testing.T) {
	tests := []struct {
		name       string
		controlURL string
		want       string
		wantErr    bool
	}{
		{"IPv4 control URL", "http://192.168.1.1:5000/ctl/IPConn", "192.168.1.1", false},
		{"no port", "http://10.0.0.1/upnp/control", "10.0.0.1", false},
		{"IPv6 literal", "http://[fe80::1]:5000/ctl", "", true},
		{"empty", "", "", true},
		{"unparsable", "://bad", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := gatewayIP(tt.controlURL)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip.String())
		})
	}
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "192.168.1.1", hostOf("http://192.168.1.1:5000/ctl/IPConn"))
	assert.Equal(t, "router.lan", hostOf("http://router.lan/desc.xml"))
	assert.Empty(t, hostOf("://bad"))
}

func TestLocalAddrTowards(t *testing.T) {
	_, err := localAddrTowards("")
	assert.Error(t, err)

	ip, err := localAddrTowards("127.0.0.1")
	require.NoError(t, err)
	assert.True(t, ip.IsLoopback())
}

func TestNATPMPResolverErrors(t *testing.T) {
	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NATPMPResolver{}.ExternalIP(ctx, NewMockGateway())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("control URL without a host", func(t *testing.T) {
		gw := &wanGateway{controlURL: ""}
		_, err := NATPMPResolver{}.ExternalIP(context.Background(), gw)
		assert.Error(t, err)
	})
}
