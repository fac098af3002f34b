package igd

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in   string
		want Protocol
	}{
		{"TCP", ProtocolTCP},
		{"UDP", ProtocolUDP},
		{"tcp", ProtocolInvalid},
		{"Udp", ProtocolInvalid},
		{"", ProtocolInvalid},
		{"SCTP", ProtocolInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProtocol(tt.in))
		})
	}
}

func TestProtocolWireName(t *testing.T) {
	name, ok := ProtocolTCP.wireName()
	assert.True(t, ok)
	assert.Equal(t, "TCP", name)

	name, ok = ProtocolUDP.wireName()
	assert.True(t, ok)
	assert.Equal(t, "UDP", name)

	_, ok = ProtocolInvalid.wireName()
	assert.False(t, ok)
}

func TestPortMappingSortKey(t *testing.T) {
	tests := []struct {
		name  string
		entry GenericPortMappingEntry
		want  uint32
	}{
		{"tcp 80", tcpEntry(80, "192.168.1.10", 8080, "web"), 160},
		{"udp 53", udpEntry(53, "192.168.1.11", 53, "dns"), 107},
		{"lowercase protocol", GenericPortMappingEntry{ExternalPort: 81, Protocol: "tcp"}, 164},
		{"highest port udp", udpEntry(65535, "192.168.1.12", 1, "max"), 131071},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newPortMapping(tt.entry).SortKey())
		})
	}
}

func TestMappingCacheSort(t *testing.T) {
	t.Run("orders by key with TCP before UDP", func(t *testing.T) {
		var cache MappingCache
		cache.Append(newPortMapping(tcpEntry(80, "192.168.1.10", 8080, "web")))
		cache.Append(newPortMapping(udpEntry(53, "192.168.1.11", 53, "dns")))
		cache.Append(newPortMapping(udpEntry(80, "192.168.1.10", 8080, "quic")))
		cache.Append(newPortMapping(GenericPortMappingEntry{ExternalPort: 53, Protocol: "tcp"}))
		cache.Sort()

		got := cache.Entries()
		require.Len(t, got, 4)
		assert.Equal(t, uint32(107), got[0].SortKey())
		assert.Equal(t, uint32(108), got[1].SortKey())
		assert.Equal(t, ProtocolInvalid, got[1].Protocol)
		assert.Equal(t, uint32(160), got[2].SortKey())
		assert.Equal(t, uint32(161), got[3].SortKey())
	})

	t.Run("equal keys sort the same regardless of input order", func(t *testing.T) {
		entries := []GenericPortMappingEntry{
			{ExternalPort: 1000, Protocol: "tcp", Description: "b"},
			{ExternalPort: 1000, Protocol: "SCTP", Description: "a"},
			{ExternalPort: 1000, Protocol: "udp", Description: "a"},
			{ExternalPort: 999, Protocol: "UDP", Description: "z"},
		}

		var reference []PortMapping
		rng := rand.New(rand.NewSource(1))
		for round := 0; round < 20; round++ {
			rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })

			var cache MappingCache
			for _, e := range entries {
				cache.Append(newPortMapping(e))
			}
			cache.Sort()

			if reference == nil {
				reference = cache.Entries()
				continue
			}
			assert.Equal(t, reference, cache.Entries(), "round %d", round)
		}
	})

	t.Run("reset empties the cache", func(t *testing.T) {
		var cache MappingCache
		cache.Append(newPortMapping(tcpEntry(22, "192.168.1.2", 22, "ssh")))
		cache.Reset()
		assert.Equal(t, 0, cache.Len())
		assert.Empty(t, cache.Entries())
	})
}

func TestMappingCacheEntriesIsCopy(t *testing.T) {
	var cache MappingCache
	cache.Append(newPortMapping(tcpEntry(22, "192.168.1.2", 22, "ssh")))

	got := cache.Entries()
	got[0].Description = "changed"

	assert.Equal(t, "ssh", cache.Entries()[0].Description)
}

func TestPortMappingDisplayLabel(t *testing.T) {
	t.Run("valid protocol", func(t *testing.T) {
		m := newPortMapping(tcpEntry(80, "192.168.1.10", 8080, "web"))
		assert.Equal(t, "web (TCP 80->192.168.1.10:8080)", m.DisplayLabel())
	})

	t.Run("keeps the router's protocol text", func(t *testing.T) {
		m := newPortMapping(GenericPortMappingEntry{
			ExternalPort:   81,
			Protocol:       "tcp",
			InternalPort:   81,
			InternalClient: "192.168.1.12",
			Description:    "odd",
		})
		assert.Equal(t, "odd (tcp 81->192.168.1.12:81)", m.DisplayLabel())
	})

	t.Run("constructed mapping", func(t *testing.T) {
		m := PortMapping{ExternalPort: 53, Protocol: ProtocolUDP, InternalClient: "10.0.0.2", InternalPort: 5353, Description: "dns"}
		assert.Equal(t, "dns (UDP 53->10.0.0.2:5353)", m.DisplayLabel())
	})
}

func TestNewPortMappingPassthrough(t *testing.T) {
	m := newPortMapping(GenericPortMappingEntry{
		RemoteHost:     "198.51.100.1",
		ExternalPort:   443,
		Protocol:       "TCP",
		InternalPort:   8443,
		InternalClient: "192.168.1.20",
		Enabled:        "0",
		Description:    "tls",
		LeaseDuration:  "3600",
	})

	assert.Equal(t, "198.51.100.1", m.RemoteHost)
	assert.Equal(t, "0", m.Enabled)
	assert.Equal(t, "3600", m.Duration)
	assert.Equal(t, ProtocolTCP, m.Protocol)
}
