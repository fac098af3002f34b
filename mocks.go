package igd

import (
	"context"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MockGateway implements Gateway as an in-memory router for testing.
// Its table answers index lookups in insertion order, like most routers.
type MockGateway struct {
	mu            sync.Mutex
	table         []GenericPortMappingEntry
	serviceType   string
	controlURL    string
	externalIP    string
	externalIPErr error
	connected     bool
	latency       time.Duration

	addErr    error
	deleteErr error
	// entryErrAt makes PortMappingEntry fail with entryErr at that index.
	entryErrAt int
	entryErr   error
	// sideEffect runs after every successful mutation, on the table itself.
	sideEffect func(table []GenericPortMappingEntry) []GenericPortMappingEntry

	calls    map[string]int
	released int
}

// NewMockGateway creates a connected mock IGD with an empty table.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		serviceType: "urn:schemas-upnp-org:service:WANIPConnection:1",
		controlURL:  "http://192.168.1.1:5000/ctl/IPConn",
		externalIP:  "203.0.113.100", // RFC5737 test IP
		connected:   true,
		entryErrAt:  -1,
		calls:       make(map[string]int),
	}
}

// SetTable replaces the router's table.
func (m *MockGateway) SetTable(entries ...GenericPortMappingEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = slices.Clone(entries)
}

// Table returns a copy of the router's table.
func (m *MockGateway) Table() []GenericPortMappingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.table)
}

// SetExternalIP sets the address returned by ExternalIPAddress, or its failure.
func (m *MockGateway) SetExternalIP(ip string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externalIP = ip
	m.externalIPErr = err
}

// SetConnected sets the WAN link status.
func (m *MockGateway) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// SetLatency simulates a slow router.
func (m *MockGateway) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetAddError makes AddPortMapping fail with err.
func (m *MockGateway) SetAddError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addErr = err
}

// SetDeleteError makes DeletePortMapping fail with err.
func (m *MockGateway) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// SetEntryError makes PortMappingEntry fail with err at index.
func (m *MockGateway) SetEntryError(index int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryErrAt = index
	m.entryErr = err
}

// SetSideEffect installs a hook that rewrites the table after each
// successful mutation, simulating routers that touch adjacent entries.
func (m *MockGateway) SetSideEffect(f func([]GenericPortMappingEntry) []GenericPortMappingEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sideEffect = f
}

// Calls returns how many times the named method was invoked.
func (m *MockGateway) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Released returns how many times Release was called.
func (m *MockGateway) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

func (m *MockGateway) enter(method string) {
	m.calls[method]++
	if m.latency > 0 {
		time.Sleep(m.latency)
	}
}

func (m *MockGateway) ServiceType() string { return m.serviceType }

func (m *MockGateway) ControlURL() string { return m.controlURL }

// ExternalIPAddress implements the Gateway interface
func (m *MockGateway) ExternalIPAddress(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enter("ExternalIPAddress")

	if m.externalIPErr != nil {
		return "", m.externalIPErr
	}
	return m.externalIP, nil
}

// IsConnected implements the Gateway interface
func (m *MockGateway) IsConnected(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enter("IsConnected")
	return m.connected
}

// PortMappingEntry implements the Gateway interface
func (m *MockGateway) PortMappingEntry(ctx context.Context, index uint16) (GenericPortMappingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enter("PortMappingEntry")

	if m.entryErr != nil && int(index) == m.entryErrAt {
		return GenericPortMappingEntry{}, m.entryErr
	}
	if int(index) >= len(m.table) {
		return GenericPortMappingEntry{}, newRouterError(CodeSpecifiedArrayIndexInvalid)
	}
	return m.table[index], nil
}

// AddPortMapping implements the Gateway interface. Re-adding an existing
// external port and protocol for the same client updates it in place; for a
// different client it fails with ConflictInMappingEntry, as IGDs do.
func (m *MockGateway) AddPortMapping(
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
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enter("AddPortMapping")

	if m.addErr != nil {
		return m.addErr
	}
	if protocol != "TCP" && protocol != "UDP" {
		return newRouterError(402)
	}

	entry := GenericPortMappingEntry{
		RemoteHost:     remoteHost,
		ExternalPort:   externalPort,
		Protocol:       protocol,
		InternalPort:   internalPort,
		InternalClient: internalClient,
		Enabled:        formatEnabled(enabled),
		Description:    description,
		LeaseDuration:  formatLease(leaseDuration),
	}

	if i := m.indexOf(remoteHost, externalPort, protocol); i >= 0 {
		if m.table[i].InternalClient != internalClient {
			return newRouterError(CodeConflictInMappingEntry)
		}
		m.table[i] = entry
	} else {
		m.table = append(m.table, entry)
	}

	m.applySideEffect()
	return nil
}

// DeletePortMapping implements the Gateway interface
func (m *MockGateway) DeletePortMapping(ctx context.Context, remoteHost string, externalPort uint16, protocol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enter("DeletePortMapping")

	if m.deleteErr != nil {
		return m.deleteErr
	}

	i := m.indexOf(remoteHost, externalPort, protocol)
	if i < 0 {
		return newRouterError(CodeNoSuchEntryInArray)
	}
	m.table = slices.Delete(m.table, i, i+1)

	m.applySideEffect()
	return nil
}

// Release implements the Gateway interface
func (m *MockGateway) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *MockGateway) indexOf(remoteHost string, externalPort uint16, protocol string) int {
	for i, e := range m.table {
		if e.RemoteHost == remoteHost && e.ExternalPort == externalPort && e.Protocol == protocol {
			return i
		}
	}
	return -1
}

func (m *MockGateway) applySideEffect() {
	if m.sideEffect != nil {
		m.table = m.sideEffect(m.table)
	}
}

func formatLease(seconds uint32) string {
	return strconv.FormatUint(uint64(seconds), 10)
}

// MockControlLibrary implements ControlLibrary for testing.
type MockControlLibrary struct {
	mu          sync.Mutex
	devices     []Device
	discoverErr error
	gate        chan struct{}
	status      SelectStatus
	gateway     Gateway
	lanAddr     net.IP

	discoverCalls int
	selectCalls   int
	lastSelected  []Device
}

// NewMockControlLibrary creates a library that discovers one device and
// selects gw as a connected IGD.
func NewMockControlLibrary(gw Gateway) *MockControlLibrary {
	return &MockControlLibrary{
		devices: []Device{{USN: "uuid:mock-igd::urn:schemas-upnp-org:device:InternetGatewayDevice:1"}},
		status:  StatusConnectedIGD,
		gateway: gw,
		lanAddr: net.IPv4(192, 168, 1, 100),
	}
}

// SetDevices sets the list returned by Discover.
func (l *MockControlLibrary) SetDevices(devices []Device, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices = devices
	l.discoverErr = err
}

// SetSelection sets what SelectValidIGD returns.
func (l *MockControlLibrary) SetSelection(status SelectStatus, gw Gateway) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = status
	l.gateway = gw
}

// Block makes Discover wait until the returned function is called.
func (l *MockControlLibrary) Block() (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate := make(chan struct{})
	l.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// DiscoverCalls returns how many discoveries were started.
func (l *MockControlLibrary) DiscoverCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discoverCalls
}

// SelectCalls returns how many selections were attempted.
func (l *MockControlLibrary) SelectCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selectCalls
}

// LastSelected returns the device list passed to the last selection.
func (l *MockControlLibrary) LastSelected() []Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.lastSelected)
}

// Discover implements the ControlLibrary interface
func (l *MockControlLibrary) Discover(ctx context.Context) ([]Device, error) {
	l.mu.Lock()
	l.discoverCalls++
	gate := l.gate
	devices := slices.Clone(l.devices)
	err := l.discoverErr
	l.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return devices, err
}

// SelectValidIGD implements the ControlLibrary interface
func (l *MockControlLibrary) SelectValidIGD(ctx context.Context, devices []Device) (SelectStatus, Gateway, net.IP) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selectCalls++
	l.lastSelected = slices.Clone(devices)

	if len(devices) == 0 {
		return StatusNoIGD, nil, nil
	}
	return l.status, l.gateway, l.lanAddr
}
