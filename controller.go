package igd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// DiscoveryTimeout bounds one discovery pass. Defaults to 2000 ms.
	DiscoveryTimeout time.Duration
	// ExternalIPFallback is asked for the external address when the IGD's
	// own query fails. Nil leaves the address empty in that case.
	ExternalIPFallback ExternalIPResolver
}

// State is the connectivity snapshot derived on every refresh.
type State struct {
	HasValidIGD bool
	Status      SelectStatus
	Connected   bool
	ExternalIP  string
	LANAddr     net.IP
	ServiceType string
	ControlURL  string
	// EnumerationErr is set when the last table pass stopped on a genuine
	// error rather than the router's end-of-table answer.
	EnumerationErr error
}

// Controller ties discovery, IGD selection and the port-mapping cache into
// one lifecycle. All state changes run on a single internal sequence;
// Refresh, AddPortMapping and DeletePortMapping block until their turn on
// that sequence has completed. The context only bounds the wait for that
// turn: router calls already issued are not cancelled and finish or fail on
// the transport's own timeout.
type Controller struct {
	lib      ControlLibrary
	logger   *slog.Logger
	fallback ExternalIPResolver

	devices *DeviceList
	worker  *discoveryWorker
	events  notifier

	ops       chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Owned by the sequence goroutine.
	endpoint *Endpoint
	state    State
	cache    MappingCache

	// Published copies for readers outside the sequence.
	snapMu       sync.RWMutex
	snapState    State
	snapMappings []PortMapping
}

// NewController creates a Controller on top of lib. No discovery happens
// until Scan is called.
func NewController(lib ControlLibrary, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DiscoveryTimeout
	if timeout <= 0 {
		timeout = discoveryTimeout
	}

	c := &Controller{
		lib:      lib,
		logger:   logger,
		fallback: opts.ExternalIPFallback,
		devices:  &DeviceList{},
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	c.worker = newDiscoveryWorker(lib, c.devices, timeout, logger, c.scanDone)

	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.quit:
			return
		}
	}
}

// do runs op on the sequence and waits for it to finish.
func (c *Controller) do(ctx context.Context, op func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		op()
	}

	select {
	case c.ops <- wrapped:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// OnEvent registers h for ScanStarted, ScanFinished and DataRefreshed.
func (c *Controller) OnEvent(h EventHandler) {
	c.events.subscribe(h)
}

// Scan starts discovery in the background. If one is already running, or
// the controller is closed, the call only emits ScanStarted. Completion
// emits ScanFinished and refreshes.
func (c *Controller) Scan() {
	c.events.emit(ScanStarted)
	if err := c.worker.start(); err != nil {
		if errors.Is(err, ErrClosed) {
			c.logger.Debug("scan ignored, controller closed")
		} else {
			c.logger.Debug("scan already in progress")
		}
		return
	}
	c.logger.Info("scanning for internet gateway devices")
}

// Scanning reports whether discovery is in flight.
func (c *Controller) Scanning() bool {
	return c.worker.isRunning()
}

// WaitScan blocks until pending scans and their refreshes have completed.
func (c *Controller) WaitScan(ctx context.Context) error {
	select {
	case <-c.worker.idleCh():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scanDone runs on the discovery goroutine and posts the continuation onto
// the controller's sequence.
func (c *Controller) scanDone() {
	op := func() {
		defer c.worker.finished()
		c.logger.Info("scan finished", "devices", c.devices.Len())
		c.events.emit(ScanFinished)
		c.refresh(context.Background())
	}

	select {
	case c.ops <- op:
	case <-c.quit:
		c.worker.finished()
	}
}

// Refresh re-selects the IGD and rebuilds the mapping cache from the router.
// It emits exactly one DataRefreshed. Selection and query failures are
// reflected in State, not returned.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.do(ctx, func() { c.refresh(context.WithoutCancel(ctx)) })
}

func (c *Controller) refresh(ctx context.Context) {
	c.releaseEndpoint()
	c.cache.Reset()
	c.state = State{}

	ep, err := selectValidIGD(ctx, c.lib, c.devices)
	if err != nil {
		c.logger.Info("no usable IGD", "error", err)
		c.publish()
		c.events.emit(DataRefreshed)
		return
	}

	c.endpoint = ep
	gw := ep.Gateway
	c.state.HasValidIGD = true
	c.state.Status = ep.Status
	c.state.LANAddr = ep.LANAddr
	c.state.ServiceType = gw.ServiceType()
	c.state.ControlURL = gw.ControlURL()
	c.state.ExternalIP = c.queryExternalIP(ctx, gw)
	c.state.Connected = gw.IsConnected(ctx)

	c.logger.Info("IGD selected",
		"status", ep.Status,
		"controlURL", c.state.ControlURL,
		"serviceType", c.state.ServiceType,
		"lanAddr", ep.LANAddr,
		"externalIP", c.state.ExternalIP,
		"connected", c.state.Connected)

	c.readPortMappings(ctx)
	c.publish()
	c.events.emit(DataRefreshed)
}

// queryExternalIP returns the external address, or "" when every source fails.
func (c *Controller) queryExternalIP(ctx context.Context, gw Gateway) string {
	ip, err := gw.ExternalIPAddress(ctx)
	if err == nil {
		return ip
	}
	c.logger.Warn("external IP query failed", "error", err)

	if c.fallback == nil {
		return ""
	}
	ip, err = c.fallback.ExternalIP(ctx, gw)
	if err != nil {
		c.logger.Warn("external IP fallback failed", "error", err)
		return ""
	}
	return ip
}

// readPortMappings enumerates the router's table from index 0 into the
// cache. The router's end-of-table answer ends the pass; any other error
// also ends it but is recorded in State.EnumerationErr.
func (c *Controller) readPortMappings(ctx context.Context) {
	gw := c.endpoint.Gateway
	c.cache.Reset()
	c.state.EnumerationErr = nil

	for i := 0; i < maxPortMappingEntries; i++ {
		entry, err := gw.PortMappingEntry(ctx, uint16(i))
		if err != nil {
			if !IsEndOfTable(err) {
				c.state.EnumerationErr = fmt.Errorf("port mapping entry %d: %w", i, err)
				c.logger.Warn("port mapping enumeration stopped early",
					"index", i,
					"entries", c.cache.Len(),
					"error", err)
			}
			break
		}

		m := newPortMapping(entry)
		c.logger.Debug("port mapping entry", "index", i, "mapping", m.DisplayLabel())
		c.cache.Append(m)
	}

	c.cache.Sort()
}

// reconcile rebuilds the cache from the router after a successful mutation.
// The router is the only source of truth, so the cache is never patched.
func (c *Controller) reconcile(ctx context.Context) {
	c.readPortMappings(ctx)
	c.publish()
	c.events.emit(DataRefreshed)
}

// DeletePortMapping removes m from the router, keyed by external port and
// protocol with a wildcard remote host. Mappings whose protocol is neither
// TCP nor UDP are rejected without contacting the router. On success the
// cache is re-enumerated; on a router failure a *RouterError is returned
// and the cache is left as it was.
func (c *Controller) DeletePortMapping(ctx context.Context, m PortMapping) error {
	var result error
	if err := c.do(ctx, func() { result = c.deletePortMapping(context.WithoutCancel(ctx), m) }); err != nil {
		return err
	}
	return result
}

func (c *Controller) deletePortMapping(ctx context.Context, m PortMapping) error {
	if !c.state.HasValidIGD || c.endpoint == nil {
		return ErrNoValidIGD
	}

	proto, ok := m.Protocol.wireName()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidProtocol, m.Protocol)
	}

	if err := c.endpoint.Gateway.DeletePortMapping(ctx, "", m.ExternalPort, proto); err != nil {
		rerr := routerErrorFrom(err)
		c.logger.Warn("router rejected port mapping deletion",
			"protocol", proto,
			"port", m.ExternalPort,
			"code", rerr.Code,
			"error", rerr.Message)
		return rerr
	}

	c.logger.Info("port mapping deleted", "protocol", proto, "port", m.ExternalPort)
	c.reconcile(ctx)
	return nil
}

// AddPortMapping asks the router to forward externalPort/protocol to
// internalClient:internalPort with a permanent lease. Arguments are passed
// through unvalidated; the router decides. On success the cache is
// re-enumerated; on a router failure a *RouterError is returned and the
// cache is left as it was.
func (c *Controller) AddPortMapping(
	ctx context.Context,
	externalPort uint16,
	protocol string,
	internalPort uint16,
	internalClient string,
	description string,
) error {
	var result error
	op := func() {
		result = c.addPortMapping(context.WithoutCancel(ctx), externalPort, protocol, internalPort, internalClient, description)
	}
	if err := c.do(ctx, op); err != nil {
		return err
	}
	return result
}

func (c *Controller) addPortMapping(
	ctx context.Context,
	externalPort uint16,
	protocol string,
	internalPort uint16,
	internalClient string,
	description string,
) error {
	if !c.state.HasValidIGD || c.endpoint == nil {
		return ErrNoValidIGD
	}

	err := c.endpoint.Gateway.AddPortMapping(
		ctx,
		"",             // remote host (any)
		externalPort,   // external port
		protocol,       // TCP or UDP
		internalPort,   // internal port
		internalClient, // internal client
		true,           // enabled
		description,    // description
		0,              // lease duration (permanent)
	)
	if err != nil {
		rerr := routerErrorFrom(err)
		c.logger.Warn("router rejected port mapping",
			"protocol", protocol,
			"port", externalPort,
			"code", rerr.Code,
			"error", rerr.Message)
		return rerr
	}

	c.logger.Info("port mapping added",
		"protocol", protocol,
		"port", externalPort,
		"internalClient", internalClient,
		"internalPort", internalPort)
	c.reconcile(ctx)
	return nil
}

func (c *Controller) releaseEndpoint() {
	if c.endpoint == nil {
		return
	}
	c.endpoint.release()
	c.endpoint = nil
}

// publish copies the sequence-owned state for readers.
func (c *Controller) publish() {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.snapState = c.state
	c.snapMappings = c.cache.Entries()
}

// State returns the connectivity snapshot from the last refresh.
func (c *Controller) State() State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapState
}

// ValidIGD reports whether an IGD was selected by the last refresh.
func (c *Controller) ValidIGD() bool {
	return c.State().HasValidIGD
}

// Mappings returns the cached port mappings in ascending SortKey order.
func (c *Controller) Mappings() []PortMapping {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return slices.Clone(c.snapMappings)
}

// Close waits for in-flight discovery, then releases the device list and
// the selected endpoint. Further operations return ErrClosed.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.worker.shutdown()

		_ = c.do(context.Background(), func() {
			c.releaseEndpoint()
			c.cache.Reset()
			c.state = State{}
			c.publish()
		})

		released := c.devices.Release()
		close(c.quit)
		<-c.loopDone

		c.logger.Debug("controller closed", "releasedDevices", released)
	})
	return nil
}
