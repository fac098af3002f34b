package igd

import (
	"context"
	"fmt"
	"net"
)

// Endpoint is the resolved control endpoint of the selected IGD.
// At most one is held by a Controller at a time.
type Endpoint struct {
	Gateway Gateway
	LANAddr net.IP
	Status  SelectStatus
}

// release frees the gateway resources. It is safe to call more than once.
func (e *Endpoint) release() {
	if e == nil || e.Gateway == nil {
		return
	}
	e.Gateway.Release()
	e.Gateway = nil
}

// selectValidIGD picks a valid IGD from the current device list.
// The list is copied under its lock; the control library's network calls
// happen after the lock is released.
func selectValidIGD(ctx context.Context, lib ControlLibrary, devices *DeviceList) (*Endpoint, error) {
	candidates := devices.Snapshot()

	status, gw, lanAddr := lib.SelectValidIGD(ctx, candidates)
	if !status.valid() || gw == nil {
		if gw != nil {
			gw.Release()
		}
		return nil, fmt.Errorf("%w: %s (%d candidates)", ErrNoValidIGD, status, len(candidates))
	}

	return &Endpoint{
		Gateway: gw,
		LANAddr: lanAddr,
		Status:  status,
	}, nil
}
