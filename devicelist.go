package igd

import (
	"slices"
	"sync"
)

// DeviceList holds the candidate devices from the latest discovery.
// The discovery worker replaces it while the controller reads it, so every
// access goes through the mutex and the slice never leaves it uncopied.
type DeviceList struct {
	mu         sync.Mutex
	devices    []Device
	present    bool
	generation uint64
}

// Replace installs devices as the current list, releasing the previous one first.
// It returns the number of devices released.
func (l *DeviceList) Replace(devices []Device) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	released := l.releaseLocked()
	l.devices = devices
	l.present = true
	l.generation++
	return released
}

// Release drops the current list. Releasing an absent list is a no-op.
func (l *DeviceList) Release() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked()
}

func (l *DeviceList) releaseLocked() int {
	if !l.present {
		return 0
	}
	n := len(l.devices)
	l.devices = nil
	l.present = false
	return n
}

// Snapshot returns a copy of the current devices, or nil when none are held.
func (l *DeviceList) Snapshot() []Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.devices)
}

// Present reports whether a list is currently held.
func (l *DeviceList) Present() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.present
}

// Len returns the number of devices in the current list.
func (l *DeviceList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.devices)
}

// Generation counts how many lists have been installed.
func (l *DeviceList) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}
