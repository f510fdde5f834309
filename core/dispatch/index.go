package dispatch

import (
	"strings"
	"sync"

	"github.com/enermesh/telemetrix/core/model"
)

// DeviceIndex holds the active device descriptors and resolves which
// device owns an inbound topic. The scan is linear; deployments run
// tens to low hundreds of devices, so a fancier structure would buy
// nothing.
type DeviceIndex struct {
	mu      sync.RWMutex
	devices []model.DeviceDescriptor
}

// NewDeviceIndex returns an empty index.
func NewDeviceIndex() *DeviceIndex {
	return &DeviceIndex{}
}

// Replace swaps in a new descriptor set, keeping only active devices.
func (x *DeviceIndex) Replace(devices []model.DeviceDescriptor) {
	active := make([]model.DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		if d.Active {
			active = append(active, d)
		}
	}
	x.mu.Lock()
	x.devices = active
	x.mu.Unlock()
}

// Match finds the device whose base topic prefixes the message topic.
func (x *DeviceIndex) Match(topic string) (model.DeviceDescriptor, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, d := range x.devices {
		base := d.BaseTopic()
		if base == "" {
			continue
		}
		if topic == base || strings.HasPrefix(topic, base+"/") {
			return d, true
		}
	}
	return model.DeviceDescriptor{}, false
}

// Get returns the descriptor for a device id.
func (x *DeviceIndex) Get(deviceID string) (model.DeviceDescriptor, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, d := range x.devices {
		if d.DeviceID == deviceID {
			return d, true
		}
	}
	return model.DeviceDescriptor{}, false
}

// List returns a copy of the active descriptors.
func (x *DeviceIndex) List() []model.DeviceDescriptor {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.DeviceDescriptor, len(x.devices))
	copy(out, x.devices)
	return out
}
