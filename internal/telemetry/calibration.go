package telemetry

import (
	"math"
	"sync"
)

// Calibration converts raw capacitive soil readings to a moisture percentage.
// The dry and wet bounds drift towards readings that land just outside them,
// the same way the edge device tracks its sensor.
type Calibration struct {
	mu  sync.Mutex
	dry int
	wet int
}

// NewCalibration returns a calibration with the given raw bounds. A higher raw
// value means drier soil.
func NewCalibration(dry, wet int) *Calibration {
	return &Calibration{dry: dry, wet: wet}
}

// Percent maps raw to 0..100 and updates the bounds.
func (c *Calibration) Percent(raw int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := float64(raw)
	switch {
	case raw > c.dry && r < float64(c.dry)*1.05:
		c.dry = raw
	case raw < c.wet && r > float64(c.wet)*0.95:
		c.wet = raw
	}
	if c.dry == c.wet {
		return 0
	}
	pct := math.Trunc(float64(c.dry-raw) * 100 / float64(c.dry-c.wet))
	return math.Max(0, math.Min(100, pct))
}

// Bounds returns the current dry and wet bounds.
func (c *Calibration) Bounds() (dry, wet int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dry, c.wet
}

// Reset replaces both bounds, e.g. after the device was reconfigured.
func (c *Calibration) Reset(dry, wet int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dry, c.wet = dry, wet
}
