package symphony

import "time"

// Clock is the Controller's canonical time source. Tied to the bridge's
// driver clock when available, so hardware timestamps eliminate
// poll-interval jitter; falls back to the system clock only for simulation.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now directly — the fallback for simulation.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// DriverClock ties the canonical clock to a DeviceDriver's own Now(), the
// preferred source whenever real (or simulated) hardware is attached.
type DriverClock struct {
	Driver DeviceDriver
}

func (c DriverClock) Now() time.Time { return c.Driver.Now() }
