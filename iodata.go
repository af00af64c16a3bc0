package symphony

import (
	"fmt"
	"time"
)

// NodeConfigEntry is one stop in a block's provenance trail: the name of the
// node it passed through and a snapshot of that node's config at the time.
type NodeConfigEntry struct {
	NodeName string
	Config   map[string]interface{}
}

// IOData is an immutable block of Measurements sharing one BaseUnit, tagged
// with a sample rate and a provenance trail. Every operation below returns a
// new block; none mutates the receiver.
type IOData struct {
	samples     []Measurement
	sampleRate  Measurement // baseUnit "Hz"
	startTime   *time.Time
	configTrail []NodeConfigEntry
}

// NewIOData builds a block. It panics if the invariants are violated (mixed
// BaseUnit, non-positive rate, or rate not in Hz) — these are programmer
// errors, not runtime conditions a caller can recover from mid-stream.
func NewIOData(samples []Measurement, sampleRate Measurement) IOData {
	if sampleRate.BaseUnit != "Hz" {
		panic(fmt.Sprintf("symphony: IOData sample rate must be in Hz, got %s", sampleRate.BaseUnit))
	}
	if sampleRate.Value() <= 0 {
		panic(fmt.Sprintf("symphony: IOData sample rate must be > 0 Hz, got %v", sampleRate.Value()))
	}
	if len(samples) > 0 {
		unit := samples[0].BaseUnit
		for _, s := range samples[1:] {
			if s.BaseUnit != unit {
				panic(fmt.Sprintf("symphony: IOData samples have mixed units %s and %s", unit, s.BaseUnit))
			}
		}
	}
	return IOData{samples: samples, sampleRate: sampleRate}
}

// EmptyIOData returns a zero-sample block at the given rate — the canonical
// "exhausted" result for a Rendered stimulus or a pull past duration.
func EmptyIOData(sampleRate Measurement) IOData {
	return NewIOData(nil, sampleRate)
}

// Len returns the sample count.
func (d IOData) Len() int { return len(d.samples) }

// SampleRate returns the block's sample rate.
func (d IOData) SampleRate() Measurement { return d.sampleRate }

// Samples returns the underlying slice. Callers must not mutate it — blocks
// are immutable and may share backing arrays after Split/Concat.
func (d IOData) Samples() []Measurement { return d.samples }

// StartTime returns the block's acquisition timestamp, if set.
func (d IOData) StartTime() (time.Time, bool) {
	if d.startTime == nil {
		return time.Time{}, false
	}
	return *d.startTime, true
}

// WithStartTime stamps the block with an acquisition time (set once, by the
// bridge, when the block is created from hardware data).
func (d IOData) WithStartTime(t time.Time) IOData {
	d.startTime = &t
	return d
}

// Duration returns the block's duration at its own sample rate.
func (d IOData) Duration() time.Duration {
	if len(d.samples) == 0 {
		return 0
	}
	return time.Duration(float64(len(d.samples)) / d.sampleRate.Value() * float64(time.Second))
}

// BaseUnit returns the unit shared by all samples, or "" for an empty block.
func (d IOData) BaseUnit() string {
	if len(d.samples) == 0 {
		return ""
	}
	return d.samples[0].BaseUnit
}

// ConfigTrail returns the append-only provenance log. Treat as a log, not a
// namespace: multiple entries may share a NodeName.
func (d IOData) ConfigTrail() []NodeConfigEntry {
	return d.configTrail
}

// Split divides the block at duration, returning (head, rest) where
// head.Duration() <= duration. Total on all non-negative durations: a
// duration >= block.Duration() returns (block, empty).
func (d IOData) Split(duration time.Duration) (head, rest IOData) {
	if duration < 0 {
		panic("symphony: Split requires a non-negative duration")
	}
	n := int(duration.Seconds() * d.sampleRate.Value())
	if n >= len(d.samples) {
		return d, EmptyIOData(d.sampleRate)
	}
	head = d
	head.samples = d.samples[:n]
	rest = d
	rest.samples = d.samples[n:]
	if d.startTime != nil {
		restStart := d.startTime.Add(time.Duration(float64(n) / d.sampleRate.Value() * float64(time.Second)))
		rest.startTime = &restStart
	}
	return head, rest
}

// Concat appends b's samples after a's. Requires equal SampleRate and
// BaseUnit; concatenating an empty block is the identity.
func Concat(a, b IOData) (IOData, error) {
	if a.Len() == 0 {
		return b, nil
	}
	if b.Len() == 0 {
		return a, nil
	}
	if a.sampleRate.Value() != b.sampleRate.Value() {
		return IOData{}, fmt.Errorf("symphony: Concat requires equal sample rates, got %v and %v", a.sampleRate.Value(), b.sampleRate.Value())
	}
	if a.BaseUnit() != b.BaseUnit() {
		return IOData{}, fmt.Errorf("symphony: Concat requires equal units, got %s and %s", a.BaseUnit(), b.BaseUnit())
	}
	combined := make([]Measurement, 0, a.Len()+b.Len())
	combined = append(combined, a.samples...)
	combined = append(combined, b.samples...)
	out := a
	out.samples = combined
	return out, nil
}

// WithUnits applies a registry conversion to every sample. Idempotent when
// target already equals the block's current unit.
func (d IOData) WithUnits(registry *UnitRegistry, target string) (IOData, error) {
	if d.BaseUnit() == target {
		return d, nil
	}
	converted := make([]Measurement, len(d.samples))
	for i, s := range d.samples {
		c, err := registry.Convert(s, target)
		if err != nil {
			return IOData{}, err
		}
		converted[i] = c
	}
	out := d
	out.samples = converted
	return out, nil
}

// WithNodeConfig appends one entry to the provenance trail.
func (d IOData) WithNodeConfig(nodeName string, config map[string]interface{}) IOData {
	out := d
	trail := make([]NodeConfigEntry, len(d.configTrail), len(d.configTrail)+1)
	copy(trail, d.configTrail)
	out.configTrail = append(trail, NodeConfigEntry{NodeName: nodeName, Config: config})
	return out
}
