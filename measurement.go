package symphony

import (
	"fmt"
	"sync"
)

// Measurement is a physical quantity: value = Quantity * 10^Exponent BaseUnit.
// Equality and arithmetic operate on the normalised value; addition requires
// identical BaseUnit, and scalar multiplication always preserves BaseUnit.
type Measurement struct {
	Quantity float64
	BaseUnit string
	Exponent int
}

// NewMeasurement builds a Measurement, interning it through the process-wide
// pool so that repeated identical samples (e.g. millions of 0V background
// fills) share one allocation.
func NewMeasurement(quantity float64, baseUnit string, exponent int) Measurement {
	return measurementPool.intern(Measurement{Quantity: quantity, BaseUnit: baseUnit, Exponent: exponent})
}

// Value returns the normalised scalar value (Quantity * 10^Exponent).
func (m Measurement) Value() float64 {
	if m.Exponent == 0 {
		return m.Quantity
	}
	scale := 1.0
	exp := m.Exponent
	neg := exp < 0
	if neg {
		exp = -exp
	}
	for i := 0; i < exp; i++ {
		scale *= 10
	}
	if neg {
		return m.Quantity / scale
	}
	return m.Quantity * scale
}

// Equal compares two Measurements by normalised value and BaseUnit. Two
// Measurements with different BaseUnits are never equal, even if their
// registry-converted values would coincide.
func (m Measurement) Equal(other Measurement) bool {
	return m.BaseUnit == other.BaseUnit && m.Value() == other.Value()
}

// Add requires identical BaseUnit; callers must convert first if needed.
func (m Measurement) Add(other Measurement) (Measurement, error) {
	if m.BaseUnit != other.BaseUnit {
		return Measurement{}, fmt.Errorf("symphony: cannot add %s to %s: unit mismatch", other.BaseUnit, m.BaseUnit)
	}
	return NewMeasurement(m.Value()+other.Value(), m.BaseUnit, 0), nil
}

// Scale multiplies the quantity by a dimensionless scalar, preserving unit.
func (m Measurement) Scale(factor float64) Measurement {
	return NewMeasurement(m.Value()*factor, m.BaseUnit, 0)
}

func (m Measurement) String() string {
	return fmt.Sprintf("%ge%d%s", m.Quantity, m.Exponent, m.BaseUnit)
}

// measurementIntern pools equal Measurement values so that hot acquisition
// loops that repeatedly construct the same background sample do not thrash
// the allocator. Keyed on the normalised (value, BaseUnit) pair, not the raw
// Quantity and Exponent, so that 1e1V and 10e0V intern to the same slot.
type measurementIntern struct {
	mu   sync.Mutex
	pool map[measurementKey]Measurement
}

type measurementKey struct {
	value    float64
	baseUnit string
}

var measurementPool = &measurementIntern{pool: make(map[measurementKey]Measurement)}

func (p *measurementIntern) intern(m Measurement) Measurement {
	key := measurementKey{value: m.Value(), baseUnit: m.BaseUnit}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.pool[key]; ok {
		return existing
	}
	p.pool[key] = m
	return m
}

// ConvertFunc maps one Measurement to another, typically a unit conversion.
type ConvertFunc func(Measurement) (Measurement, error)

// unitPair is the registry key: an exact (from,to) string pair. No
// transitive search is ever attempted.
type unitPair struct {
	from, to string
}

// UnitRegistry holds process-wide, effectively-immutable-after-startup unit
// conversion functions, looked up by an exact (from,to) pair.
type UnitRegistry struct {
	mu    sync.RWMutex
	funcs map[unitPair]ConvertFunc
}

// NewUnitRegistry returns an empty registry.
func NewUnitRegistry() *UnitRegistry {
	return &UnitRegistry{funcs: make(map[unitPair]ConvertFunc)}
}

// Register installs a conversion function for the exact (from,to) pair,
// overwriting any previous registration for that pair.
func (r *UnitRegistry) Register(from, to string, fn ConvertFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[unitPair{from, to}] = fn
}

// ErrNoConverter is returned when no conversion function is registered for a
// requested (from,to) pair.
type ErrNoConverter struct {
	From, To string
}

func (e *ErrNoConverter) Error() string {
	return fmt.Sprintf("symphony: no converter registered for %s -> %s", e.From, e.To)
}

// ErrUnitMismatch is returned when the input Measurement's BaseUnit does not
// match the registered conversion's source unit.
type ErrUnitMismatch struct {
	Expected, Got string
}

func (e *ErrUnitMismatch) Error() string {
	return fmt.Sprintf("symphony: unit mismatch: converter expects %s, got %s", e.Expected, e.Got)
}

// Convert looks up the (m.BaseUnit, target) pair and applies it. It fails
// loudly — never silently rescales — when no entry is registered.
func (r *UnitRegistry) Convert(m Measurement, target string) (Measurement, error) {
	if m.BaseUnit == target {
		return m, nil
	}
	r.mu.RLock()
	fn, ok := r.funcs[unitPair{m.BaseUnit, target}]
	r.mu.RUnlock()
	if !ok {
		return Measurement{}, &ErrNoConverter{From: m.BaseUnit, To: target}
	}
	out, err := fn(m)
	if err != nil {
		return Measurement{}, err
	}
	if out.BaseUnit != target {
		return Measurement{}, &ErrUnitMismatch{Expected: target, Got: out.BaseUnit}
	}
	return out, nil
}

// DefaultRegistry is the process-wide registry used when components are not
// given an explicit one. Registration should happen once at startup, before
// any acquisition begins.
var DefaultRegistry = NewUnitRegistry()

// RegisterLinearConversion is a convenience for the common case: a fixed
// scale factor between two units (e.g. driver counts <-> volts).
func RegisterLinearConversion(r *UnitRegistry, from, to string, scale float64) {
	r.Register(from, to, func(m Measurement) (Measurement, error) {
		return NewMeasurement(m.Value()*scale, to, 0), nil
	})
	if scale != 0 {
		r.Register(to, from, func(m Measurement) (Measurement, error) {
			return NewMeasurement(m.Value()/scale, from, 0), nil
		})
	}
}
