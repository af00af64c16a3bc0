package symphony

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// CoalesceFunc combines one block per bound input stream (in stream-bind
// order) into a single block for the device's Response.
type CoalesceFunc func(blocks []IOData) (IOData, error)

// TelegraphParams is whatever a readTelegraph callback decodes from the
// auxiliary channels — mode, gain, whatever the amplifier encodes. Opaque to
// the engine; only the callbacks that produced/consume it know its shape.
type TelegraphParams map[string]interface{}

// ReadTelegraphFunc decodes the latest block from each auxiliary stream
// (keyed by stream name) into amplifier parameters.
type ReadTelegraphFunc func(auxBlocks map[string]IOData) (TelegraphParams, error)

// TelegraphTargetFunc picks the scaled-output stream's conversion target
// given the freshly decoded telegraph params.
type TelegraphTargetFunc func(params TelegraphParams) string

// TelegraphBackgroundFunc picks the background value given telegraph params.
type TelegraphBackgroundFunc func(params TelegraphParams) Measurement

// epochSource lets an ExternalDevice reach the currently-running Epoch
// without importing the Controller type (avoids an import cycle and keeps
// the device's dependency surface to exactly what it needs).
type epochSource interface {
	currentEpoch() *Epoch
}

// ExternalDevice groups the streams belonging to one physical instrument. It
// owns the device-level background (applied between Epochs, on clean stop,
// and during an Epoch that binds no stimulus to this device — never while
// an Epoch with a stimulus for this device runs, see the Epoch-vs-Device
// background note) and, for coalescing/telegraph devices, the extra state
// those flavours need.
type ExternalDevice struct {
	Name       string
	Background Measurement

	controller    epochSource
	outputStreams []*Stream
	inputStreams  []*Stream

	// Coalescing flavour. Nil for plain unit-converting devices.
	coalesce CoalesceFunc
	mu       sync.Mutex
	pending  map[*Stream]IOData

	// Telegraph-aware flavour. Nil unless configured.
	telegraphStreams    []*Stream
	readTelegraph       ReadTelegraphFunc
	telegraphTarget     TelegraphTargetFunc
	telegraphBackground TelegraphBackgroundFunc
	auxPending          map[*Stream]IOData

	// telegraphBasis is a mode->gain lookup table (e.g. one row per
	// amplifier mode) pushed in by an operator via the RPC control surface
	// (rpcserver.ConfigureTelegraphBasis). Consulted by target/background
	// callbacks through TelegraphParams["basis"], never cached by the
	// device itself beyond the current value.
	telegraphBasis *mat.Dense
}

// NewExternalDevice builds a plain unit-converting device.
func NewExternalDevice(name string, background Measurement, controller epochSource) *ExternalDevice {
	return &ExternalDevice{Name: name, Background: background, controller: controller}
}

// AsCoalescing turns d into a many-to-one coalescing device: it will wait
// until one block has arrived on each bound input stream before calling fn.
func (d *ExternalDevice) AsCoalescing(fn CoalesceFunc) *ExternalDevice {
	d.coalesce = fn
	d.pending = make(map[*Stream]IOData)
	return d
}

// AsTelegraphAware turns d into a telegraph-aware device: on each input
// tick it keeps the latest block from each bound auxiliary stream, and on
// each output pull it decodes those blocks via read, then uses target and
// background to drive its scaled output stream.
func (d *ExternalDevice) AsTelegraphAware(auxStreams []*Stream, read ReadTelegraphFunc, target TelegraphTargetFunc, background TelegraphBackgroundFunc) *ExternalDevice {
	d.telegraphStreams = auxStreams
	d.readTelegraph = read
	d.telegraphTarget = target
	d.telegraphBackground = background
	d.auxPending = make(map[*Stream]IOData)
	return d
}

// BindOutputStream registers an output stream as belonging to this device,
// and pushes the device's current background onto it — the stream "owns"
// the value from then on, but it is device-chosen (see SetDeviceBackground).
func (d *ExternalDevice) BindOutputStream(s *Stream) {
	s.BindDevice(d)
	s.SetBackground(d.Background)
	d.outputStreams = append(d.outputStreams, s)
}

// SetDeviceBackground updates the device-level background (applied between
// Epochs and on clean stop) and immediately pushes the new value onto every
// bound output stream.
func (d *ExternalDevice) SetDeviceBackground(m Measurement) {
	d.Background = m
	for _, s := range d.outputStreams {
		s.SetBackground(m)
	}
}

// SetTelegraphBasis installs the mode->gain table a telegraph-aware
// device's target/background callbacks consult on their next pull. Safe to
// call concurrently with an in-flight acquisition loop.
func (d *ExternalDevice) SetTelegraphBasis(basis *mat.Dense) {
	d.mu.Lock()
	d.telegraphBasis = basis
	d.mu.Unlock()
}

// BindInputStream registers an input stream as belonging to this device.
func (d *ExternalDevice) BindInputStream(s *Stream) {
	s.BindDevice(d)
	d.inputStreams = append(d.inputStreams, s)
}

// backgroundBlock synthesises a duration-long block of value, at the
// stream's rate and in value's own unit; Stream.PullOutputData converts it
// to the stream's conversion target afterwards.
func (d *ExternalDevice) backgroundBlock(s *Stream, duration time.Duration, value Measurement) IOData {
	n := int(duration.Seconds() * s.rate.Value())
	samples := make([]Measurement, n)
	for i := range samples {
		samples[i] = value
	}
	return NewIOData(samples, s.rate)
}

// pullOutputData implements the Epoch-vs-Device background rule: while an
// Epoch is running and bound to this device, Epoch.background (and the
// Epoch's Stimulus) apply; background-fill covers any gap left by an
// exhausted stimulus. Between Epochs (no current Epoch) the device's own
// Background applies.
func (d *ExternalDevice) pullOutputData(s *Stream, duration time.Duration) (IOData, error) {
	epoch := d.currentEpoch()
	if epoch == nil {
		return d.backgroundBlock(s, duration, d.Background), nil
	}
	stim, ok := epoch.stimuli[d]
	if !ok {
		return d.backgroundBlock(s, duration, d.Background), nil
	}

	bg := epoch.backgroundFor(d)
	if d.telegraphTarget != nil {
		// Decoded fresh on every pull: the output path must never reuse a
		// telegraph reading from an earlier iteration.
		params, err := d.currentTelegraphParams()
		if err != nil {
			return IOData{}, err
		}
		s.MeasurementConversionTarget = d.telegraphTarget(params)
		bg = d.telegraphBackground(params)
	}

	block, err := stim.PullData(duration)
	if err != nil {
		return IOData{}, err
	}
	if block.Duration() < duration {
		fillLen := duration - block.Duration()
		fill := d.backgroundBlock(s, fillLen, bg)
		block, err = Concat(block, fill)
		if err != nil {
			return IOData{}, err
		}
	}
	return block, nil
}

// pushInputData implements the per-flavour input path: plain devices append
// straight to the Epoch's Response; coalescing devices buffer until every
// bound input stream has a block, then combine; telegraph-aware devices
// additionally keep the latest raw block of every aux stream, which the
// next output pull decodes.
func (d *ExternalDevice) pushInputData(s *Stream, block IOData) error {
	if d.isTelegraphStream(s) {
		d.mu.Lock()
		d.auxPending[s] = block
		d.mu.Unlock()
		return nil
	}

	epoch := d.currentEpoch()
	if epoch == nil {
		return nil
	}
	resp, ok := epoch.responses[d]
	if !ok {
		return nil
	}

	if d.coalesce == nil {
		resp.Append(block)
		return nil
	}

	d.mu.Lock()
	d.pending[s] = block
	ready := len(d.pending) == len(d.inputStreams)
	var blocks []IOData
	if ready {
		for _, in := range d.inputStreams {
			blocks = append(blocks, d.pending[in])
		}
		d.pending = make(map[*Stream]IOData)
	}
	d.mu.Unlock()

	if !ready {
		return nil
	}
	combined, err := d.coalesce(blocks)
	if err != nil {
		return err
	}
	resp.Append(combined)
	return nil
}

func (d *ExternalDevice) isTelegraphStream(s *Stream) bool {
	for _, t := range d.telegraphStreams {
		if t == s {
			return true
		}
	}
	return false
}

// currentTelegraphParams decodes the most recently pushed aux blocks. It is
// called fresh at every pull, never cached across pulls — the spec requires
// the output path use the same params fetched at pull time. The current
// basis table (if any) is merged in under "basis" so a target/background
// callback can turn a decoded mode index into a gain without the device
// hard-coding that lookup itself.
func (d *ExternalDevice) currentTelegraphParams() (TelegraphParams, error) {
	d.mu.Lock()
	snapshot := make(map[string]IOData, len(d.auxPending))
	for s, b := range d.auxPending {
		snapshot[s.Name] = b
	}
	basis := d.telegraphBasis
	d.mu.Unlock()

	params, err := d.readTelegraph(snapshot)
	if err != nil {
		return nil, err
	}
	if basis != nil {
		if params == nil {
			params = make(TelegraphParams)
		}
		params["basis"] = basis
	}
	return params, nil
}

// BasisGain looks up row mode's gain in the current telegraph basis table
// (column 0), for use inside a TelegraphTargetFunc/TelegraphBackgroundFunc
// that received params["basis"]. Returns an error if no basis is configured
// or mode is out of range.
func BasisGain(params TelegraphParams, mode int) (float64, error) {
	basis, ok := params["basis"].(*mat.Dense)
	if !ok || basis == nil {
		return 0, &ErrValidation{Msg: "telegraph params carry no basis table"}
	}
	rows, _ := basis.Dims()
	if mode < 0 || mode >= rows {
		return 0, &ErrValidation{Msg: "telegraph basis has no row for mode index out of range"}
	}
	return basis.At(mode, 0), nil
}

func (d *ExternalDevice) currentEpoch() *Epoch {
	if d.controller == nil {
		return nil
	}
	return d.controller.currentEpoch()
}
