package symphony

import "time"

// PipelineNode is the two-method surface of a node in the duplex chain.
// No type in this package implements it: Stream exposes the same roles as
// PullOutputData/PushInputData, ExternalDevice as the per-stream
// pullOutputData/pushInputData, and Controller has no such methods.
type PipelineNode interface {
	PullOutput(duration time.Duration) (IOData, error)
	PushInput(block IOData) error
}

// StreamDirection distinguishes output (to hardware) from input (from
// hardware) streams.
type StreamDirection int

const (
	StreamOutput StreamDirection = iota
	StreamInput
)

// Stream is a per-channel pipeline node sitting between an ExternalDevice
// and the HardwareBridge. Its SampleRate is owned by the controller it's
// bound to — SetSampleRate always fails on a Stream.
type Stream struct {
	Name                        string
	Direction                   StreamDirection
	MeasurementConversionTarget string
	Registry                    *UnitRegistry

	device *ExternalDevice
	rate   Measurement // shared with the controller; read-only here

	// Output-only fields.
	background Measurement
	position   int64
}

// NewOutputStream builds an output Stream bound to no device yet.
func NewOutputStream(name, conversionTarget string, rate Measurement, registry *UnitRegistry) *Stream {
	return &Stream{Name: name, Direction: StreamOutput, MeasurementConversionTarget: conversionTarget, Registry: registry, rate: rate}
}

// NewInputStream builds an input Stream bound to no device yet.
func NewInputStream(name, conversionTarget string, rate Measurement, registry *UnitRegistry) *Stream {
	return &Stream{Name: name, Direction: StreamInput, MeasurementConversionTarget: conversionTarget, Registry: registry, rate: rate}
}

// SampleRate returns the controller-owned rate.
func (s *Stream) SampleRate() Measurement { return s.rate }

// SetSampleRate always fails: rate is owned by the controller.
func (s *Stream) SetSampleRate(Measurement) error {
	return &ErrValidation{Msg: "stream sample rate is owned by its controller and cannot be set directly"}
}

// BindDevice attaches the Stream to its ExternalDevice. A Stream is bound to
// 0 or 1 devices.
func (s *Stream) BindDevice(d *ExternalDevice) { s.device = d }

// Device returns the bound device, or nil.
func (s *Stream) Device() *ExternalDevice { return s.device }

// SetBackground sets the device-chosen idle value for an output stream.
func (s *Stream) SetBackground(m Measurement) { s.background = m }

// Background returns the output stream's idle value.
func (s *Stream) Background() Measurement { return s.background }

// Position returns the number of samples produced (output) or consumed
// (input) so far.
func (s *Stream) Position() int64 { return s.position }

// PullOutputData delegates to the bound device, then converts to this
// stream's target unit, validates the rate, and advances position. Must
// never return fewer samples than requested while an Epoch is active — the
// device's background fill guarantees this.
func (s *Stream) PullOutputData(duration time.Duration) (IOData, error) {
	if s.Direction != StreamOutput {
		panic("symphony: PullOutputData called on a non-output stream")
	}
	if s.device == nil {
		return IOData{}, &ErrValidation{Msg: "stream " + s.Name + " is not bound to a device"}
	}
	block, err := s.device.pullOutputData(s, duration)
	if err != nil {
		return IOData{}, err
	}
	if block.Len() > 0 && block.SampleRate().Value() != s.rate.Value() {
		return IOData{}, &ErrValidation{Msg: "stream " + s.Name + " received a block at the wrong sample rate"}
	}
	converted, err := block.WithUnits(s.Registry, s.MeasurementConversionTarget)
	if err != nil {
		return IOData{}, err
	}
	converted = converted.WithNodeConfig(s.Name, s.configSnapshot())
	s.position += int64(converted.Len())
	return converted, nil
}

// PushInputData converts to the stream's target unit, stamps provenance,
// and forwards to the bound device (which appends to the Epoch's Response).
func (s *Stream) PushInputData(block IOData) error {
	if s.Direction != StreamInput {
		panic("symphony: PushInputData called on a non-input stream")
	}
	if s.device == nil {
		return &ErrValidation{Msg: "stream " + s.Name + " is not bound to a device"}
	}
	converted, err := block.WithUnits(s.Registry, s.MeasurementConversionTarget)
	if err != nil {
		return err
	}
	converted = converted.WithNodeConfig(s.Name, s.configSnapshot())
	s.position += int64(converted.Len())
	return s.device.pushInputData(s, converted)
}

func (s *Stream) configSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"direction":        s.Direction,
		"conversionTarget": s.MeasurementConversionTarget,
	}
}
