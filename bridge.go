package symphony

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// BridgeState is the HardwareBridge's lifecycle state.
type BridgeState int

const (
	Unconfigured BridgeState = iota
	Ready
	Preloaded
	Running
	Stopping
	Faulted
)

func (s BridgeState) String() string {
	switch s {
	case Unconfigured:
		return "Unconfigured"
	case Ready:
		return "Ready"
	case Preloaded:
		return "Preloaded"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Bridge is the polling duplex driver (component F / "HardwareBridge
// (DAQController)"): it preloads the output FIFO, runs the fixed-cadence
// main loop exchanging sample arrays with a DeviceDriver, tracks
// overflow/underrun, and supplies the canonical clock.
type Bridge struct {
	SampleRate      Measurement   // baseUnit "Hz"
	ProcessInterval time.Duration // block cadence

	Driver   DeviceDriver
	Registry *UnitRegistry
	DriverUnit string // e.g. "<driver>_COUNTS", the raw unit name for this bridge

	// Events, if non-nil, receives one EventProcessIteration per main-loop
	// iteration. Set by Controller so the bridge's acquisition thread can
	// fire it without the bridge needing to know about Controller itself.
	Events *EventBus

	mu             sync.Mutex
	state          BridgeState
	outputStreams  map[ChannelIdentifier]*Stream
	inputStreams   map[ChannelIdentifier]*Stream
	outOrder       []ChannelIdentifier
	inOrder        []ChannelIdentifier
	stopRequested  bool
	cancelRequested bool
	loopDone       chan struct{}
	loopErr        error
	epoch          *Epoch
}

// PreloadDuration is 2x the process interval: the minimum amount of data
// the Bridge must have in flight before start() returns, so the hardware
// FIFO does not underrun on the very first main-loop iteration.
func (b *Bridge) PreloadDuration() time.Duration {
	return 2 * b.ProcessInterval
}

// NewBridge returns an Unconfigured Bridge around driver.
func NewBridge(driver DeviceDriver, sampleRate Measurement, processInterval time.Duration, registry *UnitRegistry, driverUnit string) *Bridge {
	return &Bridge{
		Driver:          driver,
		SampleRate:      sampleRate,
		ProcessInterval: processInterval,
		Registry:        registry,
		DriverUnit:      driverUnit,
		state:           Unconfigured,
		outputStreams:   make(map[ChannelIdentifier]*Stream),
		inputStreams:    make(map[ChannelIdentifier]*Stream),
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() BridgeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BeginSetup enumerates channels on the device, creates the bound Stream
// set, and moves Unconfigured -> Ready.
func (b *Bridge) BeginSetup(deviceID string, outputs, inputs map[ChannelIdentifier]*Stream) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Unconfigured {
		return &ErrValidation{Msg: "BeginSetup requires Unconfigured state, got " + b.state.String()}
	}
	if _, err := b.Driver.OpenDevice(deviceID); err != nil {
		return err
	}
	b.outputStreams = outputs
	b.inputStreams = inputs
	b.outOrder = sortedChannels(outputs)
	b.inOrder = sortedChannels(inputs)
	if err := b.Driver.ConfigureChannels(b.outOrder, b.inOrder); err != nil {
		return err
	}
	if err := b.Driver.CloseDevice(); err != nil {
		// Driver-close failures during teardown are logged and swallowed;
		// this is setup, not teardown, but the same "never block progress
		// on a close failure" policy applies.
		log.Printf("bridge: CloseDevice after BeginSetup: %v", err)
	}
	b.state = Ready
	return nil
}

func sortedChannels(m map[ChannelIdentifier]*Stream) []ChannelIdentifier {
	out := make([]ChannelIdentifier, 0, len(m))
	for ch := range m {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// Validate checks that every active stream reports the same sample rate as
// the bridge, failing with a precise message listing offenders.
func (b *Bridge) Validate() error {
	if b.SampleRate.BaseUnit != "Hz" || b.SampleRate.Value() <= 0 {
		return &ErrValidation{Msg: "bridge sample rate must be > 0 Hz"}
	}
	var offenders []string
	check := func(ch ChannelIdentifier, s *Stream) {
		if s.SampleRate().Value() != b.SampleRate.Value() {
			offenders = append(offenders, fmt.Sprintf("%s %v (%.3f Hz)", s.Name, ch, s.SampleRate().Value()))
		}
	}
	for ch, s := range b.outputStreams {
		check(ch, s)
	}
	for ch, s := range b.inputStreams {
		check(ch, s)
	}
	if len(offenders) > 0 {
		return &ErrValidation{Msg: "sample rate mismatch on streams: " + strings.Join(offenders, ", ")}
	}
	return nil
}

// Start preloads each active output stream (failing with ErrPreloadEmpty if
// any yields zero samples) and starts hardware. Ready -> Preloaded ->
// Running.
func (b *Bridge) Start(epoch *Epoch, waitForTrigger bool) error {
	b.mu.Lock()
	if b.state != Ready {
		b.mu.Unlock()
		return &ErrValidation{Msg: "Start requires Ready state, got " + b.state.String()}
	}
	b.epoch = epoch
	b.mu.Unlock()

	if err := b.Validate(); err != nil {
		return err
	}

	preloadSamples := int(b.PreloadDuration().Seconds() * b.SampleRate.Value())
	preload := make(map[ChannelIdentifier][]RawSample)
	for ch, s := range b.outputStreams {
		block, err := s.PullOutputData(b.PreloadDuration())
		if err != nil {
			return err
		}
		if block.Len() == 0 {
			return &ErrPreloadEmpty{StreamName: s.Name}
		}
		raw, err := b.toRaw(block)
		if err != nil {
			return err
		}
		if len(raw) < preloadSamples {
			return &ErrPreloadEmpty{StreamName: s.Name}
		}
		preload[ch] = raw
	}
	if err := b.Driver.Preload(preload); err != nil {
		return err
	}

	b.mu.Lock()
	b.state = Preloaded
	b.mu.Unlock()

	if err := b.Driver.StartHardware(waitForTrigger); err != nil {
		return err
	}

	b.mu.Lock()
	b.state = Running
	b.stopRequested = false
	b.cancelRequested = false
	b.loopDone = make(chan struct{})
	b.mu.Unlock()

	go b.runLoop()
	return nil
}

// toRaw converts a physical-unit block to the driver's native raw counts,
// rounding each converted value to the nearest count.
func (b *Bridge) toRaw(block IOData) ([]RawSample, error) {
	converted, err := block.WithUnits(b.Registry, b.DriverUnit)
	if err != nil {
		return nil, err
	}
	raw := make([]RawSample, converted.Len())
	for i, m := range converted.Samples() {
		raw[i] = RawSample(math.Round(m.Value()))
	}
	return raw, nil
}

func (b *Bridge) fromRaw(samples []RawSample, now time.Time) (IOData, error) {
	measurements := make([]Measurement, len(samples))
	for i, v := range samples {
		measurements[i] = NewMeasurement(float64(v), b.DriverUnit, 0)
	}
	block := NewIOData(measurements, b.SampleRate).WithStartTime(now)
	return block.WithNodeConfig("bridge", map[string]interface{}{
		"sampleRate":      b.SampleRate.Value(),
		"processInterval": b.ProcessInterval.String(),
	}), nil
}

// runLoop is the acquisition thread: exactly one at a time, created on
// Start, joined on Stop/Cancel.
func (b *Bridge) runLoop() {
	defer close(b.loopDone)
	nSamplesPerIter := int(b.ProcessInterval.Seconds() * b.SampleRate.Value())

	for {
		b.mu.Lock()
		stop := b.stopRequested || b.cancelRequested
		b.mu.Unlock()
		if stop {
			return
		}

		// No deficit accounting from one iteration to the next: ReadWrite's
		// contract (driver.go) blocks until both the write and the read of
		// nSamples complete, so there is never a short write left over to
		// carry forward (see DESIGN.md).
		out := make(map[ChannelIdentifier][]RawSample)
		for ch, s := range b.outputStreams {
			block, err := s.PullOutputData(b.ProcessInterval)
			if err != nil {
				b.fault(err)
				return
			}
			raw, err := b.toRaw(block)
			if err != nil {
				b.fault(err)
				return
			}
			out[ch] = raw
		}

		in, err := b.Driver.ReadWrite(out, b.inOrder, nSamplesPerIter)
		if err != nil {
			b.fault(err)
			return
		}

		now := b.Driver.Now()
		for ch, samples := range in {
			s, ok := b.inputStreams[ch]
			if !ok {
				continue
			}
			block, err := b.fromRaw(samples, now)
			if err != nil {
				b.fault(err)
				return
			}
			if err := s.PushInputData(block); err != nil {
				b.fault(err)
				return
			}
		}

		status := b.Driver.Status()
		if status.Overflow {
			b.fault(&ErrHardwareBuffer{Overrun: true})
			return
		}
		if status.Underrun {
			b.fault(&ErrHardwareBuffer{Overrun: false})
			return
		}

		b.mu.Lock()
		epoch := b.epoch
		done := epoch != nil && !epoch.IsIndefinite() && b.epochComplete()
		b.mu.Unlock()

		if b.Events != nil {
			b.Events.Fire(Event{Kind: EventProcessIteration, Epoch: epoch})
		}

		if done {
			return
		}
	}
}

// epochComplete checks the output/response completion condition. Must be
// called with b.mu held.
func (b *Bridge) epochComplete() bool {
	total, known := b.epoch.Duration()
	if !known {
		return false
	}
	for _, s := range b.outputStreams {
		elapsed := time.Duration(float64(s.Position()) / b.SampleRate.Value() * float64(time.Second))
		if elapsed < total {
			return false
		}
	}
	return b.epoch.allResponsesFilled()
}

func (b *Bridge) fault(err error) {
	b.mu.Lock()
	b.state = Faulted
	b.loopErr = err
	b.mu.Unlock()
}

// Done returns the channel that closes when the current run's acquisition
// loop has exited, for any reason (natural completion, fault, or a
// Stop/Cancel request already honoured). Must be called after Start.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loopDone
}

// LoopError returns the error that faulted the loop, if any.
func (b *Bridge) LoopError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loopErr
}

// Stop requests a graceful stop: Running -> Stopping -> Ready. Sets each
// output stream to its device background before releasing. Cooperative:
// worst-case latency is one ProcessInterval.
func (b *Bridge) Stop() error {
	return b.stopOrCancel(false)
}

// Cancel behaves like Stop but the caller is responsible for discarding the
// in-flight Epoch (the Bridge itself does not know "discarded" vs
// "completed" — that's a Controller-level distinction).
func (b *Bridge) Cancel() error {
	return b.stopOrCancel(true)
}

func (b *Bridge) stopOrCancel(cancel bool) error {
	b.mu.Lock()
	if b.state != Running {
		b.mu.Unlock()
		return &ErrValidation{Msg: "Stop/Cancel requires Running state, got " + b.state.String()}
	}
	b.state = Stopping
	if cancel {
		b.cancelRequested = true
	} else {
		b.stopRequested = true
	}
	done := b.loopDone
	b.mu.Unlock()

	<-done

	if err := b.Driver.StopHardware(); err != nil {
		return err
	}
	for ch, s := range b.outputStreams {
		raw, err := b.toRaw(NewIOData([]Measurement{s.Background()}, b.SampleRate))
		if err != nil {
			return err
		}
		if err := b.Driver.SetStreamBackground(ch, raw[0]); err != nil {
			return err
		}
	}

	b.mu.Lock()
	if b.state != Faulted {
		b.state = Ready
	}
	b.epoch = nil
	b.mu.Unlock()
	return nil
}

// ResetHardware re-opens the device, restores backgrounds, and returns
// Faulted -> Ready.
func (b *Bridge) ResetHardware(deviceID string) error {
	b.mu.Lock()
	if b.state != Faulted {
		b.mu.Unlock()
		return &ErrValidation{Msg: "ResetHardware requires Faulted state, got " + b.state.String()}
	}
	b.mu.Unlock()

	if _, err := b.Driver.OpenDevice(deviceID); err != nil {
		return err
	}
	for ch, s := range b.outputStreams {
		raw, err := b.toRaw(NewIOData([]Measurement{s.Background()}, b.SampleRate))
		if err != nil {
			return err
		}
		if err := b.Driver.SetStreamBackground(ch, raw[0]); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.state = Ready
	b.loopErr = nil
	b.epoch = nil
	b.mu.Unlock()
	return nil
}

// Close tears the bridge down permanently.
func (b *Bridge) Close() error {
	return b.Driver.CloseDevice()
}
