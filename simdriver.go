package symphony

import (
	"fmt"
	"sync"
	"time"
)

// SimDriver is an in-memory DeviceDriver: the only concrete driver this
// module ships. Each output channel loops back to the input channel at the
// same index after PipelineDelay samples, which is what makes the
// loopback-identity scenario (spec §8, scenario 1) testable without vendor
// hardware. Status flags (overflow/underrun) can be injected by tests via
// InjectFault.
type SimDriver struct {
	mu sync.Mutex

	outOrder []ChannelIdentifier
	inOrder  []ChannelIdentifier

	// PipelineDelay is the number of samples of latency the loopback wire
	// introduces between an output channel and its mirrored input channel,
	// simulating vendor pipeline depth (spec §8 scenario 1 calls this N).
	PipelineDelay int

	loopbackBuf map[ChannelIdentifier][]RawSample
	backgrounds map[ChannelIdentifier]RawSample

	running  bool
	overflow bool
	underrun bool

	clock func() time.Time
}

// NewSimDriver returns a SimDriver with a 3-sample pipeline delay, matching
// the vendor-typical depth named in the spec's loopback scenario.
func NewSimDriver() *SimDriver {
	return &SimDriver{
		PipelineDelay: 3,
		loopbackBuf:   make(map[ChannelIdentifier][]RawSample),
		backgrounds:   make(map[ChannelIdentifier]RawSample),
		clock:         time.Now,
	}
}

func (d *SimDriver) OpenDevice(id string) (DeviceInfo, error) {
	return DeviceInfo{Name: "sim:" + id}, nil
}

func (d *SimDriver) CloseDevice() error { return nil }

func (d *SimDriver) ConfigureChannels(out, in []ChannelIdentifier) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outOrder = out
	d.inOrder = in
	for _, ch := range out {
		if _, ok := d.loopbackBuf[ch]; !ok {
			d.loopbackBuf[ch] = make([]RawSample, d.PipelineDelay)
		}
	}
	return nil
}

func (d *SimDriver) Preload(data map[ChannelIdentifier][]RawSample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch, samples := range data {
		if len(samples) == 0 {
			return &ErrPreloadEmpty{StreamName: fmt.Sprintf("%v", ch)}
		}
		d.loopbackBuf[ch] = append(d.loopbackBuf[ch], samples...)
	}
	return nil
}

func (d *SimDriver) StartHardware(waitForTrigger bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	return nil
}

func (d *SimDriver) StopHardware() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	return nil
}

// ReadWrite appends out[ch] to the per-channel loopback buffer (simulating
// the output FIFO) and, for each requested input channel, pops nSamples
// from the front of the same-index channel's buffer (simulating the wire).
// If the buffer holds fewer than nSamples, it returns what is there padded
// with zeros to nSamples and sets the underrun flag.
// Channel correspondence is by index within outOrder/inOrder, mirroring a
// physical same-index loopback wiring.
func (d *SimDriver) ReadWrite(out map[ChannelIdentifier][]RawSample, inChannels []ChannelIdentifier, nSamples int) (map[ChannelIdentifier][]RawSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for ch, samples := range out {
		d.loopbackBuf[ch] = append(d.loopbackBuf[ch], samples...)
	}

	result := make(map[ChannelIdentifier][]RawSample, len(inChannels))
	for _, inCh := range inChannels {
		outCh := d.wiredOutput(inCh)
		buf := d.loopbackBuf[outCh]
		n := nSamples
		if len(buf) < n {
			d.underrun = true
			n = len(buf)
		}
		samples := make([]RawSample, nSamples)
		copy(samples, buf[:n])
		result[inCh] = samples
		d.loopbackBuf[outCh] = buf[n:]
	}
	return result, nil
}

// wiredOutput maps an input channel to the output channel physically wired
// to it — same index in outOrder/inOrder, the convention the loopback test
// scenario assumes.
func (d *SimDriver) wiredOutput(in ChannelIdentifier) ChannelIdentifier {
	for i, ic := range d.inOrder {
		if ic == in && i < len(d.outOrder) {
			return d.outOrder[i]
		}
	}
	return in
}

func (d *SimDriver) SetStreamBackground(ch ChannelIdentifier, value RawSample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backgrounds[ch] = value
	d.loopbackBuf[ch] = append(d.loopbackBuf[ch], value)
	return nil
}

// Background returns the raw value last written for ch via
// SetStreamBackground, for test/diagnostic inspection.
func (d *SimDriver) Background(ch ChannelIdentifier) (RawSample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.backgrounds[ch]
	return v, ok
}

func (d *SimDriver) ChannelInfo(t ChannelType, number uint16) (ChannelIdentifier, error) {
	return ChannelIdentifier{Type: t, Number: number}, nil
}

func (d *SimDriver) Status() DriverStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DriverStatus{Running: d.running, Overflow: d.overflow, Underrun: d.underrun}
}

func (d *SimDriver) Now() time.Time { return d.clock() }

// InjectFault forces the named status flag true, for fault-path tests.
func (d *SimDriver) InjectFault(overflow, underrun bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overflow = overflow
	d.underrun = underrun
}

// ClearFaults resets both status flags, as ResetHardware would on real
// hardware.
func (d *SimDriver) ClearFaults() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overflow = false
	d.underrun = false
}
