package symphony

import "time"

// ChannelType enumerates the six channel kinds a vendor driver may expose.
type ChannelType int

const (
	AnalogIn ChannelType = iota
	AnalogOut
	DigitalIn
	DigitalOut
	AuxIn
	AuxOut
)

// ChannelIdentifier names one physical channel on the device.
type ChannelIdentifier struct {
	Type   ChannelType
	Number uint16
}

// DeviceInfo is whatever openDevice learns about the attached hardware.
type DeviceInfo struct {
	Name          string
	OutputChannels []ChannelIdentifier
	InputChannels  []ChannelIdentifier
}

// DriverStatus reports the three flags the bridge's main loop checks every
// iteration.
type DriverStatus struct {
	Running  bool
	Overflow bool
	Underrun bool
}

// RawSample is the driver-native integer count type — the raw unit in which
// every DeviceDriver exchanges samples, before the <driver>_COUNTS <-> V
// registry conversion is applied.
type RawSample = int16

// DeviceDriver is the minimum set every vendor driver must satisfy to plug
// into a Bridge (§6 "Hardware bridge trait"). Out of scope per the spec:
// this module ships only SimDriver, an in-memory stand-in for loopback
// testing; real vendor glue lives behind this same interface, outside this
// module.
type DeviceDriver interface {
	OpenDevice(id string) (DeviceInfo, error)
	CloseDevice() error
	ConfigureChannels(out, in []ChannelIdentifier) error
	Preload(data map[ChannelIdentifier][]RawSample) error
	StartHardware(waitForTrigger bool) error
	StopHardware() error
	// ReadWrite writes out[ch] to the output FIFO and reads nSamples from
	// each of inChannels, blocking until both halves complete or the
	// driver-imposed timeout elapses.
	ReadWrite(out map[ChannelIdentifier][]RawSample, inChannels []ChannelIdentifier, nSamples int) (map[ChannelIdentifier][]RawSample, error)
	SetStreamBackground(ch ChannelIdentifier, value RawSample) error
	ChannelInfo(t ChannelType, number uint16) (ChannelIdentifier, error)
	Status() DriverStatus
	Now() time.Time
}
