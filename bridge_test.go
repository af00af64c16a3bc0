package symphony

import (
	"testing"
	"time"
)

func simTestRegistry() *UnitRegistry {
	r := NewUnitRegistry()
	RegisterLinearConversion(r, "SIM_COUNTS", "V", 1.0/100.0)
	return r
}

func TestPreloadDurationIsTwiceProcessInterval(t *testing.T) {
	b := NewBridge(NewSimDriver(), hzRate(1000), 250*time.Millisecond, simTestRegistry(), "SIM_COUNTS")
	if b.PreloadDuration() != 500*time.Millisecond {
		t.Errorf("PreloadDuration = %v, want 500ms", b.PreloadDuration())
	}
}

func TestValidateRejectsSampleRateMismatch(t *testing.T) {
	b := NewBridge(NewSimDriver(), hzRate(1000), 10*time.Millisecond, simTestRegistry(), "SIM_COUNTS")
	good := NewOutputStream("out0", "SIM_COUNTS", hzRate(1000), b.Registry)
	bad := NewOutputStream("out1", "SIM_COUNTS", hzRate(2000), b.Registry)
	ch0 := ChannelIdentifier{Type: AnalogOut, Number: 0}
	ch1 := ChannelIdentifier{Type: AnalogOut, Number: 1}
	if err := b.BeginSetup("dev0", map[ChannelIdentifier]*Stream{ch0: good, ch1: bad}, nil); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}

	err := b.Validate()
	if err == nil {
		t.Fatalf("Validate accepted a sample rate mismatch")
	}
	if !contains(err.Error(), "out1") {
		t.Errorf("Validate error %q does not name the offending stream", err.Error())
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// bridgeTestRig wires one output and one input stream, both bound to a
// single unit-converting device with a nil epochSource so pullOutputData
// always takes the between-epochs background-fill path.
func bridgeTestRig(t *testing.T, processInterval time.Duration) (*Bridge, *SimDriver, *Stream, *Stream) {
	t.Helper()
	registry := simTestRegistry()
	driver := NewSimDriver()
	b := NewBridge(driver, hzRate(1000), processInterval, registry, "SIM_COUNTS")

	dev := NewExternalDevice("devA", NewMeasurement(0, "V", 0), nil)
	out := NewOutputStream("out0", "V", hzRate(1000), registry)
	in := NewInputStream("in0", "V", hzRate(1000), registry)
	dev.BindOutputStream(out)
	dev.BindInputStream(in)

	ch0 := ChannelIdentifier{Type: AnalogOut, Number: 0}
	ch1 := ChannelIdentifier{Type: AnalogIn, Number: 0}
	if err := b.BeginSetup("dev0", map[ChannelIdentifier]*Stream{ch0: out}, map[ChannelIdentifier]*Stream{ch1: in}); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	return b, driver, out, in
}

func TestStartTransitionsReadyToRunningAndStopReturnsToReady(t *testing.T) {
	b, _, _, _ := bridgeTestRig(t, 5*time.Millisecond)

	if err := b.Start(nil, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if b.State() != Running {
		t.Fatalf("state after Start = %v, want Running", b.State())
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if b.State() != Ready {
		t.Errorf("state after Stop = %v, want Ready", b.State())
	}
}

func TestStopWritesDeviceBackgroundToDriver(t *testing.T) {
	b, driver, out, _ := bridgeTestRig(t, 5*time.Millisecond)
	out.Device().SetDeviceBackground(NewMeasurement(-1.5, "V", 0))

	if err := b.Start(nil, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	ch0 := ChannelIdentifier{Type: AnalogOut, Number: 0}
	raw, ok := driver.Background(ch0)
	if !ok {
		t.Fatalf("driver has no recorded background for %v", ch0)
	}
	if float64(raw) != -150 {
		t.Errorf("driver background raw = %v, want -150 counts (-1.5V @ scale 100)", raw)
	}
}

func TestFaultTransitionsToFaultedAndResetHardwareRecovers(t *testing.T) {
	b, driver, _, _ := bridgeTestRig(t, 5*time.Millisecond)

	if err := b.Start(nil, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	driver.InjectFault(true, false)

	<-b.Done()
	if b.State() != Faulted {
		t.Fatalf("state after injected overflow = %v, want Faulted", b.State())
	}
	if b.LoopError() == nil {
		t.Errorf("LoopError is nil after a fault")
	}

	driver.ClearFaults()
	if err := b.ResetHardware("dev0"); err != nil {
		t.Fatalf("ResetHardware: %v", err)
	}
	if b.State() != Ready {
		t.Errorf("state after ResetHardware = %v, want Ready", b.State())
	}
	if b.LoopError() != nil {
		t.Errorf("LoopError still set after ResetHardware")
	}
}
