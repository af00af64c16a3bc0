package symphony

import (
	"testing"
	"time"
)

func newLoopbackController(t *testing.T, processInterval time.Duration) (*Controller, *ExternalDevice, *Stream, *Stream) {
	t.Helper()
	registry := NewUnitRegistry()
	RegisterLinearConversion(registry, "SIM_COUNTS", "V", 1.0/100.0)

	driver := NewSimDriver()
	bridge := NewBridge(driver, hzRate(1000), processInterval, registry, "SIM_COUNTS")
	controller := NewController(bridge)

	d := NewExternalDevice("devA", NewMeasurement(0, "V", 0), controller)
	out := NewOutputStream("out0", "V", hzRate(1000), registry)
	in := NewInputStream("in0", "V", hzRate(1000), registry)
	d.BindOutputStream(out)
	d.BindInputStream(in)

	ch0 := ChannelIdentifier{Type: AnalogOut, Number: 0}
	ch1 := ChannelIdentifier{Type: AnalogIn, Number: 0}
	if err := bridge.BeginSetup("dev0", map[ChannelIdentifier]*Stream{ch0: out}, map[ChannelIdentifier]*Stream{ch1: in}); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	controller.RegisterDevice(d)
	return controller, d, out, in
}

// TestControllerLoopbackIdentity is spec scenario 1: a finite stimulus sent
// out one channel must come back unchanged on the same-index input channel,
// once the driver's fixed pipeline delay is accounted for.
func TestControllerLoopbackIdentity(t *testing.T) {
	const n = 50
	controller, d, _, _ := newLoopbackController(t, 10*time.Millisecond)

	samples := make([]Measurement, n)
	for i := range samples {
		samples[i] = NewMeasurement(float64(i)*0.01, "V", 0)
	}
	stim := NewRenderedStimulus([]IOData{NewIOData(samples, hzRate(1000))}, nil)

	epoch := NewEpoch("loopback", nil)
	epoch.SetStimulus(d, stim, NewMeasurement(0, "V", 0))
	epoch.AddResponse(d)

	persistor := &RecordingPersistor{}
	if err := persistor.BeginEpochGroup("g", "src", nil, nil, "g1", time.Now()); err != nil {
		t.Fatalf("BeginEpochGroup: %v", err)
	}

	if err := controller.RunEpoch(epoch, persistor); err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}

	if err := persistor.EndEpochGroup(time.Now()); err != nil {
		t.Fatalf("EndEpochGroup: %v", err)
	}
	if len(persistor.Records) != 1 {
		t.Fatalf("persistor recorded %d epochs, want 1", len(persistor.Records))
	}

	resp := epoch.Response(d)
	var got []Measurement
	for _, b := range resp.Blocks() {
		got = append(got, b.Samples()...)
	}

	delay := controllerRigDriver(controller).PipelineDelay
	if len(got) <= delay {
		t.Fatalf("response too short to check past the pipeline delay: %d samples", len(got))
	}
	for i := delay; i < len(got); i++ {
		want := wantWrittenSample(i-delay, samples)
		if got[i].Value() != want {
			t.Errorf("response[%d] = %v, want %v", i, got[i].Value(), want)
		}
	}
}

func controllerRigDriver(c *Controller) *SimDriver {
	return c.Bridge.Driver.(*SimDriver)
}

func wantWrittenSample(i int, stimSamples []Measurement) float64 {
	if i < len(stimSamples) {
		return stimSamples[i].Value()
	}
	return 0 // background fill after the stimulus is exhausted
}

// TestControllerCancelDiscardsIndefiniteEpoch is spec scenario 4: an
// indefinite epoch cancelled mid-flight must be discarded, never persisted,
// and RunEpoch must return promptly (within a few ProcessIntervals).
func TestControllerCancelDiscardsIndefiniteEpoch(t *testing.T) {
	controller, d, _, _ := newLoopbackController(t, 5*time.Millisecond)

	gen := func(params map[string]interface{}, cursor int64, duration time.Duration) (IOData, error) {
		n := int(duration.Seconds() * 1000)
		samples := make([]Measurement, n)
		for i := range samples {
			samples[i] = NewMeasurement(1, "V", 0)
		}
		return NewIOData(samples, hzRate(1000)), nil
	}
	stim := NewDelegatedStimulus(gen, func(map[string]interface{}) (time.Duration, bool) { return 0, false }, nil)

	epoch := NewEpoch("indefinite", nil)
	epoch.SetStimulus(d, stim, NewMeasurement(0, "V", 0))

	var kinds []EventKind
	controller.Events.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	go func() {
		time.Sleep(30 * time.Millisecond)
		controller.RequestCancel()
	}()

	persistor := &RecordingPersistor{}
	start := time.Now()
	if err := controller.RunEpoch(epoch, persistor); err != nil {
		t.Fatalf("RunEpoch: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed > 500*time.Millisecond {
		t.Errorf("RunEpoch took %v to honour cancellation, want well under 500ms", elapsed)
	}

	if len(persistor.Records) != 0 {
		t.Errorf("persistor recorded %d epochs for a cancelled run, want 0", len(persistor.Records))
	}

	foundDiscarded, foundCompleted := false, false
	for _, k := range kinds {
		if k == EventDiscardedEpoch {
			foundDiscarded = true
		}
		if k == EventCompletedEpoch {
			foundCompleted = true
		}
	}
	if !foundDiscarded {
		t.Errorf("DiscardedEpoch event was not fired")
	}
	if foundCompleted {
		t.Errorf("CompletedEpoch event fired for a cancelled run")
	}
	if controller.Bridge.State() != Ready {
		t.Errorf("bridge state after cancel = %v, want Ready", controller.Bridge.State())
	}
}
