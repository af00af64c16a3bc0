package symphony

import (
	"testing"
	"time"
)

// stubController is a minimal epochSource for device-level tests that don't
// need a full Bridge/Controller wiring.
type stubController struct {
	epoch *Epoch
}

func (s *stubController) currentEpoch() *Epoch { return s.epoch }

func TestCoalescingDeviceWaitsForAllInputs(t *testing.T) {
	ctrl := &stubController{}
	d := NewExternalDevice("amp", NewMeasurement(0, "V", 0), ctrl)
	d.AsCoalescing(func(blocks []IOData) (IOData, error) {
		rate := blocks[0].SampleRate()
		n := blocks[0].Len()
		summed := make([]Measurement, n)
		for i := 0; i < n; i++ {
			v := 0.0
			for _, b := range blocks {
				v += b.Samples()[i].Value()
			}
			summed[i] = NewMeasurement(v, "V", 0)
		}
		return NewIOData(summed, rate), nil
	})

	s1 := NewInputStream("s1", "V", hzRate(1000), DefaultRegistry)
	s2 := NewInputStream("s2", "V", hzRate(1000), DefaultRegistry)
	d.BindInputStream(s1)
	d.BindInputStream(s2)

	epoch := NewEpoch("coalesce-test", nil)
	epoch.AddResponse(d)
	ctrl.epoch = epoch

	samples1 := make([]Measurement, 100)
	samples2 := make([]Measurement, 100)
	for i := range samples1 {
		samples1[i] = NewMeasurement(1, "V", 0)
		samples2[i] = NewMeasurement(2, "V", 0)
	}
	block1 := NewIOData(samples1, hzRate(1000))
	block2 := NewIOData(samples2, hzRate(1000))

	if err := s1.PushInputData(block1); err != nil {
		t.Fatalf("push s1: %v", err)
	}
	resp := epoch.Response(d)
	if len(resp.Blocks()) != 0 {
		t.Fatalf("response got a block before all inputs arrived: %d", len(resp.Blocks()))
	}

	if err := s2.PushInputData(block2); err != nil {
		t.Fatalf("push s2: %v", err)
	}
	if len(resp.Blocks()) != 1 {
		t.Fatalf("response blocks = %d, want 1 after both inputs arrived", len(resp.Blocks()))
	}
	combined := resp.Blocks()[0]
	for _, s := range combined.Samples() {
		if s.Value() != 3 {
			t.Errorf("coalesced sample = %v, want 3V", s.Value())
		}
	}
}

func TestDeviceBackgroundAppliesBetweenEpochs(t *testing.T) {
	ctrl := &stubController{}
	bg := NewMeasurement(-3.2, "V", 0)
	d := NewExternalDevice("amp", bg, ctrl)
	s := NewOutputStream("out0", "V", hzRate(1000), DefaultRegistry)
	d.BindOutputStream(s)

	block, err := s.PullOutputData(0)
	if err != nil {
		t.Fatalf("PullOutputData: %v", err)
	}
	_ = block
	if s.Background().Value() != -3.2 {
		t.Errorf("stream background = %v, want device background -3.2V", s.Background().Value())
	}
}

func TestEpochBackgroundOverridesDeviceBackgroundDuringRun(t *testing.T) {
	ctrl := &stubController{}
	deviceBg := NewMeasurement(-3.2, "V", 0)
	d := NewExternalDevice("amp", deviceBg, ctrl)
	s := NewOutputStream("out0", "V", hzRate(1000), DefaultRegistry)
	d.BindOutputStream(s)

	epoch := NewEpoch("bg-test", nil)
	epochBg := NewMeasurement(0, "V", 0)
	stim := NewRenderedStimulus(nil, nil) // immediately exhausted, forces background fill
	epoch.SetStimulus(d, stim, epochBg)
	ctrl.epoch = epoch

	block, err := s.PullOutputData(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("PullOutputData: %v", err)
	}
	if block.Len() != 10 {
		t.Fatalf("pulled %d samples, want 10 (10ms @ 1kHz)", block.Len())
	}
	for i, m := range block.Samples() {
		if m.Value() != epochBg.Value() {
			t.Errorf("sample %d = %v, want epoch background %v, not device background %v", i, m.Value(), epochBg.Value(), deviceBg.Value())
		}
	}
}
