package symphony

import "testing"

func newStreamTestDevice() *ExternalDevice {
	return NewExternalDevice("devA", NewMeasurement(0, "V", 0), nil)
}

func TestStreamSetSampleRateFails(t *testing.T) {
	s := NewOutputStream("out0", "V", hzRate(1000), DefaultRegistry)
	if err := s.SetSampleRate(hzRate(2000)); err == nil {
		t.Errorf("SetSampleRate on a Stream succeeded, want error (rate is controller-owned)")
	}
}

func TestPullOutputDataUnboundFails(t *testing.T) {
	s := NewOutputStream("out0", "V", hzRate(1000), DefaultRegistry)
	if _, err := s.PullOutputData(0); err == nil {
		t.Errorf("PullOutputData on an unbound stream succeeded, want error")
	}
}

func TestPullOutputDataAppendsConfigTrail(t *testing.T) {
	d := newStreamTestDevice()
	s := NewOutputStream("out0", "V", hzRate(1000), DefaultRegistry)
	d.BindOutputStream(s)

	block, err := s.PullOutputData(0)
	if err != nil {
		t.Fatalf("PullOutputData: %v", err)
	}
	trail := block.ConfigTrail()
	if len(trail) != 1 || trail[0].NodeName != "out0" {
		t.Errorf("config trail = %v, want one entry for out0", trail)
	}
}
