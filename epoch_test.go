package symphony

import (
	"testing"
	"time"
)

func newTestController() *Controller {
	driver := NewSimDriver()
	bridge := NewBridge(driver, hzRate(1000), 250*time.Millisecond, DefaultRegistry, "SIM_COUNTS")
	return NewController(bridge)
}

func TestEpochValidateRejectsIndefiniteWithResponses(t *testing.T) {
	c := newTestController()
	d := NewExternalDevice("devA", NewMeasurement(0, "V", 0), c)
	c.RegisterDevice(d)

	epoch := NewEpoch("indefinite", nil)
	stim := NewDelegatedStimulus(
		func(params map[string]interface{}, cursor int64, duration time.Duration) (IOData, error) {
			return EmptyIOData(hzRate(1000)), nil
		},
		func(map[string]interface{}) (time.Duration, bool) { return 0, false },
		nil,
	)
	epoch.SetStimulus(d, stim, NewMeasurement(0, "V", 0))
	epoch.AddResponse(d)

	if err := epoch.Validate(c); err == nil {
		t.Errorf("Validate accepted an indefinite epoch with a declared response")
	}
}

func TestEpochValidateRejectsUnregisteredDevice(t *testing.T) {
	c := newTestController()
	d := NewExternalDevice("devA", NewMeasurement(0, "V", 0), c) // not registered

	epoch := NewEpoch("unregistered", nil)
	epoch.AddResponse(d)

	if err := epoch.Validate(c); err == nil {
		t.Errorf("Validate accepted a response bound to an unregistered device")
	}
}

func TestEpochDurationIsMaxAcrossStimuli(t *testing.T) {
	c := newTestController()
	d1 := NewExternalDevice("devA", NewMeasurement(0, "V", 0), c)
	d2 := NewExternalDevice("devB", NewMeasurement(0, "V", 0), c)
	c.RegisterDevice(d1)
	c.RegisterDevice(d2)

	epoch := NewEpoch("durations", nil)
	short := NewRenderedStimulus([]IOData{makeBlock(1000, 1000)}, nil) // 1s @ 1kHz
	long := NewRenderedStimulus([]IOData{makeBlock(2000, 1000)}, nil)  // 2s @ 1kHz
	epoch.SetStimulus(d1, short, NewMeasurement(0, "V", 0))
	epoch.SetStimulus(d2, long, NewMeasurement(0, "V", 0))

	dur, known := epoch.Duration()
	if !known {
		t.Fatalf("Duration reported unknown for two finite stimuli")
	}
	wantDur, _ := long.Duration()
	if dur != wantDur {
		t.Errorf("Duration = %v, want max stimulus duration %v", dur, wantDur)
	}
}

func TestEpochAllResponsesFilled(t *testing.T) {
	c := newTestController()
	d := NewExternalDevice("devA", NewMeasurement(0, "V", 0), c)
	c.RegisterDevice(d)

	epoch := NewEpoch("fill-test", nil)
	stim := NewRenderedStimulus([]IOData{makeBlock(1000, 1000)}, nil) // 1s
	epoch.SetStimulus(d, stim, NewMeasurement(0, "V", 0))
	epoch.AddResponse(d)

	if epoch.allResponsesFilled() {
		t.Errorf("allResponsesFilled true before any response data arrived")
	}

	epoch.Response(d).Append(makeBlock(1000, 1000))
	if !epoch.allResponsesFilled() {
		t.Errorf("allResponsesFilled false after response reached the epoch's full duration")
	}
}
