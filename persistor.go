package symphony

import (
	"fmt"
	"time"
)

// PersistedStimulus is the backend-agnostic projection of one device's
// stimulus for an Epoch record.
type PersistedStimulus struct {
	DeviceName string
	Parameters map[string]interface{}
	Duration   time.Duration
	Indefinite bool
}

// PersistedResponse is the backend-agnostic projection of one device's
// collected response.
type PersistedResponse struct {
	DeviceName  string
	Unit        string
	SampleRate  float64
	Samples     []Measurement
	ConfigTrail []NodeConfigEntry
}

// PersistedEpoch is the complete, backend-agnostic record of one Epoch,
// handed to a Persistor once the Epoch is immutable (spec §6).
type PersistedEpoch struct {
	ProtocolID         string
	ProtocolParameters map[string]interface{}
	Stimuli            []PersistedStimulus
	Responses          []PersistedResponse
	StartTime          time.Time
	Keywords           []string
	Properties         map[string]interface{}
}

// ProjectEpoch turns a live Epoch into its immutable persisted projection.
func ProjectEpoch(e *Epoch) PersistedEpoch {
	start, _ := e.StartTime()
	rec := PersistedEpoch{
		ProtocolID:         e.ProtocolID,
		ProtocolParameters: e.ProtocolParameters,
		StartTime:          start,
		Properties:         e.Properties,
	}
	for k := range e.Keywords {
		rec.Keywords = append(rec.Keywords, k)
	}
	for d, s := range e.stimuli {
		dur, known := s.Duration()
		rec.Stimuli = append(rec.Stimuli, PersistedStimulus{
			DeviceName: d.Name,
			Parameters: s.Parameters(),
			Duration:   dur,
			Indefinite: !known,
		})
	}
	for d, r := range e.responses {
		var trail []NodeConfigEntry
		var rate float64
		var unit string
		var samples []Measurement
		for _, block := range r.Blocks() {
			trail = append(trail, block.ConfigTrail()...)
			rate = block.SampleRate().Value()
			unit = block.BaseUnit()
			samples = append(samples, block.Samples()...)
		}
		rec.Responses = append(rec.Responses, PersistedResponse{
			DeviceName:  d.Name,
			Unit:        unit,
			SampleRate:  rate,
			Samples:     samples,
			ConfigTrail: trail,
		})
	}
	return rec
}

// Persistor is a pure sink for finished Epochs; serialize must complete
// synchronously before returning. Never invoked for a discarded Epoch.
// Concrete XML/HDF5 backends are out of scope for this module.
type Persistor interface {
	BeginEpochGroup(label, source string, keywords []string, props map[string]interface{}, id string, start time.Time) error
	Serialize(rec PersistedEpoch) error
	EndEpochGroup(end time.Time) error
}

// NullPersistor discards everything; useful when no backend is configured.
type NullPersistor struct{}

func (NullPersistor) BeginEpochGroup(string, string, []string, map[string]interface{}, string, time.Time) error {
	return nil
}
func (NullPersistor) Serialize(PersistedEpoch) error    { return nil }
func (NullPersistor) EndEpochGroup(time.Time) error     { return nil }

// RecordingPersistor accumulates Epoch records in memory; used by tests and
// by any caller that wants to inspect a run's output directly.
type RecordingPersistor struct {
	GroupOpen bool
	Records   []PersistedEpoch
}

func (p *RecordingPersistor) BeginEpochGroup(label, source string, keywords []string, props map[string]interface{}, id string, start time.Time) error {
	if p.GroupOpen {
		return fmt.Errorf("symphony: BeginEpochGroup called while a group is already open")
	}
	p.GroupOpen = true
	return nil
}

func (p *RecordingPersistor) Serialize(rec PersistedEpoch) error {
	if !p.GroupOpen {
		return fmt.Errorf("symphony: Serialize called with no open EpochGroup")
	}
	p.Records = append(p.Records, rec)
	return nil
}

func (p *RecordingPersistor) EndEpochGroup(end time.Time) error {
	if !p.GroupOpen {
		return fmt.Errorf("symphony: EndEpochGroup called with no open group")
	}
	p.GroupOpen = false
	return nil
}
