package symphony

import (
	"fmt"
	"time"
)

// Epoch is the state for one trial: the stimuli sent and responses
// collected for a bound set of devices, plus protocol metadata. It is
// created by the caller, handed to the Controller, mutated only by the
// Controller while running, then handed immutable to the Persistor.
type Epoch struct {
	ProtocolID         string
	ProtocolParameters map[string]interface{}
	Keywords           map[string]struct{}
	Properties         map[string]interface{}

	stimuli     map[*ExternalDevice]Stimulus
	responses   map[*ExternalDevice]*Response
	backgrounds map[*ExternalDevice]Measurement

	startTime *time.Time
}

// NewEpoch returns an Epoch with no stimuli or responses bound yet.
func NewEpoch(protocolID string, params map[string]interface{}) *Epoch {
	return &Epoch{
		ProtocolID:         protocolID,
		ProtocolParameters: params,
		Keywords:           make(map[string]struct{}),
		Properties:         make(map[string]interface{}),
		stimuli:            make(map[*ExternalDevice]Stimulus),
		responses:          make(map[*ExternalDevice]*Response),
		backgrounds:        make(map[*ExternalDevice]Measurement),
	}
}

// SetStimulus binds a Stimulus to a device for this Epoch, with the
// Epoch-level background to use for that device while the Epoch runs.
func (e *Epoch) SetStimulus(d *ExternalDevice, s Stimulus, background Measurement) {
	e.stimuli[d] = s
	e.backgrounds[d] = background
}

// AddResponse registers that this Epoch expects to collect a Response for
// the given device.
func (e *Epoch) AddResponse(d *ExternalDevice) {
	e.responses[d] = NewResponse()
}

// Response returns the collected Response for a device, or nil if none was
// registered.
func (e *Epoch) Response(d *ExternalDevice) *Response {
	return e.responses[d]
}

// Stimulus returns the bound Stimulus for a device, or nil.
func (e *Epoch) Stimulus(d *ExternalDevice) Stimulus {
	return e.stimuli[d]
}

// backgroundFor returns the Epoch-level background for a device, applied
// while this Epoch is running — as distinct from the device's own
// Background, which applies only between Epochs and on clean stop.
func (e *Epoch) backgroundFor(d *ExternalDevice) Measurement {
	return e.backgrounds[d]
}

// StartTime returns when the Epoch began running, if it has started.
func (e *Epoch) StartTime() (time.Time, bool) {
	if e.startTime == nil {
		return time.Time{}, false
	}
	return *e.startTime, true
}

func (e *Epoch) setStartTime(t time.Time) { e.startTime = &t }

// IsIndefinite is true if any bound stimulus has no known duration.
func (e *Epoch) IsIndefinite() bool {
	for _, s := range e.stimuli {
		if _, known := s.Duration(); !known {
			return true
		}
	}
	return false
}

// Duration is the max over all bound stimulus durations, or false
// (unbounded) if the Epoch is indefinite.
func (e *Epoch) Duration() (time.Duration, bool) {
	var max time.Duration
	for _, s := range e.stimuli {
		d, known := s.Duration()
		if !known {
			return 0, false
		}
		if d > max {
			max = d
		}
	}
	return max, true
}

// AddKeyword adds a keyword tag.
func (e *Epoch) AddKeyword(k string) { e.Keywords[k] = struct{}{} }

// Validate enforces the Epoch-level invariants: an indefinite Epoch must
// have no responses (authoritative per spec — cancel is how an indefinite
// Epoch's partial data is ever surfaced, never a registered Response), and
// every device with a stimulus or response must be bound to a stream on the
// given controller.
func (e *Epoch) Validate(c *Controller) error {
	if e.IsIndefinite() && len(e.responses) > 0 {
		return &ErrValidation{Msg: "indefinite epoch must not declare any responses"}
	}
	boundTo := func(d *ExternalDevice, streams map[ChannelIdentifier]*Stream) bool {
		for _, s := range streams {
			if s.Device() == d {
				return true
			}
		}
		return false
	}
	for d := range e.stimuli {
		if !c.hasDevice(d) {
			return &ErrValidation{Msg: fmt.Sprintf("epoch stimulus bound to device %q which is not on this controller", d.Name)}
		}
		if !boundTo(d, c.Bridge.outputStreams) {
			return &ErrValidation{Msg: fmt.Sprintf("epoch stimulus bound to device %q which has no output stream on this controller", d.Name)}
		}
	}
	for d := range e.responses {
		if !c.hasDevice(d) {
			return &ErrValidation{Msg: fmt.Sprintf("epoch response bound to device %q which is not on this controller", d.Name)}
		}
		if !boundTo(d, c.Bridge.inputStreams) {
			return &ErrValidation{Msg: fmt.Sprintf("epoch response bound to device %q which has no input stream on this controller", d.Name)}
		}
	}
	return nil
}

// allResponsesFilled reports whether every declared Response has reached at
// least the Epoch's duration.
func (e *Epoch) allResponsesFilled() bool {
	total, known := e.Duration()
	if !known {
		return false
	}
	for _, r := range e.responses {
		if r.Duration() < total {
			return false
		}
	}
	return true
}

// EpochGroup is a labelled collection of Epochs sharing one biological
// source, tree-structured via Parent.
type EpochGroup struct {
	Label      string
	Source     string
	StartTime  time.Time
	EndTime    *time.Time
	Parent     *EpochGroup
	Keywords   map[string]struct{}
	Properties map[string]interface{}
}

// NewEpochGroup returns a new, open EpochGroup.
func NewEpochGroup(label, source string, start time.Time, parent *EpochGroup) *EpochGroup {
	return &EpochGroup{
		Label:      label,
		Source:     source,
		StartTime:  start,
		Parent:     parent,
		Keywords:   make(map[string]struct{}),
		Properties: make(map[string]interface{}),
	}
}

// Close records the group's end time.
func (g *EpochGroup) Close(end time.Time) { g.EndTime = &end }
