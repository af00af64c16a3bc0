package symphony

import (
	"fmt"
	"time"
)

// Stimulus is a producer of output blocks for one device during one Epoch.
// Both variants commit a block the moment it is pulled: pullData is never
// retried by the stimulus itself, the controller owns delivering what it
// returns.
type Stimulus interface {
	// PullData returns a block of at most duration, advancing the internal
	// cursor. Returns an empty block once exhausted.
	PullData(duration time.Duration) (IOData, error)
	// Duration reports the stimulus's total length, or false if indefinite.
	Duration() (time.Duration, bool)
	// Reset rewinds the cursor to the start.
	Reset()
	// Parameters returns the dictionary that will be persisted alongside
	// the Epoch.
	Parameters() map[string]interface{}
}

// RenderedStimulus is a finite, pre-materialised sequence of blocks.
type RenderedStimulus struct {
	blocks     []IOData
	params     map[string]interface{}
	blockIndex int
	offset     int // samples already consumed from blocks[blockIndex]
}

// NewRenderedStimulus builds a Stimulus from pre-materialised blocks, all of
// which must share a sample rate and unit (panics otherwise, a programmer
// error — rendering is the caller's responsibility).
func NewRenderedStimulus(blocks []IOData, params map[string]interface{}) *RenderedStimulus {
	unit := ""
	for i, b := range blocks {
		if b.SampleRate().Value() != blocks[0].SampleRate().Value() {
			panic("symphony: RenderedStimulus blocks must share a sample rate")
		}
		if b.Len() == 0 {
			continue
		}
		if unit == "" {
			unit = b.BaseUnit()
		} else if b.BaseUnit() != unit {
			panic(fmt.Sprintf("symphony: RenderedStimulus blocks must share a unit, block %d is %s not %s", i, b.BaseUnit(), unit))
		}
	}
	return &RenderedStimulus{blocks: blocks, params: params}
}

// Duration is the sum of all block durations: always known.
func (s *RenderedStimulus) Duration() (time.Duration, bool) {
	var total time.Duration
	for _, b := range s.blocks {
		total += b.Duration()
	}
	return total, true
}

func (s *RenderedStimulus) Parameters() map[string]interface{} { return s.params }

func (s *RenderedStimulus) Reset() {
	s.blockIndex = 0
	s.offset = 0
}

// PullData draws up to duration worth of samples from the pre-materialised
// sequence, advancing the cursor across block boundaries as needed. Returns
// an empty block once all blocks are exhausted.
func (s *RenderedStimulus) PullData(duration time.Duration) (IOData, error) {
	if s.blockIndex >= len(s.blocks) {
		return EmptyIOData(NewMeasurement(1, "Hz", 0)), nil
	}
	rate := s.blocks[s.blockIndex].SampleRate()
	wantSamples := int(duration.Seconds() * rate.Value())
	collected := make([]Measurement, 0, wantSamples)

	for s.blockIndex < len(s.blocks) && len(collected) < wantSamples {
		block := s.blocks[s.blockIndex]
		remainingInBlock := block.Samples()[s.offset:]
		need := wantSamples - len(collected)
		if need >= len(remainingInBlock) {
			collected = append(collected, remainingInBlock...)
			s.blockIndex++
			s.offset = 0
		} else {
			collected = append(collected, remainingInBlock[:need]...)
			s.offset += need
		}
	}
	if len(collected) == 0 {
		return EmptyIOData(rate), nil
	}
	return NewIOData(collected, rate), nil
}

// DelegatedGenerator produces one block on demand, given the stimulus's
// parameters, a cursor position (samples already generated), and the
// requested duration. The returned block's rate must match what the
// generator was configured for, and its duration must be <= requested.
type DelegatedGenerator func(params map[string]interface{}, cursor int64, duration time.Duration) (IOData, error)

// DelegatedDurationFunc reports the stimulus's total duration, or false if
// indefinite.
type DelegatedDurationFunc func(params map[string]interface{}) (time.Duration, bool)

// DelegatedStimulus lazily generates blocks, possibly without end.
type DelegatedStimulus struct {
	generate   DelegatedGenerator
	durationOf DelegatedDurationFunc
	params     map[string]interface{}
	cursor     int64
}

// NewDelegatedStimulus builds a Stimulus backed by a generator function.
func NewDelegatedStimulus(generate DelegatedGenerator, durationOf DelegatedDurationFunc, params map[string]interface{}) *DelegatedStimulus {
	return &DelegatedStimulus{generate: generate, durationOf: durationOf, params: params}
}

func (s *DelegatedStimulus) Duration() (time.Duration, bool) {
	return s.durationOf(s.params)
}

func (s *DelegatedStimulus) Parameters() map[string]interface{} { return s.params }

func (s *DelegatedStimulus) Reset() { s.cursor = 0 }

func (s *DelegatedStimulus) PullData(duration time.Duration) (IOData, error) {
	block, err := s.generate(s.params, s.cursor, duration)
	if err != nil {
		return IOData{}, err
	}
	if block.Duration() > duration {
		return IOData{}, &ErrValidation{Msg: "delegated stimulus generator returned a block longer than requested"}
	}
	s.cursor += int64(block.Len())
	return block, nil
}

// Response is the growing, append-only sink for one device's input blocks
// during one Epoch.
type Response struct {
	blocks []IOData
}

// NewResponse returns an empty Response.
func NewResponse() *Response { return &Response{} }

// Append adds one block. Only ever called by the acquisition thread.
func (r *Response) Append(block IOData) {
	r.blocks = append(r.blocks, block)
}

// Blocks returns the accumulated blocks in arrival order.
func (r *Response) Blocks() []IOData { return r.blocks }

// Duration is the sum of all appended block durations.
func (r *Response) Duration() time.Duration {
	var total time.Duration
	for _, b := range r.blocks {
		total += b.Duration()
	}
	return total
}
