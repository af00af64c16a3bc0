package symphony

import (
	"fmt"
	"sync"
	"time"
)

// Controller is the orchestrator: it owns the set of bound devices, drives
// E->D->C->B upstream/downstream through the Bridge, fires lifecycle
// events, and invokes the Persistor. Exactly one Epoch runs at a time.
type Controller struct {
	Bridge *Bridge
	Events *EventBus
	Clock  Clock

	mu      sync.Mutex
	devices map[*ExternalDevice]struct{}
	epoch   *Epoch

	cancelMu sync.Mutex
	cancel   bool
}

// NewController returns a Controller around bridge, with a fresh event bus
// and the bridge's driver clock as canonical time source.
func NewController(bridge *Bridge) *Controller {
	c := &Controller{
		Bridge:  bridge,
		Events:  NewEventBus(),
		Clock:   DriverClock{Driver: bridge.Driver},
		devices: make(map[*ExternalDevice]struct{}),
	}
	bridge.Events = c.Events
	return c
}

// DeviceByName returns the registered device with the given name, for
// callers (e.g. the RPC control surface) that only have a name to go on.
func (c *Controller) DeviceByName(name string) (*ExternalDevice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for d := range c.devices {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// RegisterDevice binds a device to this controller, so Epochs may
// reference it.
func (c *Controller) RegisterDevice(d *ExternalDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[d] = struct{}{}
}

func (c *Controller) hasDevice(d *ExternalDevice) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.devices[d]
	return ok
}

// currentEpoch implements epochSource for ExternalDevice.
func (c *Controller) currentEpoch() *Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Controller) setCurrentEpoch(e *Epoch) {
	c.mu.Lock()
	c.epoch = e
	c.mu.Unlock()
}

// RequestCancel sets the cooperative cancellation flag. RunEpoch's wait
// polls it every ProcessInterval/4 and then calls Bridge.Cancel, whose
// request the acquisition thread checks once per main-loop iteration.
func (c *Controller) RequestCancel() {
	c.cancelMu.Lock()
	c.cancel = true
	c.cancelMu.Unlock()
}

func (c *Controller) cancelRequested() bool {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	return c.cancel
}

func (c *Controller) clearCancel() {
	c.cancelMu.Lock()
	c.cancel = false
	c.cancelMu.Unlock()
}

// RunEpoch validates epoch, runs it to completion (or cancellation, or
// hardware fault) and, unless cancelled, serializes it through persistor.
// Validation errors surface synchronously before any hardware is touched.
// Loop errors fault the bridge, discard the Epoch, trigger an async
// ResetHardware, and are re-raised to this call's caller.
func (c *Controller) RunEpoch(epoch *Epoch, persistor Persistor) error {
	if err := epoch.Validate(c); err != nil {
		return err
	}

	c.clearCancel()
	c.setCurrentEpoch(epoch)
	epoch.setStartTime(c.Clock.Now())

	if err := c.Bridge.Start(epoch, false); err != nil {
		c.setCurrentEpoch(nil)
		return err
	}
	c.Events.Fire(Event{Kind: EventStarted, Epoch: epoch})

	c.waitForCompletion(epoch)

	loopErr := c.Bridge.LoopError()
	cancelled := c.cancelRequested()

	if loopErr != nil {
		// Faulted: stop/teardown can't rely on the normal Stop() state
		// check, since the bridge is already in Faulted, not Running.
		c.discardEpoch(epoch, loopErr)
		go c.resetAfterFault()
		return loopErr
	}

	if cancelled {
		if err := c.Bridge.Cancel(); err != nil {
			return err
		}
		c.discardEpoch(epoch, nil)
		return nil
	}

	if err := c.Bridge.Stop(); err != nil {
		return err
	}
	return c.completeEpoch(epoch, persistor)
}

// waitForCompletion returns as soon as either the bridge's acquisition loop
// has exited on its own (natural completion or fault) or a cancellation has
// been requested — whichever happens first. RunEpoch decides afterward
// which of Stop/Cancel/fault-recovery to run.
func (c *Controller) waitForCompletion(epoch *Epoch) {
	done := c.Bridge.Done()
	poll := time.NewTicker(c.Bridge.ProcessInterval / 4)
	defer poll.Stop()
	for {
		select {
		case <-done:
			return
		case <-poll.C:
			if c.cancelRequested() {
				return
			}
		}
	}
}

func (c *Controller) discardEpoch(epoch *Epoch, err error) {
	c.setCurrentEpoch(nil)
	c.Events.Fire(Event{Kind: EventDiscardedEpoch, Epoch: epoch, Err: err})
	c.Events.Fire(Event{Kind: EventStopped, Epoch: epoch})
}

func (c *Controller) completeEpoch(epoch *Epoch, persistor Persistor) error {
	c.setCurrentEpoch(nil)
	rec := ProjectEpoch(epoch)
	if persistor != nil {
		if err := persistor.Serialize(rec); err != nil {
			return err
		}
	}
	c.Events.Fire(Event{Kind: EventCompletedEpoch, Epoch: epoch})
	c.Events.Fire(Event{Kind: EventStopped, Epoch: epoch})
	return nil
}

func (c *Controller) resetAfterFault() {
	if err := c.Bridge.ResetHardware("default"); err != nil {
		// Driver-close/reopen failures during fault recovery are logged,
		// not re-raised: a second failure here must not hang the caller
		// that already received the original loop error.
		c.Events.Fire(Event{Kind: EventStopped, Err: fmt.Errorf("symphony: ResetHardware after fault: %w", err)})
	}
}
