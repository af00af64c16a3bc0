// Package publish fans out Controller lifecycle and response data over
// ZeroMQ PUB sockets, the way the teacher's DataPublisher fans out triggered
// pulse records. Adapted from publish_data.go: same "optional, non-nil
// member publishes" shape, same little binary header-then-payload wire
// format, now carrying Heartbeats and completed-Epoch summaries instead of
// triggered records.
package publish

import (
	"bytes"
	"encoding/binary"
	"fmt"

	czmq "github.com/zeromq/goczmq"

	"github.com/symphony-das/symphony-core"
)

// Ports this module's symphonyd binds by default. Vendor deployments may
// reassign these; they are not protocol constants.
const (
	PortHeartbeats = 5555
	PortEpochs     = 5556
)

// Bus publishes Heartbeats and completed Epoch summaries. Either publisher
// may be left nil (each Publish method returns early on a nil member),
// matching the teacher's DataPublisher pattern where any non-nil member is
// used.
type Bus struct {
	Heartbeats *czmq.Channeler
	Epochs     *czmq.Channeler
}

// NewBus starts PUB sockets for both channels, bound on all interfaces at
// the given ports.
func NewBus(heartbeatPort, epochPort int) *Bus {
	return &Bus{
		Heartbeats: czmq.NewPubChanneler(fmt.Sprintf("tcp://*:%d", heartbeatPort)),
		Epochs:     czmq.NewPubChanneler(fmt.Sprintf("tcp://*:%d", epochPort)),
	}
}

// Close tears down both sockets.
func (b *Bus) Close() {
	if b.Heartbeats != nil {
		b.Heartbeats.Destroy()
	}
	if b.Epochs != nil {
		b.Epochs.Destroy()
	}
}

// Heartbeat is the periodic liveness/throughput message published on
// PortHeartbeats.
type Heartbeat struct {
	Running      bool
	ResponseMB   float64
	ElapsedNanos int64
}

// PublishHeartbeat sends h as a single-frame message: a fixed binary header
// only (heartbeats carry no variable-length payload).
func (b *Bus) PublishHeartbeat(h Heartbeat) {
	if b.Heartbeats == nil {
		return
	}
	header := new(bytes.Buffer)
	running := uint8(0)
	if h.Running {
		running = 1
	}
	binary.Write(header, binary.LittleEndian, running)
	binary.Write(header, binary.LittleEndian, h.ResponseMB)
	binary.Write(header, binary.LittleEndian, h.ElapsedNanos)
	b.Heartbeats.SendChan <- [][]byte{header.Bytes()}
}

// PublishEpochSummary sends one completed Epoch's header (protocol ID,
// number of responses, start time) plus a payload frame holding, for each
// response, its sample count followed by its raw sample values, mirroring
// messageRecords' header-then-data shape.
func (b *Bus) PublishEpochSummary(rec symphony.PersistedEpoch) {
	if b.Epochs == nil {
		return
	}
	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, uint16(len(rec.ProtocolID)))
	header.WriteString(rec.ProtocolID)
	binary.Write(header, binary.LittleEndian, uint32(len(rec.Responses)))
	binary.Write(header, binary.LittleEndian, uint64(rec.StartTime.UnixNano()))

	payload := new(bytes.Buffer)
	for _, resp := range rec.Responses {
		binary.Write(payload, binary.LittleEndian, uint32(len(resp.Samples)))
		for _, s := range resp.Samples {
			binary.Write(payload, binary.LittleEndian, s.Value())
		}
	}
	b.Epochs.SendChan <- [][]byte{header.Bytes(), payload.Bytes()}
}
