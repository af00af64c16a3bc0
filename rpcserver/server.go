// Package rpcserver exposes a Controller over JSON-RPC, adapted from the
// teacher's rpc_server.go SourceControl/RunRPCServer pair: a thin,
// programmatic control surface (spec §6 calls this "a thin configuration
// layer... assumed"), not a feature of the acquisition engine itself.
package rpcserver

import (
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"gonum.org/v1/gonum/mat"

	"github.com/symphony-das/symphony-core"
)

// Status is what clients poll over the control channel with GetStatus; the
// server does not push it.
type Status struct {
	Running    bool
	ProtocolID string
	BridgeState string
}

// ControlServer is the RPC-registered object, one per Controller, mirroring
// SourceControl's role: it never touches sample data directly, only
// configuration and lifecycle calls on the underlying engine.
type ControlServer struct {
	controller *symphony.Controller
	persistor  symphony.Persistor
	status     atomic.Value
}

// NewControlServer wraps controller for RPC exposure.
func NewControlServer(controller *symphony.Controller, persistor symphony.Persistor) *ControlServer {
	s := &ControlServer{controller: controller, persistor: persistor}
	s.status.Store(Status{})
	return s
}

// RunEpochArgs is the RPC argument for RunEpoch. The epoch itself is built
// in-process (Stimuli are Go closures/slices, which do not marshal over
// JSON-RPC); RunEpoch here is for epochs already constructed by the calling
// process and passed by reference is not possible across a real RPC
// boundary, so this method is intended for same-process embedding of the
// control server, and documents the shape a richer protocol-plugin layer
// (out of scope) would need to bridge.
type RunEpochArgs struct {
	Epoch *symphony.Epoch
}

// RunEpoch runs args.Epoch to completion through the wrapped Controller.
func (s *ControlServer) RunEpoch(args *RunEpochArgs, reply *bool) error {
	log.Printf("RunEpoch: protocol=%s", args.Epoch.ProtocolID)
	s.status.Store(Status{Running: true, ProtocolID: args.Epoch.ProtocolID})
	err := s.controller.RunEpoch(args.Epoch, s.persistor)
	s.status.Store(Status{ProtocolID: args.Epoch.ProtocolID})
	*reply = err == nil
	return err
}

// Cancel requests cooperative cancellation of the in-flight Epoch, if any.
func (s *ControlServer) Cancel(dummy *string, reply *bool) error {
	s.controller.RequestCancel()
	*reply = true
	return nil
}

// GetStatus reports the last-known Status.
func (s *ControlServer) GetStatus(dummy *string, reply *Status) error {
	*reply = s.status.Load().(Status)
	reply.BridgeState = s.controller.Bridge.State().String()
	return nil
}

// TelegraphBasisArgs carries a base64-encoded gonum mat.Dense, matching the
// teacher's ConfigureProjectorsBasis wire format (base64 -> mat.Dense via
// MarshalBinary/UnmarshalBinary) — here used for an amplifier mode->gain
// lookup matrix instead of PCA-style projectors.
type TelegraphBasisArgs struct {
	DeviceName  string
	MatrixBase64 string
}

// ConfigureTelegraphBasis decodes a gonum matrix sent as base64 and installs
// it on the named device via ExternalDevice.SetTelegraphBasis, so the next
// pull's telegraph decode picks it up through TelegraphParams["basis"]. The
// engine itself still treats ReadTelegraphFunc/TelegraphTargetFunc as opaque
// callbacks; this RPC method only updates the mode->gain table they may
// consult.
func (s *ControlServer) ConfigureTelegraphBasis(args *TelegraphBasisArgs, reply *bool) error {
	raw, err := base64.StdEncoding.DecodeString(args.MatrixBase64)
	if err != nil {
		return err
	}
	var basis mat.Dense
	if err := basis.UnmarshalBinary(raw); err != nil {
		return err
	}
	device, ok := s.controller.DeviceByName(args.DeviceName)
	if !ok {
		return fmt.Errorf("rpcserver: no device named %q on this controller", args.DeviceName)
	}
	device.SetTelegraphBasis(&basis)
	log.Printf("ConfigureTelegraphBasis[%s]: %v", args.DeviceName, spew.Sdump(basis.Dims()))
	*reply = true
	return nil
}

// Run sets up and runs a JSON-RPC server on port. If block, it runs until
// Ctrl-C, mirroring RunRPCServer's shape (one synchronous-per-connection
// ServeRequest loop, graceful SIGINT shutdown).
func Run(controller *symphony.Controller, persistor symphony.Persistor, port int, block bool) {
	cs := NewControlServer(controller, persistor)

	server := rpc.NewServer()
	if err := server.Register(cs); err != nil {
		panic(err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		panic(fmt.Sprint("symphony/rpcserver: listen error: ", err))
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Printf("symphony/rpcserver: accept error: %v", err)
				return
			}
			go func() {
				codec := jsonrpc.NewServerCodec(conn)
				for {
					if err := server.ServeRequest(codec); err != nil {
						log.Printf("symphony/rpcserver: connection closed: %v", err)
						return
					}
				}
			}()
		}
	}()

	if block {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		<-interrupt
		controller.RequestCancel()
	}
}
