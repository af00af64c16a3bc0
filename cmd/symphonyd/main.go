// Command symphonyd runs the Symphony acquisition engine against an
// in-memory SimDriver, exposing a JSON-RPC control surface and a ZeroMQ
// event/data feed. Mirrors the teacher's single-binary layout (RunRPCServer
// launched from main, persistence/UI left to out-of-scope collaborators).
package main

import (
	"flag"
	"log"
	"time"

	"github.com/symphony-das/symphony-core"
	"github.com/symphony-das/symphony-core/config"
	"github.com/symphony-das/symphony-core/publish"
	"github.com/symphony-das/symphony-core/rpcserver"
)

func main() {
	configFile := flag.String("config", "", "path to a symphonyd config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("symphonyd: %v", err)
	}

	symphony.RegisterLinearConversion(symphony.DefaultRegistry, "SIM_COUNTS", "V", 1.0/3276.7)

	driver := symphony.NewSimDriver()
	rate := symphony.NewMeasurement(cfg.SampleRateHz, "Hz", 0)
	bridge := symphony.NewBridge(driver, rate, cfg.ProcessInterval, symphony.DefaultRegistry, "SIM_COUNTS")

	controller := symphony.NewController(bridge)

	bus := publish.NewBus(cfg.HeartbeatPort, cfg.EpochPort)
	defer bus.Close()

	controller.Events.Subscribe(func(ev symphony.Event) {
		switch ev.Kind {
		case symphony.EventCompletedEpoch:
			bus.PublishEpochSummary(symphony.ProjectEpoch(ev.Epoch))
		case symphony.EventStarted, symphony.EventStopped:
			bus.PublishHeartbeat(publish.Heartbeat{Running: ev.Kind == symphony.EventStarted})
		}
	})

	go func() {
		for range time.Tick(2 * time.Second) {
			bus.PublishHeartbeat(publish.Heartbeat{Running: controller.Bridge.State() == symphony.Running})
		}
	}()

	log.Printf("symphonyd: listening for control connections on :%d", cfg.RPCPort)
	rpcserver.Run(controller, symphony.NullPersistor{}, cfg.RPCPort, true)
}
