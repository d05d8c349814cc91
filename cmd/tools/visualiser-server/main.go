// Command visualiser-server streams meshes from the simulated scanner.
//
// It is useful for testing mesh stream clients without hardware: a simulated
// scanner sweeps a synthetic room and every sample is ingested into a session
// registry whose changes are published over gRPC.
//
// Usage:
//
//	go run ./cmd/tools/visualiser-server [flags]
//
// Flags:
//
//	-addr     Listen address (default: localhost:50051)
//	-motor    Motor steps per revolution (default: 200)
//	-servo    Servo steps (default: 90)
//	-interval Delay between simulated samples (default: 2ms)
//	-rescan   Start a new session and sweep this often, 0 to sweep once
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/device"
	"github.com/banshee-data/scanmesh/internal/scan/ingest"
	"github.com/banshee-data/scanmesh/internal/scan/session"
	"github.com/banshee-data/scanmesh/internal/serialmux"
	"github.com/banshee-data/scanmesh/internal/visualiser"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "Listen address")
	motor := flag.Int("motor", scan.DefaultMotorSteps, "Motor steps per revolution")
	servo := flag.Int("servo", scan.DefaultServoSteps, "Servo steps")
	interval := flag.Duration("interval", 2*time.Millisecond, "Delay between simulated samples")
	rescan := flag.Duration("rescan", 0, "Start a new session and sweep this often (0 sweeps once)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := session.DefaultOptions()
	opts.Resolution = scan.Resolution{MotorSteps: *motor, ServoSteps: *servo}
	reg, err := session.NewRegistry(opts)
	if err != nil {
		log.Fatalf("Failed to create registry: %v", err)
	}
	dispatcher := ingest.NewDispatcher(256)
	go func() { _ = dispatcher.Run(ctx) }()

	mux := serialmux.NewSimulatedSerialMux(serialmux.SimulatorOptions{
		MotorSteps: *motor,
		ServoSteps: *servo,
		Interval:   *interval,
	})
	defer mux.Close()
	go func() { _ = mux.Monitor(ctx) }()

	ingestor := ingest.NewIngestor(reg, dispatcher)
	go func() { _ = ingestor.Run(ctx, mux) }()

	cfg := visualiser.DefaultConfig()
	cfg.ListenAddr = *addr
	publisher := visualiser.NewPublisher(cfg, func(ctx context.Context) ([]session.SessionMesh, error) {
		var out []session.SessionMesh
		err := dispatcher.Do(ctx, func() error {
			out = reg.Meshes()
			return nil
		})
		return out, err
	})
	defer reg.Subscribe(publisher.OnEvent)()

	if err := publisher.Start(); err != nil {
		log.Fatalf("Failed to start publisher: %v", err)
	}
	defer publisher.Stop()

	log.Printf("Streaming simulated %dx%d scans on %s", *motor, *servo, *addr)

	controller := device.NewController(mux, opts.Resolution)
	if err := controller.StartScan(); err != nil {
		log.Fatalf("Failed to start sweep: %v", err)
	}

	if *rescan > 0 {
		ticker := time.NewTicker(*rescan)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("Shutting down...")
				return
			case <-ticker.C:
				err := dispatcher.Do(ctx, func() error {
					i, err := reg.AddSession()
					if err != nil {
						return err
					}
					return reg.SetActive(i)
				})
				if err != nil {
					log.Printf("Failed to add session: %v", err)
					continue
				}
				if err := controller.StartScan(); err != nil {
					log.Printf("Failed to start sweep: %v", err)
				}
			}
		}
	}

	<-ctx.Done()
	log.Printf("Shutting down...")
}
