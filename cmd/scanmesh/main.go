package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/scanmesh/internal/api"
	"github.com/banshee-data/scanmesh/internal/config"
	"github.com/banshee-data/scanmesh/internal/db"
	"github.com/banshee-data/scanmesh/internal/scan/device"
	"github.com/banshee-data/scanmesh/internal/scan/ingest"
	"github.com/banshee-data/scanmesh/internal/scan/session"
	"github.com/banshee-data/scanmesh/internal/serialmux"
	"github.com/banshee-data/scanmesh/internal/version"
	"github.com/banshee-data/scanmesh/internal/visualiser"
)

var (
	configPath       = flag.String("config", "", "Path to a scanner JSON config (defaults are used when empty)")
	devMode          = flag.Bool("dev", false, "Use the simulated scanner instead of a serial port")
	disableSerial    = flag.Bool("disable-serial", false, "Run without a scanner; the serial port can be attached later via /api/serial/reload")
	listen           = flag.String("listen", "", "HTTP listen address (overrides config)")
	port             = flag.String("port", "", "Serial port (overrides config, ignored with --dev)")
	dbPath           = flag.String("db-path", "", "SQLite database path (overrides config)")
	exportDir        = flag.String("export-dir", "", "Directory for point exports (overrides config)")
	visualiserListen = flag.String("visualiser-listen", "", "gRPC mesh stream address (overrides config)")
	noVisualiser     = flag.Bool("no-visualiser", false, "Do not start the gRPC mesh stream")
	loadOnStart      = flag.Bool("load", false, "Load the most recent saved scan set at startup")
	showVersion      = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s migrate <action>\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads --config when given and applies the override flags that
// were set on the command line.
func loadConfig() (*config.ScannerConfig, error) {
	cfg := config.DefaultScannerConfig()
	if *configPath != "" {
		loaded, err := config.LoadScannerConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.ScannerConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = listen
		case "port":
			cfg.SerialPort = port
		case "db-path":
			cfg.DBPath = dbPath
		case "export-dir":
			cfg.ExportDir = exportDir
		case "visualiser-listen":
			cfg.VisualiserListen = visualiserListen
		}
	})
}

// openSerial picks the initial scanner connection. A port that fails to open
// is logged and replaced by a disabled mux so the rest of the service still
// starts.
func openSerial(cfg *config.ScannerConfig) (serialmux.SerialMuxInterface, serialmux.PortConfig) {
	pc := serialmux.PortConfig{Path: cfg.GetSerialPort(), Options: cfg.PortOptions(), Source: "config"}
	switch {
	case *devMode:
		res := cfg.Resolution()
		pc.Path, pc.Source = "simulator", "dev"
		return serialmux.NewSimulatedSerialMux(serialmux.SimulatorOptions{
			MotorSteps: res.MotorSteps,
			ServoSteps: res.ServoSteps,
		}), pc
	case *disableSerial:
		pc.Source = "disabled"
		return serialmux.NewDisabledSerialMux(), pc
	}
	m, err := serialmux.NewRealSerialMux(pc.Path, pc.Options)
	if err != nil {
		log.Printf("failed to open serial port %s, continuing without scanner: %v", pc.Path, err)
		pc.Source = "disabled"
		return serialmux.NewDisabledSerialMux(), pc
	}
	return m, pc
}

func openRealPort(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	m, err := serialmux.NewRealSerialMux(path, opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func run(ctx context.Context, cfg *config.ScannerConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg, err := session.NewRegistry(cfg.RegistryOptions())
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	dispatcher := ingest.NewDispatcher(cfg.GetDispatchQueue())

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	store := db.NewScanStore(database)

	// Nothing else is running yet, so the registry can be touched directly.
	if *loadOnStart {
		loaded, err := reg.Load(ctx, store)
		switch {
		case err != nil:
			log.Printf("failed to load saved scans: %v", err)
		case loaded:
			log.Printf("loaded %d saved scans", reg.Len())
		default:
			log.Printf("no saved scans to load")
		}
	}

	initial, portCfg := openSerial(cfg)
	manager := serialmux.NewManager(initial, portCfg, openRealPort)
	defer manager.Close()

	ingestor := ingest.NewIngestor(reg, dispatcher)
	controller := device.NewController(manager, cfg.Resolution())

	var publisher *visualiser.Publisher
	if !*noVisualiser {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = cfg.GetVisualiserListen()
		publisher = visualiser.NewPublisher(vcfg, func(ctx context.Context) ([]session.SessionMesh, error) {
			var out []session.SessionMesh
			err := dispatcher.Do(ctx, func() error {
				out = reg.Meshes()
				return nil
			})
			return out, err
		})
		unsubscribe := reg.Subscribe(publisher.OnEvent)
		defer unsubscribe()
		if err := publisher.Start(); err != nil {
			return fmt.Errorf("start visualiser: %w", err)
		}
		defer publisher.Stop()
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("dispatcher stopped: %v", err)
		}
		log.Print("dispatcher routine terminated")
	}()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := manager.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingestor.Run(ctx, manager); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ingest stopped: %v", err)
		}
		log.Print("ingest routine terminated")
	}()

	srv := api.NewServer(api.Deps{
		Registry:   reg,
		Dispatcher: dispatcher,
		Store:      store,
		Device:     controller,
		Serial:     manager,
		Ingestor:   ingestor,
		Publisher:  publisher,
		Config:     cfg,
		ExportDir:  cfg.GetExportDir(),
	})
	mux := srv.ServeMux()
	// admin debugging routes, reachable only from localhost or over Tailscale
	manager.AttachAdminRoutes(mux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		log.Printf("failed to attach db admin routes: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.GetListen(),
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to start server: %w", err)
		}
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	cancel()
	wg.Wait()
	return nil
}
