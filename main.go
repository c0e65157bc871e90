package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sitsense/posture.report/internal/api"
	"github.com/sitsense/posture.report/internal/config"
	"github.com/sitsense/posture.report/internal/db"
	"github.com/sitsense/posture.report/internal/posture"
	"github.com/sitsense/posture.report/internal/seatlink"
	"github.com/sitsense/posture.report/internal/timeutil"
	"github.com/sitsense/posture.report/internal/version"
	"github.com/sitsense/posture.report/internal/ws"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbFile        = flag.String("db", "posture_data.db", "SQLite database path")
	modelDir      = flag.String("models", "models", "Directory holding stage1/ and stage2/ model files")
	serialPort    = flag.String("serial", "", "Serial device of a locally attached seat (empty disables)")
	baudRate      = flag.Int("baud", 0, "Serial baud rate (0 uses the tuning file or default)")
	deviceID      = flag.String("device", "seat-local", "Device ID for serially attached seat")
	tuningFile    = flag.String("tuning", "", "Optional JSON tuning file (model weights, baud rate)")
	devFixtures   = flag.String("dev", "", "Replay a fixture file instead of opening a real serial port")
	statsInterval = flag.Duration("stats-interval", time.Minute, "Interval between throughput log lines (0 disables)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("posture.report %s", version.String())

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	tuning := &config.Tuning{}
	if *tuningFile != "" {
		tuning, err = config.Load(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning file: %v", err)
		}
	}
	baud := seatlink.DefaultBaudRate
	if tuning.SerialBaudRate != nil {
		baud = *tuning.SerialBaudRate
	}
	if *baudRate > 0 {
		baud = *baudRate
	}

	clock := timeutil.RealClock{}
	engine := posture.LoadEnsembleWeighted(*modelDir, tuning.ModelWeights)
	stats := posture.NewPredictionStats(clock)
	ingest := ws.NewServer(engine, database, stats, clock)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// periodic throughput log line
	if *statsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.Report(ctx, *statsInterval)
		}()
	}

	// optional local seat: real serial port, or a fixture replay in dev mode
	if *serialPort != "" || *devFixtures != "" {
		var port seatlink.Porter
		if *devFixtures != "" {
			data, err := os.ReadFile(*devFixtures)
			if err != nil {
				log.Fatalf("failed to read fixture file: %v", err)
			}
			log.Printf("dev mode: replaying %s", *devFixtures)
			port = seatlink.NewMockPort(data, time.Second)
		} else {
			port, err = seatlink.OpenPort(*serialPort, baud)
			if err != nil {
				log.Fatalf("failed to open serial port: %v", err)
			}
		}
		reader := seatlink.NewReader(port, engine, database, *deviceID, clock)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reader.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("seatlink monitor failed: %v", err)
			}
			log.Print("seatlink routine terminated")
		}()
	}

	// HTTP server goroutine: websocket ingest plus the stats API
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		mux.Handle("/ws", ingest)
		mux.Handle("/", api.NewServer(database, ingest, stats, clock).ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ingest.Shutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
