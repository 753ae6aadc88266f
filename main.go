package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/callrelay/internal/config"
	"github.com/xiaot623/gogo/callrelay/internal/hub"
	internalhttp "github.com/xiaot623/gogo/callrelay/internal/http"
	"github.com/xiaot623/gogo/callrelay/internal/metrics"
	"github.com/xiaot623/gogo/callrelay/internal/policy"
	store "github.com/xiaot623/gogo/callrelay/internal/repository"
	"github.com/xiaot623/gogo/callrelay/internal/transport/rpc"
	"github.com/xiaot623/gogo/callrelay/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := cfg.NewLogger()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting call relay...")
	log.Printf("Public Port: %d", cfg.Port)
	log.Printf("Internal Port: %d", cfg.InternalPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	if cfg.IsMock() {
		log.Printf("Model: mock")
	} else {
		log.Printf("Model URL: %s", cfg.RealtimeURL)
	}

	// Load call script
	script := config.DefaultScript()
	if cfg.ScriptPath != "" {
		var err error
		if script, err = config.LoadScript(cfg.ScriptPath); err != nil {
			log.Fatalf("Failed to load script: %v", err)
		}
	}
	log.Printf("Script: model=%s voice=%s tools=%d", script.Model, script.Voice, len(script.Tools))

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyPath)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Recorders: SQLite always, JSON export when OUTCOME_DIR is set
	prices := store.Prices{InputPerMTok: cfg.PriceInputPerMTok, OutputPerMTok: cfg.PriceOutputPerMTok}
	recorders := store.Fanout{store.NewStoreRecorder(db, prices)}
	if cfg.OutcomeDir != "" {
		recorders = append(recorders, store.NewFileExporter(cfg.OutcomeDir, prices))
		log.Printf("Exporting call summaries to %s", cfg.OutcomeDir)
	}

	relayMetrics := metrics.New("")
	liveCalls := hub.NewHub()

	// Calls are children of rootCtx so shutdown ends them and flushes their summaries
	rootCtx, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()

	wsServer := ws.NewServer(rootCtx, cfg, liveCalls, ws.Options{
		Script:   script,
		Policy:   policyEngine,
		Recorder: recorders,
		Metrics:  relayMetrics,
		Logger:   log,
	})
	publicServer := internalhttp.NewPublicServer(cfg, script, wsServer.HandleMediaStream)
	internalServer := internalhttp.NewServer(liveCalls, db, relayMetrics, log)

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		if rpcServer, err = rpc.NewServer(liveCalls, db, log); err != nil {
			log.Fatalf("Failed to initialize RPC server: %v", err)
		}
	}

	// Start public server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := publicServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start public server: %v", err)
		}
	}()

	// Start internal server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		if err := internalServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start internal server: %v", err)
		}
	}()

	if rpcServer != nil {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			if err := rpcServer.Start(addr); err != nil {
				log.Fatalf("Failed to start RPC server: %v", err)
			}
		}()
		log.Printf("RPC server started on port %d", cfg.RPCPort)
	}

	log.Printf("Public server started on port %d", cfg.Port)
	log.Printf("Internal server started on port %d", cfg.InternalPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down call relay...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := publicServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown public server gracefully: %v", err)
	}
	cancelCalls()
	if err := wsServer.Wait(shutdownCtx); err != nil {
		log.Printf("Live calls did not finish: %v", err)
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown internal server gracefully: %v", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown RPC server gracefully: %v", err)
		}
	}

	log.Println("Call relay stopped")
}
