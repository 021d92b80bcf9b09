// Package main implements the nwwatch collector that gathers command
// output and reachability data from a fleet of network devices.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"nwwatch/internal/config"
	"nwwatch/internal/conn"
	"nwwatch/internal/control"
	"nwwatch/internal/engine"
	"nwwatch/internal/ping"
	"nwwatch/internal/session"
	"nwwatch/internal/snapshot"
	"nwwatch/internal/store"
)

const (
	// Log rotation settings for -logfile.
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28

	dataDirPerm = 0o750
)

var (
	configPath = flag.String("config", "", "Path to config YAML file (required)")
	dataDir    = flag.String("data-dir", "data", "Directory for session and snapshot databases")
	controlDir = flag.String("control-dir", "control", "Directory for the control-state file")
	logFile    = flag.String("logfile", "", "Log to a rotating file instead of stderr")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *configPath == "" {
		log.Fatal("Config file is required (use -config flag)")
	}

	if *logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] Invalid configuration: %v", err)
	}
	if err := cfg.Check(); err != nil {
		log.Fatalf("[ERROR] Unusable configuration: %v", err)
	}

	if err := os.MkdirAll(*dataDir, dataDirPerm); err != nil {
		log.Fatalf("[ERROR] Failed to create data directory: %v", err)
	}

	sessionPath := filepath.Join(*dataDir, fmt.Sprintf("session_%d.sqlite3", time.Now().Unix()))
	currentPath := filepath.Join(*dataDir, "current.sqlite3")

	st, err := store.Open(sessionPath, cfg.HistorySize)
	if err != nil {
		log.Fatalf("[ERROR] Failed to open session database: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] Error closing session database: %v", err)
		}
	}()
	log.Printf("[INFO] Created session database: %s", sessionPath)

	publisher := snapshot.New(st, currentPath)

	manager := conn.NewManager(cfg.Devices, session.NewSSHDialer(), cfg.DevicePassword, conn.Options{
		ConnectTimeout:       cfg.ConnectTimeout(),
		MaxReconnectAttempts: cfg.SSH.MaxReconnectAttempts,
		BackoffBase:          cfg.BackoffBase(),
		Persistent:           cfg.PersistentConnections(),
	})
	if cfg.PersistentConnections() {
		log.Print("[INFO] Persistent connections enabled")
	}

	eng, err := engine.New(cfg, st, manager, ping.New(), publisher,
		control.Path(*controlDir), *debug)
	if err != nil {
		log.Fatalf("[ERROR] Failed to initialize engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("[INFO] Received %v, finishing current operations...", sig)
		cancel()
	}()

	log.Printf("[INFO] Collector started: snapshot=%s control=%s", currentPath, control.Path(*controlDir))

	if err := eng.Run(ctx); err != nil {
		log.Printf("[ERROR] Collector error: %v", err)
	}
}
