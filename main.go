package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mediarelay/api"
	"mediarelay/config"
	"mediarelay/handlers"
	"mediarelay/services/extract"
	"mediarelay/services/probe"
	"mediarelay/services/relay"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("mediarelay starting...")

	configPath := os.Getenv("MEDIARELAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	fetcher := relay.NewFetcher(time.Duration(settings.Relay.TimeoutSeconds)*time.Second, settings.Relay.UserAgent)
	relayClient := relay.NewClient(fetcher, settings.Relay.MaxRedirects)

	probeService := probe.NewService(settings.Tools.FFprobePath,
		time.Duration(settings.Tools.ProbeTimeoutSeconds)*time.Second, relayClient)
	extractService := extract.NewService(settings.Tools.FFmpegPath, settings.Tools.TempDirectory,
		time.Duration(settings.Tools.ExtractTimeoutSeconds)*time.Second)

	r := mux.NewRouter()
	api.Register(r,
		handlers.NewRelayHandler(relayClient),
		handlers.NewSubtitleHandler(relayClient),
		handlers.NewAnalyzeHandler(probeService),
		handlers.NewExtractHandler(extractService),
	)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for streaming
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
