// Command embeddbserver runs the EmbedDB engine behind a Gin HTTP API,
// the way the retrieval pack's ppriyankuu-godkv/cmd/server runs its store
// behind one: flag-configured, graceful shutdown on SIGINT/SIGTERM, a
// background checkpoint ticker standing in for that server's periodic
// snapshot goroutine.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/embeddb/embeddb/internal/httpapi"
	"github.com/embeddb/embeddb/pkg/engine"
	"github.com/embeddb/embeddb/pkg/hashembed"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address (host:port)")
	dataDir := flag.String("data-dir", "./data", "engine data directory")
	checkpointEvery := flag.Duration("checkpoint-interval", 60*time.Second, "background checkpoint period, 0 disables")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	e, err := engine.Open(engine.NewConfig(*dataDir))
	if err != nil {
		log.Fatal().Err(err).Msg("open engine")
	}
	defer e.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := httpapi.NewHandler(e, hashembed.New())
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *addr).Str("data_dir", *dataDir).Msg("embeddbserver listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	var stopCheckpoints chan struct{}
	if *checkpointEvery > 0 {
		stopCheckpoints = make(chan struct{})
		go runCheckpointLoop(e, *checkpointEvery, stopCheckpoints)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down embeddbserver")
	if stopCheckpoints != nil {
		close(stopCheckpoints)
	}

	if _, err := e.Checkpoint(); err != nil {
		log.Error().Err(err).Msg("final checkpoint failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

func runCheckpointLoop(e *engine.Engine, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := e.Checkpoint(); err != nil {
				log.Error().Err(err).Msg("background checkpoint failed")
			} else {
				log.Debug().Msg("background checkpoint complete")
			}
		case <-stop:
			return
		}
	}
}
