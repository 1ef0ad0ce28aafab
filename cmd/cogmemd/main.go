// Command cogmemd runs the layered memory engine behind the coordination
// server's websocket endpoint. Flag/file config loading is out of scope
// (spec.md §1 Non-goals); every knob comes from config.Default(), mutated
// only by the environment variables config.Default's callers are expected
// to read in a real deployment.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"cogmem/internal/config"
	"cogmem/internal/coordination"
	"cogmem/internal/embedder"
	"cogmem/internal/engine"
	"cogmem/internal/feedback"
	"cogmem/internal/layers/episodic"
	"cogmem/internal/layers/factual"
	"cogmem/internal/layers/longterm"
	"cogmem/internal/layers/semantic"
	"cogmem/internal/objectstore"
	"cogmem/internal/observability"
	"cogmem/internal/orchestrator"
	"cogmem/internal/recall"
	"cogmem/internal/telemetry"
	"cogmem/internal/vectorstore"
)

func main() {
	observability.InitLogger("", "info")
	cfg := config.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := telemetry.Setup(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel setup failed, continuing without tracing")
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data dir")
	}

	embedGen, err := embedder.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build embedding generator")
	}
	vstore, err := vectorstore.New(ctx, cfg.Vector, cfg.CollectionName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build vector store")
	}

	factualLayer, err := factual.Open(filepath.Join(cfg.DataDir, "facts.db"), cfg.HashTableSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open factual layer")
	}
	defer factualLayer.Close()

	longTermLayer := longterm.New(vstore, embedGen, cfg.SurpriseThreshold, cfg.DecayHalfLife.Hours()/24, cfg.OfflineMode)
	semanticLayer := semantic.New()
	episodicLayer := episodic.New()
	feedbackTracker := feedback.New()

	var highlighter *recall.Highlighter
	if cfg.Highlight.Enabled {
		remote := recall.NewRemoteHighlighter(cfg.Highlight.BaseURL)
		highlighter = recall.NewHighlighter(remote, embedGen).WithThreshold(cfg.Highlight.Threshold)
	} else {
		highlighter = recall.NewHighlighter(nil, embedGen)
	}

	eng := engine.New(factualLayer, longTermLayer, semanticLayer, episodicLayer, feedbackTracker, highlighter)

	var mirror *orchestrator.EventMirror
	if cfg.Kafka.Enabled {
		mirror = orchestrator.NewEventMirror(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer mirror.Close()
	}

	var resumeStore coordination.ResumeStore
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		resumeStore = coordination.NewRedisResumeStore(rdb, cfg.Redis.TTL)
	}

	coord := coordination.New(cfg.Coord, mirror, resumeStore)
	eng.SetEventSink(coord)
	go coord.Run(ctx)

	var exportStore objectstore.ObjectStore
	if cfg.S3.Enabled {
		store, err := objectstore.NewS3Store(ctx, cfg.S3)
		if err != nil {
			log.Warn().Err(err).Msg("s3 export store unavailable, /export will return the archive inline only")
		} else {
			exportStore = store
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", coord.ServeWS)
	registerHTTPAPI(mux, eng, exportStore, cfg.S3.Prefix)

	addr := ":" + itoa(cfg.Coord.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		coord.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("cogmemd listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
