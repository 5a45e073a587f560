package main

import (
	"context"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/adresearch/adtrial/internal/api"
	"github.com/adresearch/adtrial/internal/config"
	"github.com/adresearch/adtrial/internal/experiment"
	"github.com/adresearch/adtrial/internal/middleware"
	"github.com/adresearch/adtrial/internal/player"
	"github.com/adresearch/adtrial/internal/questionbank"
	"github.com/adresearch/adtrial/internal/research"
	"github.com/adresearch/adtrial/internal/sink"
)

func main() {
	cfg := config.Load()

	arms := experiment.DefaultArms()
	if cfg.ArmsFile != "" {
		loaded, err := experiment.LoadArmsFile(cfg.ArmsFile)
		if err != nil {
			log.Fatalf("load arms file %s: %v", cfg.ArmsFile, err)
		}
		arms = loaded
	}

	bank := questionbank.New()
	if cfg.QuestionBankSrc != "" {
		bank.LoadAsync(cfg.QuestionBankSrc)
	}

	submissionSink, lister, closeSink := buildSink(cfg)
	defer closeSink()

	provider := player.NewRemoteProvider()

	registry := api.NewRegistry(func() (*experiment.Session, error) {
		return experiment.NewSession(experiment.SessionConfig{
			Arms:         arms,
			Questions:    bank,
			Sink:         submissionSink,
			Provider:     provider,
			ReadyTimeout: cfg.PlayerReadyTimeout,
		})
	})
	stop := make(chan struct{})
	defer close(stop)
	api.StartSweeper(registry, cfg.SessionTTL, 10*time.Minute, stop)

	auth := middleware.NewTokenAuth(cfg.JWTSecret)
	operators := research.NewOperatorService(cfg.OperatorPassHash, auth.SignToken)
	if !operators.Enabled() {
		log.Printf("operator access disabled: ADTRIAL_OPERATOR_PASS_HASH not set")
	}

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		Provider:    provider,
		Operators:   operators,
		Lister:      lister,
		Auth:        auth,
		CORSOrigins: cfg.CORSOrigins,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", router.Handler())
	mux.Handle("/health", router.Handler())

	// Frontend serving strategy (priority):
	// 1) Static files if ADTRIAL_STATIC_DIR is set (fullstack image)
	// 2) Dev proxy if ADTRIAL_DEV_FRONTEND_URL is set
	if staticDir := os.Getenv("ADTRIAL_STATIC_DIR"); staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	} else if devURL := os.Getenv("ADTRIAL_DEV_FRONTEND_URL"); devURL != "" {
		if u, err := url.Parse(devURL); err == nil {
			mux.Handle("/", httputil.NewSingleHostReverseProxy(u))
		} else {
			log.Printf("invalid ADTRIAL_DEV_FRONTEND_URL=%q: %v", devURL, err)
		}
	}

	log.Printf("adtrial server listening on %s (sink=%s, arms=%d)", cfg.Addr, cfg.SinkDriver, len(arms))
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func buildSink(cfg *config.Config) (experiment.SubmissionSink, sink.Lister, func()) {
	switch cfg.SinkDriver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := sink.NewPostgresSink(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres sink: %v", err)
		}
		return pg, pg, pg.Close
	case "memory":
		m := sink.NewMemorySink()
		return m, m, func() {}
	case "sqlite":
		s, err := sink.NewSQLiteSink(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite sink: %v", err)
		}
		return s, s, func() { _ = s.Close() }
	default:
		log.Fatalf("unknown sink driver %q", cfg.SinkDriver)
		return nil, nil, nil
	}
}
