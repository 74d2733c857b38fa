package api

import (
	"os"
	"strings"

	"poshub/internal/auth"
	"poshub/internal/config"
	"poshub/internal/metrics"
	"poshub/internal/store"
	"poshub/internal/webhooks"
)

type Server struct {
	Store      store.Store
	Dispatcher *webhooks.Dispatcher
	Auth       *auth.Verifier
	Broker     EventBroker
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	// Broker selection
	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	d := webhooks.NewDispatcher(s, metrics.NewSink(), cfg)
	d.Events = brokerPublisher{b: broker}
	return &Server{Store: s, Dispatcher: d, Auth: auth.NewVerifierFromEnv(), Broker: broker}, nil
}
