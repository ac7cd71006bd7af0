// Command appserver runs the HTTP app server: user auth, GraphQL queries
// and mutations, and the GraphQL subscription side channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scalableinternetservicesarchive/tindawg/config"
	"github.com/scalableinternetservicesarchive/tindawg/gateway"
	"github.com/scalableinternetservicesarchive/tindawg/graphqlapi"
	"github.com/scalableinternetservicesarchive/tindawg/pubsub"
	"github.com/scalableinternetservicesarchive/tindawg/session"
	"github.com/scalableinternetservicesarchive/tindawg/session/memorystore"
	"github.com/scalableinternetservicesarchive/tindawg/session/redisstore"
	"github.com/scalableinternetservicesarchive/tindawg/subscriptions"
	"github.com/scalableinternetservicesarchive/tindawg/users"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))

	sessions, err := newSessionStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	userStore := users.NewMemoryStore()
	broker := pubsub.New()

	schema, err := graphqlapi.NewSchema(userStore, broker)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	engine := graphqlapi.NewEngine(schema, graphqlapi.WithLogger(log))

	subs := subscriptions.NewManager(subscriptions.NewRegistry(), engine, subscriptions.WithLogger(log))

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithCookieSecure(cfg.CookieSecure),
	}
	if cfg.SessionTTL > 0 {
		opts = append(opts, gateway.WithSessionTTL(cfg.SessionTTL))
	}
	handler := gateway.New(sessions, userStore, engine, subs, opts...)

	log.Info("appserver.listen", slog.String("addr", cfg.ListenAddr))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// newSessionStore selects Redis when an address is configured, falling back
// to the in-process store otherwise. Redis must be reachable at startup.
func newSessionStore(ctx context.Context, cfg config.Config, log *slog.Logger) (session.Store, error) {
	if cfg.RedisAddr == "" {
		log.Info("session.store.memory")
		return memorystore.New(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %q: %w", cfg.RedisAddr, err)
	}

	store, err := redisstore.New(redisstore.Config{Client: client})
	if err != nil {
		return nil, fmt.Errorf("init redis session store: %w", err)
	}
	log.Info("session.store.redis", slog.String("addr", cfg.RedisAddr))
	return store, nil
}
