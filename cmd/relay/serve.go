package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/relaychat/relay/internal/auth"
	"github.com/relaychat/relay/internal/chat"
	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/session"
	"github.com/relaychat/relay/internal/store"
	"github.com/relaychat/relay/internal/web"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long: `Start the chat server. Configuration comes from the environment:

  SERVER_PORT                 listen address (default :8080)
  DB_PATH                     SQLite database path (default relay.db)
  REDIS_ADDR                  Redis address for the session store; in-memory
                              sessions are used when unset
  SESSION_TTL_HOURS           session lifetime (default 24)
  SECURE_COOKIES              set "true" behind TLS
  ALLOWED_ORIGINS             comma-separated WebSocket origin allow-list
  MAX_MESSAGE_SIZE            WebSocket frame size limit in bytes
  RATE_LIMIT_BURST            events allowed per refill interval
  RATE_LIMIT_REFILL_INTERVAL  refill interval in seconds`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg := config.FromEnv()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()
	log.Printf("Connected to database at %s", cfg.DBPath)

	sessionStore, stopSessions, err := newSessionStore(cfg)
	if err != nil {
		return err
	}
	defer stopSessions()

	sessions := session.NewManager(sessionStore, cfg.SessionTTL, cfg.SecureCookies)
	accounts := auth.NewService(st)

	hub := chat.NewHub(st, cfg)
	go hub.Run()
	log.Println("Hub started and ready to manage WebSocket connections")

	handlers := web.NewHandlers(accounts, sessions, hub, st, cfg)
	server := web.NewServer(cfg.Port, web.Routes(handlers, sessions))

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	}

	if err := web.Shutdown(server, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
	return nil
}

// newSessionStore picks the session backend: Redis when REDIS_ADDR is set,
// otherwise process memory.
func newSessionStore(cfg *config.Config) (session.Store, func(), error) {
	if cfg.RedisAddr == "" {
		mem := session.NewMemoryStore(15 * time.Minute)
		log.Println("Using in-memory session store")
		return mem, mem.Stop, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	log.Printf("Using Redis session store at %s", cfg.RedisAddr)
	return session.NewRedisStore(client), func() {
		if err := client.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}, nil
}
