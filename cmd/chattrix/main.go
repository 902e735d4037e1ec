package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"chattrix/client/internal/api"
	"chattrix/client/internal/auth"
	"chattrix/client/internal/config"
	"chattrix/client/internal/pool"
	"chattrix/client/internal/services"
	"chattrix/client/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %s\n", err)
	}

	identity, err := auth.IdentityFromToken(cfg.Token)
	if err != nil {
		log.Fatalf("Failed to read identity from token: %s\n", err)
	}
	log.Printf("Starting session for %s (id %d)\n", identity.Username, identity.UserID)

	client, err := api.NewClient(cfg.APIBaseURL, cfg.Token)
	if err != nil {
		log.Fatalf("Failed to create API client: %s\n", err)
	}

	registry := pool.NewRegistry(cfg.WSBaseURL, cfg.Token, ws.Config{
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		PingInterval:         cfg.PingInterval,
		PongTimeout:          cfg.PongTimeout,
	})

	clock := clockwork.NewRealClock()
	store := services.NewMessageStore()
	msgSvc := services.NewMessageService(store, client, clock)
	unread := services.NewUnreadService(store, msgSvc, client, identity.UserID, clock)
	chat := services.NewChatService(registry, client, msgSvc, unread)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := chat.InitSession(ctx); err != nil {
		log.Fatalf("Failed to initialize session: %s\n", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	log.Println("Stopping the session...")
	cancel()
	chat.Logout()
	log.Println("Session has been successfully stopped")
}
