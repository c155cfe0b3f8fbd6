// Command gateway is the demo REST front end over the wasession core,
// adapted from the teacher's cmd/server/main.go: load config, bring up the
// session manager, load any persisted credentials, serve the Fiber app,
// shut down cleanly on signal.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/duskrelay/wasession/internal/app"
	"github.com/duskrelay/wasession/internal/app/gateway"
	"github.com/duskrelay/wasession/internal/app/qr"
	"github.com/duskrelay/wasession/internal/app/webhook"
	"github.com/duskrelay/wasession/internal/config"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("initialize logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Info("wasession gateway starting")

	port := os.Getenv("PORT")
	if port == "" {
		port = "3200"
	}
	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		apiKey = "dev-api-key"
	}
	dataDir := os.Getenv("SESSION_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data/sessions"
	}
	endpoint := os.Getenv("GATEWAY_WS_URL")
	origin := os.Getenv("GATEWAY_ORIGIN")

	var opts []config.Option
	if endpoint != "" && origin != "" {
		opts = append(opts, config.WithEndpoint(endpoint, origin))
	}
	cfg, err := config.New(opts...)
	if err != nil {
		sugar.Fatalf("invalid configuration: %v", err)
	}

	dispatcher := webhook.NewDispatcher(sugar)

	manager, err := app.NewManager(cfg, sugar, dataDir, dispatcher)
	if err != nil {
		sugar.Fatalf("create session manager: %v", err)
	}
	if err := manager.LoadPersisted(context.Background()); err != nil {
		sugar.Warnf("load persisted sessions: %v", err)
	}

	server := gateway.NewServer(gateway.Config{
		Port:       port,
		APIKey:     apiKey,
		Logger:     sugar,
		Manager:    manager,
		Dispatcher: dispatcher,
		QR:         qr.NewGenerator(256),
	})

	go func() {
		if err := server.Start(); err != nil {
			sugar.Fatalf("gateway server failed: %v", err)
		}
	}()
	sugar.Infof("wasession gateway listening on :%s", port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down")
	manager.DisconnectAll()
	server.Stop()
}
