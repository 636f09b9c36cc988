package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/chatcore/internal/api"
	"github.com/comigor/chatcore/internal/command"
	"github.com/comigor/chatcore/internal/config"
	"github.com/comigor/chatcore/internal/eventbus"
	"github.com/comigor/chatcore/internal/llm"
	"github.com/comigor/chatcore/internal/logger"
	"github.com/comigor/chatcore/internal/processor"
	"github.com/comigor/chatcore/internal/service"
	"github.com/comigor/chatcore/internal/store"
)

func main() {
	if err := run(); err != nil {
		logger.L.Error("chatcore stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)
	log := logger.L

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer st.Close()

	bus := eventbus.New(eventbus.WithLogger(log))
	selector := llm.NewSelector(llm.ModelOptions(cfg.LLM), cfg.LLM.Model, st)

	proc, err := processor.New(st,
		processor.WithLLM(llm.NewClient(cfg.LLM)),
		processor.WithModels(selector),
		processor.WithPublisher(bus),
		processor.WithSystemPrompt(cfg.LLM.SystemPrompt),
		processor.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer proc.Close()

	svc, err := service.New(proc, bus,
		service.WithMaxHistory(cfg.Core.ServiceHistorySize),
		service.WithLogger(log),
	)
	if err != nil {
		return err
	}

	// finished completions leave the processing set
	svc.SettleOnFinished()
	bus.Subscribe("message.*", func(e eventbus.Event) {
		log.Debug("event", "topic", e.Topic, "id", e.ID)
	})

	mgr := command.NewManager(
		command.WithHistorySize(cfg.Core.HistorySize),
		command.WithQueueSize(cfg.Core.QueueSize),
		command.WithLogger(log),
	)

	handler := api.New(api.Deps{
		Service:   svc,
		Manager:   mgr,
		Processor: proc,
		Models:    selector,
		Messages:  st,
		Rooms:     st,
		Events:    bus,
		Logger:    log,
	})

	// Start server
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := api.NewHTTPServer(serverAddr, handler)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "address", serverAddr, "provider", cfg.LLM.Provider, "model", selector.GetCurrentModel())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err, "in_flight", proc.InFlight())
	}
	return nil
}
