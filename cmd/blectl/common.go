package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/backend"
	"github.com/srg/blecentral/backend/goble"
	"github.com/srg/blecentral/central"
	"github.com/srg/blecentral/config"
	"github.com/srg/blecentral/uuid"
)

// newLogger builds a *logrus.Logger from the --log-level flag, following
// config.Config.NewLogger's formatter (RFC3339, text).
func newLogger() (*logrus.Logger, error) {
	cfg := config.DefaultConfig()
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	cfg.LogLevel = lvl
	return cfg.NewLogger(), nil
}

// newCoordinator builds a Central Coordinator backed by the goble
// adapter, the only concrete backend.Backend this CLI wires (spec §6's
// abstract backend is otherwise exercised only by backend/mock in
// tests).
func newCoordinator(logger *logrus.Logger) *central.Coordinator {
	factory := func(logger *logrus.Logger) (backend.Backend, error) {
		return goble.New(logger)
	}
	return central.New(factory, logger)
}

func mustParseUUID(s string) (uuid.BTUUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.BTUUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// notifyInterrupt returns a channel closed on SIGINT/SIGTERM, for
// commands that run until interrupted (scan, subscribe).
func notifyInterrupt() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
