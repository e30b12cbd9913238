package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kdyer/vaultrelay/internal/audit"
	"github.com/kdyer/vaultrelay/internal/backend"
	"github.com/kdyer/vaultrelay/internal/config"
	"github.com/kdyer/vaultrelay/internal/continuation"
	"github.com/kdyer/vaultrelay/internal/invoker"
	"github.com/kdyer/vaultrelay/internal/lockreg"
	"github.com/kdyer/vaultrelay/internal/logging"
	"github.com/kdyer/vaultrelay/internal/notify"
	"github.com/kdyer/vaultrelay/internal/queue"
	"github.com/kdyer/vaultrelay/internal/scheduler"
	"github.com/kdyer/vaultrelay/internal/tokenstate"
)

// loadConfig reads the config file named by --config (or the built-in
// defaults if the flag is empty or the file is absent).
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// buildLogger constructs the zap logger for the given config.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogJSON)
}

// buildInvokers constructs one Invoker per configured backend, dispatching
// on the backend's kind rather than its InvokerPath so a misconfigured
// invoker field can't silently pick the wrong adapter.
func buildInvokers(cfg *config.Config, log *zap.Logger) (map[string]invoker.Invoker, error) {
	invokers := make(map[string]invoker.Invoker, len(cfg.Backends))
	for _, b := range cfg.Backends {
		switch b.Kind {
		case config.BackendHosted:
			invokers[b.Name] = invoker.NewHostedInvoker(b.Name, b.Command, b.Flags, cfg.StateDir, log)
		case config.BackendLocal:
			invokers[b.Name] = invoker.NewLocalInvoker(b.Name, b.Command, b.Flags, cfg.StateDir, log)
		default:
			return nil, fmt.Errorf("backend %s: unknown kind %q", b.Name, b.Kind)
		}
	}
	return invokers, nil
}

// buildSchedulerDeps assembles every dependency the Scheduler needs from
// the resolved config and logger.
func buildSchedulerDeps(cfg *config.Config, log *zap.Logger) (scheduler.Deps, error) {
	backends := make([]backend.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends = append(backends, backend.Backend{
			Name:        b.Name,
			Kind:        backend.Kind(b.Kind),
			Command:     b.Command,
			MaxParallel: b.MaxParallel,
			InvokerPath: b.InvokerPath,
			Model:       b.Model,
			Flags:       b.Flags,
			Endpoint:    b.Endpoint,
		})
	}

	locks := lockreg.New(cfg.StateDir)
	tokens := tokenstate.New(cfg.StateDir)
	if err := tokens.Init(); err != nil {
		return scheduler.Deps{}, fmt.Errorf("initializing token state: %w", err)
	}

	invokers, err := buildInvokers(cfg, log)
	if err != nil {
		return scheduler.Deps{}, err
	}

	return scheduler.Deps{
		Config:        cfg,
		Events:        queue.New(cfg.StateDir),
		Backends:      backend.New(backends, cfg.StateDir, locks, tokens),
		Locks:         locks,
		Tokens:        tokens,
		Journal:       audit.New(cfg.StateDir),
		Continuations: continuation.New(cfg.StateDir),
		Invokers:      invokers,
		Notifier:      notify.New(cfg.NotifyCommand),
		Logger:        log,
	}, nil
}
