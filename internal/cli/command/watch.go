package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/authpersist/internal/cli/output"
	"github.com/yndnr/authpersist/internal/config"
	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/infra/confloader"
	"github.com/yndnr/authpersist/internal/infra/shutdown"
	"github.com/yndnr/authpersist/internal/server/httpserver"
	"github.com/yndnr/authpersist/internal/telemetry/logger"
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print a line each time the signed-in user changes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (overrides metrics.addr)",
			},
			&cli.DurationFlag{
				Name:  "for",
				Usage: "Stop after this long (default: until interrupted)",
			},
		},
		Action: watchRun,
	}
}

// userEvent is one line of watch output.
type userEvent struct {
	Time    string `json:"time"`
	Event   string `json:"event"`
	UID     string `json:"uid,omitempty"`
	Backend string `json:"backend"`
}

func watchRun(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	state, err := env.AuthState(c.Context)
	if err != nil {
		return err
	}

	handler := shutdown.NewHandler(shutdown.DefaultTimeout, env.slog())

	var mu sync.Mutex
	emit := func(u *domain.UserRecord) {
		ev := userEvent{
			Time:    time.Now().Format(time.RFC3339),
			Event:   "signed_out",
			Backend: state.Persistence().String(),
		}
		if u != nil {
			ev.Event = "signed_in"
			ev.UID = u.UID
		}
		mu.Lock()
		defer mu.Unlock()
		if env.Output == output.FormatTable {
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n", ev.Time, ev.Event, ev.UID, ev.Backend)
			return
		}
		if err := render(c, env, ev); err != nil {
			env.Logger.Warn("write event", "error", err)
		}
	}
	emit(state.CurrentUser())

	unsubscribe := state.Subscribe(emit)
	handler.OnShutdown("observer", func(context.Context) error {
		unsubscribe()
		return nil
	})

	addr := env.Config.Metrics.Addr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	if addr != "" {
		srv, err := serveMetrics(env, addr)
		if err != nil {
			handler.Shutdown()
			return err
		}
		handler.OnShutdown("metrics", srv.Shutdown)
	}

	if path := env.Loader.FilePath(); path != "" {
		w, err := watchConfigFile(env, path)
		if err != nil {
			env.Logger.Warn("config reload disabled", "error", err)
		} else {
			handler.OnShutdown("config watcher", func(context.Context) error { return w.Stop() })
		}
	}

	ctx := c.Context
	if d := c.Duration("for"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	env.Logger.Info("watching current user", "backend", state.Persistence().String())
	return handler.Wait(ctx)
}

func serveMetrics(env *Env, addr string) (*httpserver.Server, error) {
	srv := httpserver.New(addr, httpserver.NewRouter(&httpserver.RouterConfig{
		Metrics: env.Metrics.Handler(),
		Logger:  env.slog(),
	}), env.slog())
	if err := srv.Start(); err != nil {
		return nil, err
	}
	env.Logger.Info("serving metrics", "addr", srv.Addr())
	return srv, nil
}

// watchConfigFile re-applies the log level whenever the config file is
// edited. Other settings need a restart.
func watchConfigFile(env *Env, path string) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(env.slog()))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := reloadConfig(path)
		if err != nil {
			env.Logger.Warn("ignoring config change", "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			env.Logger.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	w.StartAsync()
	return w, nil
}

func reloadConfig(path string) (*config.ClientConfig, error) {
	loader := confloader.NewLoader(confloader.WithConfigFile(path))
	if err := loader.LoadFile(path); err != nil {
		return nil, err
	}
	if err := loader.LoadEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(loader)
	if err != nil {
		return nil, err
	}
	if err := config.VerifyRuntime(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
