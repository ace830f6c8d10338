package command

import (
	"context"
	"fmt"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/authpersist/internal/config"
	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/infra/shutdown"
	"github.com/yndnr/authpersist/internal/messaging"
	"github.com/yndnr/authpersist/internal/messaging/wsport"
	"github.com/yndnr/authpersist/internal/server/httpserver"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/internal/storage/indexed"
)

// WorkerCommand returns the worker subcommand group.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run or probe the indexed-store worker",
		Subcommands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Own the indexed store and answer pages over WebSocket",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "Listen address (overrides messaging.listen_addr)",
					},
					&cli.DurationFlag{
						Name:  "for",
						Usage: "Stop after this long (default: until interrupted)",
					},
				},
				Action: workerServe,
			},
			{
				Name:   "ping",
				Usage:  "Ask a running worker which events it handles",
				Flags:  []cli.Flag{workerURLFlag()},
				Action: workerPing,
			},
			{
				Name:      "notify",
				Usage:     "Tell a running worker that a key changed",
				ArgsUsage: "[KEY]",
				Flags:     []cli.Flag{workerURLFlag()},
				Action:    workerNotify,
			},
		},
	}
}

func workerURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "url",
		Usage: "Worker URL (default: messaging.worker_url, else derived from messaging.listen_addr)",
	}
}

func workerServe(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	cfg := env.Config
	handler := shutdown.NewHandler(shutdown.DefaultTimeout, env.slog())

	badger := storage.DefaultBadgerConfig()
	badger.GCInterval = cfg.Persistence.Indexed.GCInterval
	badger.SyncWrites = cfg.Persistence.Indexed.SyncWrites
	kv := storage.DefaultKVConfig(cfg.Persistence.Indexed.Dir)
	kv.Badger = badger

	db, err := indexed.OpenDB(kv, env.slog())
	if err != nil {
		return err
	}
	handler.OnShutdown("database", func(context.Context) error { return db.Close() })

	store, err := indexed.New(indexed.Options{
		DB:           db,
		ID:           "worker",
		Mode:         indexed.ModeWorker,
		PollInterval: cfg.Persistence.Indexed.PollInterval,
		Logger:       env.slog(),
		Metrics:      env.Metrics,
	})
	if err != nil {
		db.Close()
		return err
	}
	handler.OnShutdown("store", func(context.Context) error { return store.Close() })
	if err := store.Ready(c.Context); err != nil {
		handler.Shutdown()
		return err
	}
	env.Metrics.Watch(store)

	if config.VerifyApp(&cfg.App) == nil {
		key := domain.FullKey(domain.KeyAuthUser, cfg.App.APIKey, cfg.App.Name)
		off := store.AddListener(key, func(v storage.Value) {
			env.Logger.Info("current user changed", "app", cfg.App.Name, "signed_in", v != nil)
		})
		handler.OnShutdown("listener", func(context.Context) error {
			off()
			return nil
		})
	}

	var (
		pagesMu sync.Mutex
		pages   = make(map[*wsport.Conn]struct{})
	)
	accept := func(conn *wsport.Conn) {
		detach := store.AttachWorker(conn)
		pagesMu.Lock()
		pages[conn] = struct{}{}
		n := len(pages)
		pagesMu.Unlock()
		env.Logger.Info("page connected", "pages", n)

		go func() {
			<-conn.Done()
			detach()
			pagesMu.Lock()
			delete(pages, conn)
			n := len(pages)
			pagesMu.Unlock()
			env.Logger.Info("page disconnected", "pages", n)
		}()
	}
	handler.OnShutdown("pages", func(context.Context) error {
		pagesMu.Lock()
		defer pagesMu.Unlock()
		for conn := range pages {
			conn.Close()
		}
		return nil
	})

	addr := cfg.Messaging.ListenAddr
	if c.IsSet("listen") {
		addr = c.String("listen")
	}
	srv := httpserver.New(addr, httpserver.NewRouter(&httpserver.RouterConfig{
		WorkerPath: config.DefaultWorkerPath,
		Worker:     wsport.Handler(accept, env.slog()),
		Metrics:    env.Metrics.Handler(),
		AllowList:  cfg.Messaging.AllowList,
		RateLimit:  cfg.Messaging.RateLimit,
		Logger:     env.slog(),
	}), env.slog())
	if err := srv.Start(); err != nil {
		handler.Shutdown()
		return err
	}
	handler.OnShutdown("http", srv.Shutdown)

	url := "ws://" + srv.Addr() + config.DefaultWorkerPath
	env.Logger.Info("worker listening", "url", url, "dir", db.Dir())
	fmt.Fprintln(c.App.Writer, url)

	ctx := c.Context
	if d := c.Duration("for"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return handler.Wait(ctx)
}

// workerURL picks the --url flag, then messaging.worker_url, then the
// listen address.
func workerURL(c *cli.Context, env *Env) string {
	if u := c.String("url"); u != "" {
		return u
	}
	if u := env.Config.Messaging.WorkerURL; u != "" {
		return u
	}
	return "ws://" + env.Config.Messaging.ListenAddr + config.DefaultWorkerPath
}

// sendToWorker dials the worker and sends one request.
func sendToWorker(c *cli.Context, env *Env, eventType string, data any) ([]messaging.Outcome, error) {
	url := workerURL(c, env)
	ctx, cancel := context.WithTimeout(c.Context, messaging.LongAckTimeout+messaging.CompletionTimeout)
	defer cancel()

	conn, err := wsport.Dial(ctx, url, env.slog())
	if err != nil {
		return nil, domain.ErrConnectionUnavailable.WithDetails(url).WithCause(err)
	}
	defer conn.Close()

	sender := messaging.NewSender(conn,
		messaging.WithSenderLogger(env.slog()),
		messaging.WithSenderMetrics(env.Metrics))
	defer sender.Teardown()
	return sender.Send(ctx, eventType, data, messaging.LongAckTimeout)
}

func workerPing(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	outcomes, err := sendToWorker(c, env, messaging.EventPing, struct{}{})
	if err != nil {
		return err
	}
	return render(c, env, outcomes)
}

func workerNotify(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	key := c.Args().First()
	if key == "" {
		if err := config.VerifyApp(&env.Config.App); err != nil {
			return domain.ErrMissingArgument.WithDetails("KEY, or app.api_key and app.name").WithCause(err)
		}
		key = domain.FullKey(domain.KeyAuthUser, env.Config.App.APIKey, env.Config.App.Name)
	}
	outcomes, err := sendToWorker(c, env, messaging.EventKeyChanged, messaging.KeyChanged{Key: key})
	if err != nil {
		return err
	}
	return render(c, env, outcomes)
}
