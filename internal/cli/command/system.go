package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/infra/buildinfo"
	"github.com/yndnr/authpersist/internal/storage"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Probe every backend of the hierarchy",
		Action: systemStatus,
	}
}

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show build information",
		Action: systemVersion,
	}
}

type backendStatus struct {
	Name      string      `json:"name"`
	Kind      domain.Kind `json:"kind"`
	ID        string      `json:"id" table:"wide"`
	Available bool        `json:"available"`
	Watched   int         `json:"watched_keys" table:"wide"`
	Keys      int         `json:"keys,omitempty" table:"wide"`
	Latency   string      `json:"latency"`
}

// watchedKeys is implemented by backends that report their listeners.
type watchedKeys interface {
	WatchedKeys() int
}

// kvStats is implemented by backends over an embedded database.
type kvStats interface {
	Stats(ctx context.Context) (storage.KVStats, error)
}

func systemStatus(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}

	var rows []backendStatus
	for _, name := range env.Config.Persistence.Hierarchy {
		b, err := env.Backend(c.Context, name)
		if err != nil {
			return err
		}
		p := b.Persistence()
		row := backendStatus{Name: name, Kind: p.Kind, ID: p.ID}

		ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
		start := time.Now()
		row.Available = b.IsAvailable(ctx)
		row.Latency = time.Since(start).Round(time.Microsecond).String()
		if s, ok := b.(kvStats); ok && row.Available {
			if stats, err := s.Stats(ctx); err == nil {
				row.Keys = stats.Keys
			}
		}
		cancel()

		if w, ok := b.(watchedKeys); ok {
			row.Watched = w.WatchedKeys()
		}
		rows = append(rows, row)
	}
	return render(c, env, rows)
}

func systemVersion(c *cli.Context) error {
	info := buildinfo.Get()
	env, err := GetEnv(c)
	if err != nil {
		fmt.Fprintln(c.App.Writer, info.String())
		return nil
	}
	return render(c, env, info)
}
