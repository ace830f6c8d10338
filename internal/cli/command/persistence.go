package command

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/authpersist/internal/core/domain"
)

// PersistenceCommand returns the persistence subcommand group.
func PersistenceCommand() *cli.Command {
	return &cli.Command{
		Name:    "persistence",
		Aliases: []string{"p"},
		Usage:   "Inspect and change where the current user is kept",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the active backend and the storage keys",
				Action: persistenceShow,
			},
			{
				Name:      "set",
				Usage:     "Move the current user to another backend",
				ArgsUsage: "BACKEND",
				Action:    persistenceSet,
			},
			{
				Name:   "save-redirect",
				Usage:  "Record the active backend kind for the next start",
				Action: persistenceSaveRedirect,
			},
		},
	}
}

type persistenceView struct {
	Kind           domain.Kind `json:"kind"`
	ID             string      `json:"id"`
	Hierarchy      string      `json:"hierarchy"`
	UID            string      `json:"uid,omitempty"`
	UserKey        string      `json:"user_key"`
	PersistenceKey string      `json:"persistence_key"`
}

func persistenceShow(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	state, err := env.AuthState(c.Context)
	if err != nil {
		return err
	}

	m := state.Manager()
	p := m.Persistence()
	view := persistenceView{
		Kind:           p.Kind,
		ID:             p.ID,
		Hierarchy:      strings.Join(env.Config.Persistence.Hierarchy, ","),
		UserKey:        m.UserKey(),
		PersistenceKey: m.PersistenceKey(),
	}
	if u := state.CurrentUser(); u != nil {
		view.UID = u.UID
	}
	return render(c, env, view)
}

func persistenceSet(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return domain.ErrMissingArgument.WithDetails("backend name required")
	}
	name := c.Args().First()

	state, err := env.AuthState(c.Context)
	if err != nil {
		return err
	}
	from := state.Persistence()
	target, err := env.Backend(c.Context, name)
	if err != nil {
		return err
	}
	if err := state.SetPersistence(c.Context, target); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Persistence changed from %s to %s\n", from, state.Persistence())
	return nil
}

func persistenceSaveRedirect(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	state, err := env.AuthState(c.Context)
	if err != nil {
		return err
	}
	if err := state.SavePersistenceForRedirect(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Saved %s for redirect\n", state.Persistence().Kind)
	return nil
}
