package command

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/authpersist/internal/cli/output"
	"github.com/yndnr/authpersist/internal/config"
	"github.com/yndnr/authpersist/internal/infra/buildinfo"
	"github.com/yndnr/authpersist/internal/infra/confloader"
	"github.com/yndnr/authpersist/internal/telemetry/logger"
)

const envKey = "env"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "authpersist",
		Usage:   "Inspect and manage the persisted signed-in user of an application",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			UserCommand(),
			PersistenceCommand(),
			WatchCommand(),
			WorkerCommand(),
			StatusCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: setup,
		After:  teardown,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"AUTHPERSIST_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "api-key",
			Usage: "Application API key (overrides app.api_key)",
		},
		&cli.StringFlag{
			Name:  "app-name",
			Usage: "Application name (overrides app.name)",
		},
		&cli.StringSliceFlag{
			Name:  "hierarchy",
			Usage: "Backend preference order, e.g. --hierarchy local --hierarchy memory",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (overrides log.level)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Shorthand for --log-level debug",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	ConfigFile string
	APIKey     string
	AppName    string
	Hierarchy  []string

	Output string
	Wide   bool

	LogLevel string
	Verbose  bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		ConfigFile: c.String("config"),
		APIKey:     c.String("api-key"),
		AppName:    c.String("app-name"),
		Hierarchy:  c.StringSlice("hierarchy"),
		Output:     c.String("output"),
		Wide:       c.Bool("wide"),
		LogLevel:   c.String("log-level"),
		Verbose:    c.Bool("verbose"),
	}
}

// overrides maps set flags onto configuration keys. Only flags the user
// gave are included so they do not mask file or environment values.
func (f *GlobalFlags) overrides() map[string]any {
	app := map[string]any{}
	if f.APIKey != "" {
		app["api_key"] = f.APIKey
	}
	if f.AppName != "" {
		app["name"] = f.AppName
	}

	log := map[string]any{}
	if f.LogLevel != "" {
		log["level"] = f.LogLevel
	}
	if f.Verbose {
		log["level"] = "debug"
	}

	out := map[string]any{}
	if len(app) > 0 {
		out["app"] = app
	}
	if len(log) > 0 {
		out["log"] = log
	}
	if len(f.Hierarchy) > 0 {
		out["persistence"] = map[string]any{"hierarchy": f.Hierarchy}
	}
	return out
}

// loadConfig layers the file, the environment and the flags over the
// defaults and verifies the result.
func loadConfig(flags *GlobalFlags) (*config.ClientConfig, *confloader.Loader, error) {
	loader := confloader.NewLoader(confloader.WithConfigFile(flags.ConfigFile))
	if err := loader.LoadFile(flags.ConfigFile); err != nil {
		return nil, nil, err
	}
	if err := loader.LoadEnv(); err != nil {
		return nil, nil, err
	}
	if err := loader.LoadMap(flags.overrides()); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(loader)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.VerifyRuntime(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

func setup(c *cli.Context) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}

	cfg, loader, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	env := NewEnv(cfg, loader, log)
	env.Output = format
	env.Wide = flags.Wide

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[envKey] = env
	return nil
}

func teardown(c *cli.Context) error {
	env, ok := c.App.Metadata[envKey].(*Env)
	if !ok {
		return nil
	}
	delete(c.App.Metadata, envKey)
	return env.Close()
}

// GetEnv retrieves the Env set up before the command ran.
func GetEnv(c *cli.Context) (*Env, error) {
	if env, ok := c.App.Metadata[envKey].(*Env); ok {
		return env, nil
	}
	return nil, errors.New("command environment not initialized")
}

// render writes data to the app's writer in the selected format.
func render(c *cli.Context, env *Env, data any) error {
	return output.NewFormatter(env.Output, env.Wide).Format(c.App.Writer, data)
}

// PrintError prints an error message to stderr.
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
