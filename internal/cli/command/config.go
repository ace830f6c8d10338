package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/authpersist/internal/cli/output"
	"github.com/yndnr/authpersist/internal/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the merged configuration with secrets masked",
				Action: configShow,
			},
			{
				Name:   "validate",
				Usage:  "Validate the merged configuration, including the app section",
				Action: configValidate,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	// Nested sections do not fit two columns; tables fall back to YAML.
	format := env.Output
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.NewFormatter(format, env.Wide).Format(c.App.Writer, config.Sanitize(env.Config))
}

func configValidate(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	if err := config.Verify(env.Config); err != nil {
		return err
	}
	source := env.Loader.FilePath()
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintf(c.App.Writer, "Configuration valid (%s)\n", source)
	return nil
}
