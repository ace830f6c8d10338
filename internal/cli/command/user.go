package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/authpersist/internal/cli/output"
	"github.com/yndnr/authpersist/internal/core/domain"
)

// UserCommand returns the user subcommand group.
func UserCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Read and write the persisted current user",
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Show the current user",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "show-tokens",
						Usage: "Print tokens instead of masking them",
					},
				},
				Action: userGet,
			},
			{
				Name:    "set",
				Aliases: []string{"sign-in"},
				Usage:   "Store a user as the current user",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Read the record as JSON from a file (- for stdin)",
					},
					&cli.StringFlag{Name: "uid", Usage: "User ID"},
					&cli.StringFlag{Name: "email", Usage: "Email address"},
					&cli.BoolFlag{Name: "email-verified", Usage: "Mark the email as verified"},
					&cli.StringFlag{Name: "display-name", Usage: "Display name"},
					&cli.StringFlag{Name: "photo-url", Usage: "Photo URL"},
					&cli.StringFlag{Name: "phone", Usage: "Phone number"},
					&cli.StringFlag{Name: "tenant", Usage: "Tenant ID"},
					&cli.StringFlag{Name: "provider", Usage: "Sign-in provider ID"},
					&cli.BoolFlag{Name: "anonymous", Usage: "Mark the user as anonymous"},
					&cli.StringFlag{Name: "refresh-token", Usage: "Refresh token"},
					&cli.StringFlag{Name: "access-token", Usage: "Access token"},
					&cli.DurationFlag{
						Name:  "expires-in",
						Value: time.Hour,
						Usage: "Access token lifetime",
					},
				},
				Action: userSet,
			},
			{
				Name:    "remove",
				Aliases: []string{"rm", "sign-out"},
				Usage:   "Remove the current user",
				Action:  userRemove,
			},
		},
	}
}

func userGet(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	state, err := env.AuthState(c.Context)
	if err != nil {
		return err
	}

	user := state.CurrentUser()
	if user == nil {
		if env.Output == output.FormatTable {
			fmt.Fprintln(c.App.Writer, "No user signed in")
			return nil
		}
		return render(c, env, nil)
	}
	if !c.Bool("show-tokens") {
		user.RefreshToken = maskToken(user.RefreshToken)
		user.AccessToken = maskToken(user.AccessToken)
	}
	return render(c, env, user)
}

func userSet(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}

	user, err := userFromFlags(c)
	if err != nil {
		return err
	}
	user.APIKey = env.Config.App.APIKey
	user.AppName = env.Config.App.Name

	state, err := env.AuthState(c.Context)
	if err != nil {
		return err
	}
	if err := state.SignIn(c.Context, user); err != nil {
		return err
	}
	env.Logger.Debug("user stored", "uid", user.UID, "backend", state.Persistence().String())
	fmt.Fprintf(c.App.Writer, "User %s stored in %s\n", user.UID, state.Persistence())
	return nil
}

func userRemove(c *cli.Context) error {
	env, err := GetEnv(c)
	if err != nil {
		return err
	}
	state, err := env.AuthState(c.Context)
	if err != nil {
		return err
	}
	if err := state.SignOut(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "User removed from %s\n", state.Persistence())
	return nil
}

// userFromFlags builds a record from --file or the individual flags. Flags
// given alongside --file override the file's fields.
func userFromFlags(c *cli.Context) (*domain.UserRecord, error) {
	user := &domain.UserRecord{}
	if path := c.String("file"); path != "" {
		data, err := readInput(c, path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, user); err != nil {
			return nil, domain.ErrMalformedRecord.WithDetails(path).WithCause(err)
		}
	}

	setString := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	setString("uid", &user.UID)
	setString("email", &user.Email)
	setString("display-name", &user.DisplayName)
	setString("photo-url", &user.PhotoURL)
	setString("phone", &user.PhoneNumber)
	setString("tenant", &user.TenantID)
	setString("provider", &user.ProviderID)
	setString("refresh-token", &user.RefreshToken)
	setString("access-token", &user.AccessToken)
	if c.IsSet("email-verified") {
		user.EmailVerified = c.Bool("email-verified")
	}
	if c.IsSet("anonymous") {
		user.IsAnonymous = c.Bool("anonymous")
	}

	if user.UID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("--uid or a record with uid is required")
	}

	now := time.Now()
	if user.CreatedAt == 0 {
		user.CreatedAt = now.UnixMilli()
	}
	user.LastLoginAt = now.UnixMilli()
	if user.AccessToken != "" && (user.ExpirationTime == 0 || c.IsSet("expires-in")) {
		user.ExpirationTime = now.Add(c.Duration("expires-in")).UnixMilli()
	}
	return user, nil
}

func readInput(c *cli.Context, path string) ([]byte, error) {
	if path == "-" {
		r := c.App.Reader
		if r == nil {
			r = os.Stdin
		}
		return io.ReadAll(r)
	}
	return os.ReadFile(path)
}

// maskToken keeps the first and last four characters of long tokens.
func maskToken(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 12 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "..." + s[len(s)-4:]
}
