// inok is the command-line admin console for the INOK API. It keeps the
// session in the same file the console daemon uses, so logging in once
// serves both.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/inok-dev/inok-console/internal/config"
	"github.com/inok-dev/inok-console/internal/notify"
	"github.com/inok-dev/inok-console/internal/observability"
	"github.com/inok-dev/inok-console/internal/session"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

// app is what every subcommand works with.
type app struct {
	cfg       *config.Config
	client    *sdk.Client
	session   *session.Store
	presenter notify.Presenter
	logger    *slog.Logger
}

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

// commands is populated in init because the handlers reference it for
// their usage strings, which would otherwise be an initialization cycle.
var commands map[string]command

func init() {
	commands = map[string]command{
		"login":    {"login <email> [--password-file path]", runLogin},
		"logout":   {"logout", runLogout},
		"whoami":   {"whoami [--offline]", runWhoami},
		"register": {"register <name> <email> [--role user] [--password-file path]", runRegister},
		"list":     {"list <kind> [--search s] [--page n] [--per-page n] [--filter k=v] [--grep s] [-i]", runList},
		"get":      {"get <kind> <id>", runGet},
		"create":   {"create <kind> <json>", runCreate},
		"update":   {"update <kind> <id> <json>", runUpdate},
		"delete":   {"delete <kind> <id>", runDelete},
		"chat":     {"chat <conversation-id> <message>", runChat},
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, apiURL, logLevel string
	flags := pflag.NewFlagSet("inok", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.StringVarP(&configPath, "config", "c", "", "config file (default $INOK_CONFIG)")
	flags.StringVar(&apiURL, "api-url", "", "API root, overrides api.url")
	flags.StringVar(&logLevel, "log-level", "", "log level, overrides log.level")
	flags.Usage = func() { printUsage(flags) }
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		printUsage(flags)
		return nil
	}
	cmd, ok := commands[strings.ToLower(rest[0])]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if apiURL != "" {
		cfg.API.URL = apiURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cmd.run(ctx, a, rest[1:])
}

func newApp(cfg *config.Config) (*app, error) {
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}
	observability.Configure(logger)

	sealer, err := cfg.Sealer()
	if err != nil {
		return nil, err
	}
	presenter := notify.NewTerminal(os.Stderr)

	var store *session.Store
	client, err := sdk.Open(sdk.Options{
		BaseURL:     cfg.API.URL,
		SessionFile: cfg.Session.File,
		Sealer:      sealer,
		Timeout:     cfg.APITimeout(),
		Logger:      logger,
		Navigator: expiryNotice(os.Stderr, func() bool { return store == nil || store.Loading() }),
	})
	if err != nil {
		return nil, err
	}
	store = session.New(client, session.Config{Logger: logger})

	return &app{
		cfg:       cfg,
		client:    client,
		session:   store,
		presenter: presenter,
		logger:    logger,
	}, nil
}

// expiryNotice asks the user to log in again when the API ends the session.
// A stored token rejected while the session is first resolved is not news:
// the command reports "not logged in" itself.
func expiryNotice(w io.Writer, resolving func() bool) sdk.Navigator {
	return sdk.NavigatorFunc(func() {
		if resolving() {
			return
		}
		fmt.Fprintln(w, "Sessão expirada, execute `inok login` novamente.")
	})
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: inok [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, name := range []string{"login", "logout", "whoami", "register", "list", "get", "create", "update", "delete", "chat"} {
		fmt.Fprintf(os.Stderr, "  inok %s\n", commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "\nKinds: %s\n", strings.Join(kindNames(), ", "))
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flags.PrintDefaults()
}
