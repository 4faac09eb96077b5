package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/inok-dev/inok-console/internal/notify"
	"github.com/inok-dev/inok-console/internal/session"
	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

// errReported marks a failure the presenter has already shown.
var errReported = errors.New("reported")

func (a *app) fail(err error) error {
	notify.Report(a.presenter, err)
	return a.reported(err)
}

// reported finishes a failure the presenter has already shown.
func (a *app) reported(err error) error {
	if sdk.IsKind(err, sdk.KindTransport) {
		fmt.Fprintf(os.Stderr, "API inacessível em %s, confira --api-url ou api.url\n", a.cfg.API.URL)
	}
	return errReported
}

// requireSession resolves the persisted session and refuses to go on
// without one.
func (a *app) requireSession(ctx context.Context) error {
	if a.session.Initialize(ctx) != session.Authenticated {
		return errors.New("not logged in, run `inok login <email>`")
	}
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	var passwordFile string
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	flags.StringVar(&passwordFile, "password-file", "", "read the password from a file, - to prompt (default: prompt)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: inok %s", commands["login"].usage)
	}

	password, err := readPassword(passwordFile)
	if err != nil {
		return err
	}
	if _, err := a.session.Login(ctx, flags.Arg(0), password); err != nil {
		return a.fail(err)
	}
	user := a.session.CurrentUser()
	a.presenter.Success(fmt.Sprintf("Logado como %s (%s)", user.Name, user.Role))
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return a.fail(err)
	}
	a.presenter.Success("Sessão encerrada")
	return nil
}

func runWhoami(ctx context.Context, a *app, args []string) error {
	var offline bool
	flags := pflag.NewFlagSet("whoami", pflag.ContinueOnError)
	flags.BoolVar(&offline, "offline", false, "show the saved user without asking the API")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var user *schema.User
	if offline {
		snap, err := a.session.Snapshot()
		if err != nil {
			return err
		}
		if snap == nil {
			return errors.New("no saved session, run `inok login <email>`")
		}
		user = snap
	} else {
		if err := a.requireSession(ctx); err != nil {
			return err
		}
		user = a.session.CurrentUser()
	}
	fmt.Printf("%s <%s>\nrole: %s\nid:   %s\n", user.Name, user.Email, user.Role, user.ID)
	return nil
}

func runRegister(ctx context.Context, a *app, args []string) error {
	var passwordFile, role string
	flags := pflag.NewFlagSet("register", pflag.ContinueOnError)
	flags.StringVar(&passwordFile, "password-file", "", "read the password from a file, - to prompt (default: prompt)")
	flags.StringVar(&role, "role", string(schema.RoleUser), "admin, manager or user")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return fmt.Errorf("usage: inok %s", commands["register"].usage)
	}
	parsed, err := schema.ParseRole(role)
	if err != nil {
		return err
	}
	// Creating a privileged account needs an admin token, when there is one.
	a.session.Initialize(ctx)

	password, err := readPassword(passwordFile)
	if err != nil {
		return err
	}
	user, err := a.session.Register(ctx, schema.RegisterRequest{
		Name:     flags.Arg(0),
		Email:    flags.Arg(1),
		Password: password,
		Role:     parsed,
	})
	if err != nil {
		return a.fail(err)
	}
	a.presenter.Success(fmt.Sprintf("Usuário %s criado (%s)", user.Email, user.ID))
	return nil
}

// readPassword reads from path, or prompts on the terminal when path is
// empty or "-".
func readPassword(path string) (string, error) {
	if path != "" && path != "-" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		data = bytes.TrimRight(data, "\r\n")
		if len(data) == 0 {
			return "", fmt.Errorf("password file %s is empty", path)
		}
		return string(data), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal for the password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "Senha: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}
