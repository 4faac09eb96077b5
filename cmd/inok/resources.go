package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/inok-dev/inok-console/internal/console"
	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

// kind is one admin collection as seen from the command line.
type kind interface {
	list(ctx context.Context, a *app, q sdk.ListQuery, grep string) error
	browse(ctx context.Context, a *app, q sdk.ListQuery) error
	get(ctx context.Context, a *app, id string) error
	create(ctx context.Context, a *app, body json.RawMessage) error
	update(ctx context.Context, a *app, id string, body json.RawMessage) error
	remove(ctx context.Context, a *app, id string) error
}

type typedKind[T schema.Record] struct {
	open    func(*sdk.Client) *sdk.Resource[T]
	columns []string
	row     func(T) []string
}

var kinds = map[string]kind{
	sdk.PathIdentities: typedKind[schema.Identity]{sdk.Identities,
		[]string{"ID", "NOME", "PERSONALIDADE"},
		func(i schema.Identity) []string { return []string{string(i.ID), i.Name, i.Personality} }},
	sdk.PathAgents: typedKind[schema.Agent]{sdk.Agents,
		[]string{"ID", "NOME", "MODELO", "STATUS"},
		func(a schema.Agent) []string { return []string{string(a.ID), a.Name, a.Model, a.Status} }},
	sdk.PathConversations: typedKind[schema.Conversation]{sdk.Conversations,
		[]string{"ID", "NOME", "AGENTE", "STATUS"},
		func(c schema.Conversation) []string { return []string{string(c.ID), c.Name, string(c.AgentID), c.Status} }},
	sdk.PathDatabases: typedKind[schema.Database]{sdk.Databases,
		[]string{"ID", "NOME", "ENGINE", "HOST"},
		func(d schema.Database) []string {
			host := d.Host
			if d.Port != 0 {
				host += ":" + strconv.Itoa(d.Port)
			}
			return []string{string(d.ID), d.Name, d.Engine, host}
		}},
	sdk.PathMemories: typedKind[schema.Memory]{sdk.Memories,
		[]string{"ID", "NOME", "AGENTE", "TAGS"},
		func(m schema.Memory) []string { return []string{string(m.ID), m.Name, string(m.AgentID), strings.Join(m.Tags, ",")} }},
	sdk.PathDataFlows: typedKind[schema.DataFlow]{sdk.DataFlows,
		[]string{"ID", "NOME", "AGENDA", "ATIVO"},
		func(d schema.DataFlow) []string {
			return []string{string(d.ID), d.Name, d.Schedule, strconv.FormatBool(d.Enabled)}
		}},
	sdk.PathUsers: typedKind[schema.User]{sdk.Users,
		[]string{"ID", "NOME", "EMAIL", "PAPEL"},
		func(u schema.User) []string { return []string{string(u.ID), u.Name, u.Email, string(u.Role)} }},
}

func kindNames() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (k typedKind[T]) view(a *app) *console.ListView[T] {
	return console.NewListView[T](k.open(a.client), a.presenter)
}

func (k typedKind[T]) list(ctx context.Context, a *app, q sdk.ListQuery, grep string) error {
	view := k.view(a)
	if err := view.Load(ctx, q); err != nil {
		return a.reported(err)
	}
	items := console.Filter(view.Items(), grep, k.row)

	w := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(w, strings.Join(k.columns, "\t"))
	for _, item := range items {
		fmt.Fprintln(w, strings.Join(k.row(item), "\t"))
	}
	w.Flush()

	meta := view.Meta()
	fmt.Fprintf(os.Stderr, "página %d/%d, %d registros\n", meta.CurrentPage, meta.LastPage, meta.Total)
	return nil
}

func (k typedKind[T]) get(ctx context.Context, a *app, id string) error {
	env, err := k.open(a.client).Get(ctx, id)
	if err != nil {
		return a.fail(err)
	}
	return printJSON(env.Data)
}

func (k typedKind[T]) create(ctx context.Context, a *app, body json.RawMessage) error {
	created, err := k.view(a).Create(ctx, body)
	if err != nil {
		return a.reported(err)
	}
	return printJSON(created)
}

func (k typedKind[T]) update(ctx context.Context, a *app, id string, body json.RawMessage) error {
	updated, err := k.view(a).Update(ctx, id, body)
	if err != nil {
		return a.reported(err)
	}
	return printJSON(updated)
}

func (k typedKind[T]) remove(ctx context.Context, a *app, id string) error {
	if err := k.view(a).Delete(ctx, id); err != nil {
		return a.reported(err)
	}
	return nil
}

func lookupKind(name string) (kind, error) {
	k, ok := kinds[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q (one of %s)", name, strings.Join(kindNames(), ", "))
	}
	return k, nil
}

func runList(ctx context.Context, a *app, args []string) error {
	var (
		q       sdk.ListQuery
		filters []string
		grep    string
		browse  bool
	)
	flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
	flags.StringVar(&q.Search, "search", "", "server-side search term")
	flags.IntVar(&q.Page, "page", 1, "page number")
	flags.IntVar(&q.PerPage, "per-page", 0, "records per page (default: backend's)")
	flags.StringArrayVar(&filters, "filter", nil, "exact field filter key=value, repeatable")
	flags.StringVar(&grep, "grep", "", "filter the fetched page locally")
	flags.BoolVarP(&browse, "interactive", "i", false, "browse the collection: type to search, ctrl-n/ctrl-p to page, ctrl-r to reload")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: inok %s", commands["list"].usage)
	}
	k, err := lookupKind(flags.Arg(0))
	if err != nil {
		return err
	}
	for _, f := range filters {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid filter %q, expected key=value", f)
		}
		if q.Filters == nil {
			q.Filters = map[string]string{}
		}
		q.Filters[key] = value
	}

	if err := a.requireSession(ctx); err != nil {
		return err
	}
	if browse {
		return k.browse(ctx, a, q)
	}
	return k.list(ctx, a, q, grep)
}

func runGet(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: inok %s", commands["get"].usage)
	}
	k, err := lookupKind(args[0])
	if err != nil {
		return err
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	return k.get(ctx, a, args[1])
}

func runCreate(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: inok %s", commands["create"].usage)
	}
	k, err := lookupKind(args[0])
	if err != nil {
		return err
	}
	body, err := parseBody(args[1])
	if err != nil {
		return err
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	return k.create(ctx, a, body)
}

func runUpdate(ctx context.Context, a *app, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: inok %s", commands["update"].usage)
	}
	k, err := lookupKind(args[0])
	if err != nil {
		return err
	}
	body, err := parseBody(args[2])
	if err != nil {
		return err
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	return k.update(ctx, a, args[1], body)
}

func runDelete(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: inok %s", commands["delete"].usage)
	}
	k, err := lookupKind(args[0])
	if err != nil {
		return err
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	return k.remove(ctx, a, args[1])
}

func runChat(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: inok %s", commands["chat"].usage)
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	env, err := sdk.SendMessage(ctx, a.client, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return a.fail(err)
	}
	for _, m := range env.Data {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
	return nil
}

// parseBody accepts a JSON object, or @path to read one from a file.
func parseBody(arg string) (json.RawMessage, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	return json.RawMessage(data), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
