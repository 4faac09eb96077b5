package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
	"unicode"

	"golang.org/x/term"

	"github.com/inok-dev/inok-console/internal/console"
	"github.com/inok-dev/inok-console/pkg/schema"
	"github.com/inok-dev/inok-console/pkg/sdk"
)

const searchDelay = 300 * time.Millisecond

// Control keys understood by the browser.
const (
	keyCtrlC     = 0x03
	keyBackspace = 0x08
	keyCtrlN     = 0x0e
	keyCtrlP     = 0x10
	keyCtrlR     = 0x12
	keyEnter     = '\r'
	keyDelete    = 0x7f
)

// browser is an interactive page over a ListView. Typing edits the search
// term, which is sent once typing pauses.
type browser[T schema.Record] struct {
	view     *console.ListView[T]
	columns  []string
	row      func(T) []string
	debounce *console.Debouncer

	mu   sync.Mutex
	out  io.Writer
	term string
}

func (b *browser[T]) render() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var table bytes.Buffer
	w := tabwriter.NewWriter(&table, 2, 0, 3, ' ', 0)
	fmt.Fprintln(w, strings.Join(b.columns, "\t"))
	for _, item := range b.view.Items() {
		fmt.Fprintln(w, strings.Join(b.row(item), "\t"))
	}
	w.Flush()

	meta := b.view.Meta()
	// Raw mode does not turn \n into a carriage return.
	fmt.Fprint(b.out, "\x1b[H\x1b[2J")
	fmt.Fprint(b.out, strings.ReplaceAll(table.String(), "\n", "\r\n"))
	fmt.Fprintf(b.out, "\r\npágina %d/%d, %d registros\r\n", meta.CurrentPage, meta.LastPage, meta.Total)
	fmt.Fprintf(b.out, "busca: %s", b.term)
}

// handle applies one key and reports whether browsing is over.
func (b *browser[T]) handle(ctx context.Context, r rune) bool {
	switch r {
	case keyCtrlC, keyEnter, '\n':
		return true
	case keyCtrlR:
		if b.view.Reload(ctx) == nil {
			b.render()
		}
	case keyCtrlN, keyCtrlP:
		meta := b.view.Meta()
		page := meta.CurrentPage + 1
		if r == keyCtrlP {
			page = meta.CurrentPage - 1
		}
		if page < 1 || page > meta.LastPage {
			return false
		}
		if b.view.Page(ctx, page) == nil {
			b.render()
		}
	case keyBackspace, keyDelete:
		b.mu.Lock()
		if b.term == "" {
			b.mu.Unlock()
			return false
		}
		runes := []rune(b.term)
		b.term = string(runes[:len(runes)-1])
		b.mu.Unlock()
		b.search(ctx)
	default:
		if !unicode.IsPrint(r) {
			return false
		}
		b.mu.Lock()
		b.term += string(r)
		b.mu.Unlock()
		b.search(ctx)
	}
	return false
}

func (b *browser[T]) search(ctx context.Context) {
	b.mu.Lock()
	term := b.term
	b.mu.Unlock()
	b.render()
	b.debounce.Trigger(func() {
		if b.view.Search(ctx, term) == nil {
			b.render()
		}
	})
}

func (k typedKind[T]) browse(ctx context.Context, a *app, q sdk.ListQuery) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("--interactive needs a terminal")
	}

	view := k.view(a)
	if err := view.Load(ctx, q); err != nil {
		return a.reported(err)
	}
	b := &browser[T]{
		view:     view,
		columns:  k.columns,
		row:      k.row,
		debounce: console.NewDebouncer(searchDelay),
		out:      os.Stdout,
		term:     q.Search,
	}
	defer b.debounce.Stop()

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer func() {
		term.Restore(fd, state)
		fmt.Fprintln(os.Stdout)
	}()

	b.render()
	in := bufio.NewReader(os.Stdin)
	for ctx.Err() == nil {
		r, _, err := in.ReadRune()
		if err != nil {
			return nil
		}
		if b.handle(ctx, r) {
			return nil
		}
	}
	return nil
}
