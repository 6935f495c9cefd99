// Command websess fetches pages through a stateful session, renders
// captured responses offline in a browser context, browses live pages
// with the session's state, and saves/restores session state snapshots.
//
//	websess get https://example.com/page
//	websess get -markdown https://example.com/page
//	websess render https://example.com/challenge
//	websess visit https://example.com/dashboard
//	websess state save myaccount https://example.com/login
//	websess state list
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/websess/content"
	"github.com/hazyhaar/websess/session"
	"github.com/hazyhaar/websess/vault"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "get":
		err = runGet(ctx, os.Args[2:])
	case "render":
		err = runRender(ctx, os.Args[2:])
	case "visit":
		err = runVisit(ctx, os.Args[2:])
	case "state":
		err = runState(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("websess", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  websess get [-markdown|-text|-links] [-snapshot name] <url>
  websess render [-timeout d] [-retries n] [-snapshot name] <url>
  websess visit [-timeout d] [-snapshot name] <url>
  websess state save <name> [warm-up url]
  websess state load|delete <name>
  websess state list`)
}

func newSession(ctx context.Context, snapshot string, extra ...session.Option) (*session.Session, error) {
	var opts []session.Option
	if path := os.Getenv("WEBSESS_CONFIG"); path != "" {
		cfg, err := session.LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		opts = cfg.Options()
	}
	opts = append(opts, extra...)
	s := session.New(opts...)
	if snapshot != "" {
		v, err := vault.Open(env("VAULT_DB", "db/websess.db"))
		if err != nil {
			s.Close()
			return nil, err
		}
		defer v.Close()
		snap, err := v.Load(ctx, snapshot)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.State().Restore(snap)
	}
	return s, nil
}

func runGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	markdown := fs.Bool("markdown", false, "print the page as markdown")
	text := fs.Bool("text", false, "print the page's visible text")
	links := fs.Bool("links", false, "print the page's absolute links")
	snapshot := fs.String("snapshot", "", "restore session state from this vault snapshot first")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("get: exactly one url expected")
	}

	s, err := newSession(ctx, *snapshot)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	switch {
	case *markdown:
		md, err := content.Markdown(resp.Text())
		if err != nil {
			return err
		}
		fmt.Println(md)
	case *text:
		doc, err := resp.HTML()
		if err != nil {
			return err
		}
		fmt.Println(doc.Text())
	case *links:
		doc, err := resp.HTML()
		if err != nil {
			return err
		}
		for _, l := range doc.AbsoluteLinks() {
			fmt.Println(l)
		}
	default:
		os.Stdout.Write(resp.Body)
	}
	return nil
}

func runRender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	timeout := fs.Duration("timeout", 0, "navigation timeout (0 = session default)")
	retries := fs.Int("retries", -1, "soft-retry budget (-1 = session default)")
	snapshot := fs.String("snapshot", "", "restore session state from this vault snapshot first")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("render: exactly one url expected")
	}

	var extra []session.Option
	if *timeout > 0 {
		extra = append(extra, session.WithTimeout(*timeout))
	}
	s, err := newSession(ctx, *snapshot, extra...)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := s.Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	var ropts []session.RenderOption
	if *retries >= 0 {
		ropts = append(ropts, session.RenderRetries(*retries))
	}
	page, err := resp.Render(ctx, ropts...)
	if err != nil {
		return err
	}
	defer page.Close(ctx)

	// Give challenge scripts a moment to run before serializing the DOM.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	dom, err := page.Content(ctx)
	if err != nil {
		return err
	}
	fmt.Println(dom)
	return nil
}

func runVisit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("visit", flag.ExitOnError)
	timeout := fs.Duration("timeout", 0, "navigation timeout (0 = session default)")
	snapshot := fs.String("snapshot", "", "restore session state from this vault snapshot first")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("visit: exactly one url expected")
	}

	var extra []session.Option
	if *timeout > 0 {
		extra = append(extra, session.WithTimeout(*timeout))
	}
	s, err := newSession(ctx, *snapshot, extra...)
	if err != nil {
		return err
	}
	defer s.Close()

	page, err := s.Visit(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer page.Close(ctx)

	dom, err := page.Content(ctx)
	if err != nil {
		return err
	}
	fmt.Println(dom)
	return nil
}

func runState(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("state: save|load|list|delete expected")
	}
	v, err := vault.Open(env("VAULT_DB", "db/websess.db"))
	if err != nil {
		return err
	}
	defer v.Close()

	switch args[0] {
	case "list":
		entries, err := v.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\n", e.Name, e.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	case "save":
		// Without a warm-up url this initializes an empty snapshot; with
		// one, the session fetches it first so its cookies are captured.
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("state save: snapshot name and optional warm-up url expected")
		}
		s, err := newSession(ctx, "")
		if err != nil {
			return err
		}
		defer s.Close()
		if len(args) == 3 {
			if _, err := s.Get(ctx, args[2]); err != nil {
				return err
			}
		}
		return v.Save(ctx, args[1], s.State().Snapshot())
	case "load", "delete":
		if len(args) != 2 {
			return fmt.Errorf("state %s: snapshot name expected", args[0])
		}
		name := args[1]
		if args[0] == "delete" {
			return v.Delete(ctx, name)
		}
		snap, err := v.Load(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d cookies, %d origins\n", name, len(snap.Cookies), len(snap.LocalStorage))
		return nil
	default:
		return fmt.Errorf("state: unknown subcommand %q", args[0])
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
