package app

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/kobzarvs/multifind/internal/config"
	"github.com/kobzarvs/multifind/internal/dom"
	"github.com/kobzarvs/multifind/internal/fetch"
	"github.com/kobzarvs/multifind/internal/logger"
	"github.com/kobzarvs/multifind/internal/server"
	"github.com/kobzarvs/multifind/internal/session"
	"github.com/kobzarvs/multifind/internal/store"
	"github.com/kobzarvs/multifind/internal/viewer"
)

const usage = `usage: multifind <command> [flags] <file|url>

commands:
  highlight   write the document with every keyword highlighted
  view        browse the document in the terminal
  serve       serve the document and its search session over HTTP`

var ErrUsage = errors.New(usage)

// App is the top-level runtime for multifind.
type App struct {
	args      []string
	stdout    io.Writer
	stderr    io.Writer
	newScreen func() (tcell.Screen, error)
}

func New(args []string) *App {
	return &App{
		args:      args,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		newScreen: tcell.NewScreen,
	}
}

// keywordList collects repeated -k flags.
type keywordList []string

func (k *keywordList) String() string { return strings.Join(*k, ",") }

func (k *keywordList) Set(v string) error {
	*k = append(*k, v)
	return nil
}

type common struct {
	keywords keywordList
	debug    bool
	fetch    string
}

func (a *App) flagSet(name string, c *common) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Var(&c.keywords, "k", "keyword to highlight (repeatable)")
	fs.BoolVar(&c.debug, "debug", false, "debug logging")
	fs.StringVar(&c.fetch, "fetch", "", "fetch mode: http, browser or auto")
	return fs
}

func (a *App) Run() error {
	if len(a.args) == 0 {
		return ErrUsage
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := a.args[0], a.args[1:]
	switch cmd {
	case "highlight":
		return a.runHighlight(ctx, rest)
	case "view":
		return a.runView(ctx, rest)
	case "serve":
		return a.runServe(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprintln(a.stdout, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

// setup parses flags and loads configuration, the logger and the target
// document. On success the caller owns logger.Close and doc.Close.
func (a *App) setup(ctx context.Context, fs *flag.FlagSet, c *common, args []string) (config.Config, *dom.Document, string, error) {
	cfg := config.Default()
	if err := fs.Parse(args); err != nil {
		return cfg, nil, "", err
	}
	if fs.NArg() != 1 {
		return cfg, nil, "", ErrUsage
	}
	target := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, "", err
	}
	if c.fetch != "" {
		cfg.Fetch.Mode = c.fetch
	}
	if err := logger.Init(c.debug); err != nil {
		fmt.Fprintln(a.stderr, "multifind: logging disabled:", err)
	}

	f := fetch.New(cfg.Fetch, fetch.WithLogger(logger.Named("fetch")))
	body, err := f.Load(ctx, target)
	if err != nil {
		logger.Close()
		return cfg, nil, "", err
	}
	doc, err := dom.Parse(bytes.NewReader(body), dom.WithLogger(logger.Named("dom")))
	if err != nil {
		logger.Close()
		return cfg, nil, "", fmt.Errorf("parse %s: %w", target, err)
	}
	logger.L.Info("document loaded", zap.String("target", target), zap.Int("bytes", len(body)))
	return cfg, doc, target, nil
}

func (a *App) sessionOptions(cfg config.Config) []session.Option {
	return append(session.FromConfig(cfg.Highlight), session.WithLogger(logger.Named("session")))
}

func (a *App) runHighlight(ctx context.Context, args []string) error {
	var c common
	fs := a.flagSet("highlight", &c)
	out := fs.String("o", "", "output file (default stdout)")
	cfg, doc, _, err := a.setup(ctx, fs, &c, args)
	if err != nil {
		return err
	}
	defer logger.Close()
	defer doc.Close()

	sess := session.New(doc, a.sessionOptions(cfg)...)
	for _, kw := range c.keywords {
		if err := sess.Add(kw); err != nil {
			fmt.Fprintf(a.stderr, "%s: %v\n", kw, err)
		}
	}
	infos := sess.AllMatchInfo()
	for _, kw := range sess.ListKeywords() {
		fmt.Fprintf(a.stderr, "%s: %d matches\n", kw, infos[kw].TotalMatches)
	}

	w := a.stdout
	if *out != "" {
		file, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	return doc.Render(w)
}

func (a *App) runView(ctx context.Context, args []string) error {
	var c common
	fs := a.flagSet("view", &c)
	cfg, doc, _, err := a.setup(ctx, fs, &c, args)
	if err != nil {
		return err
	}
	defer logger.Close()
	defer doc.Close()

	s, err := a.newScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	v := viewer.New(doc, cfg.Highlight.Palette, logger.Named("viewer"), a.sessionOptions(cfg)...)
	for _, kw := range c.keywords {
		v.AddKeyword(kw)
	}

	go func() {
		<-ctx.Done()
		_ = s.PostEvent(tcell.NewEventInterrupt(nil))
	}()

	v.Render(s)
	for {
		ev := s.PollEvent()
		switch ev := ev.(type) {
		case nil:
			return nil
		case *tcell.EventKey:
			if v.HandleKey(ev) {
				return nil
			}
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt:
			if ctx.Err() != nil {
				return nil
			}
		}
		v.Render(s)
	}
}

func (a *App) runServe(ctx context.Context, args []string) error {
	var c common
	fs := a.flagSet("serve", &c)
	addr := fs.String("addr", "", "listen address")
	dbPath := fs.String("db", "", "saved-search database path")
	cfg, doc, target, err := a.setup(ctx, fs, &c, args)
	if err != nil {
		return err
	}
	defer logger.Close()
	defer doc.Close()

	if *addr == "" {
		*addr = cfg.Server.Addr
	}
	if *dbPath == "" {
		*dbPath = cfg.Server.DBPath
	}
	if *dbPath == "" {
		dir, err := config.StateDir()
		if err != nil {
			return err
		}
		*dbPath = filepath.Join(dir, "multifind.db")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	janitor := store.NewJanitor(st, cfg.Server.Retention, cfg.Server.Cleanup, logger.Named("store"))
	janitor.Start()
	defer janitor.Stop()

	sess := session.New(doc, a.sessionOptions(cfg)...)
	srv := server.New(sess, pageKey(target), server.WithStore(st), server.WithLogger(logger.Named("server")))
	if err := srv.Restore(ctx); err != nil {
		logger.L.Warn("restore saved searches", zap.Error(err))
	}
	for _, kw := range c.keywords {
		if err := sess.Add(kw); err != nil && !errors.Is(err, session.ErrDuplicateKeyword) {
			fmt.Fprintf(a.stderr, "%s: %v\n", kw, err)
		}
	}

	fmt.Fprintf(a.stdout, "serving %s on http://%s\n", target, *addr)
	return srv.ListenAndServe(ctx, *addr)
}

// pageKey names the page in the saved-search store. Local files are keyed
// by absolute file URL.
func pageKey(target string) string {
	if fetch.IsURL(target) {
		return target
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	return "file://" + filepath.ToSlash(abs)
}
