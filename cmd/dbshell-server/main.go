// Package main is the entry point for the shell server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"dbshell/internal/config"
	"dbshell/internal/events"
	"dbshell/internal/logger"
	"dbshell/internal/metrics"
	"dbshell/internal/monitor"
	"dbshell/internal/registry"
	"dbshell/internal/server"
	"dbshell/internal/table"
)

// Options is parsed by github.com/jessevdk/go-flags. Flags override values
// from the configuration file only when given.
type Options struct {
	Config      string        `short:"f" long:"config" description:"configuration file (YAML/JSON)"`
	Capacity    int           `long:"capacity" description:"maximum number of variables, 0 for unbounded"`
	MaxConns    int           `long:"max-conns" description:"maximum concurrent connections, 0 for unlimited"`
	IdleTimeout time.Duration `long:"idle-timeout" description:"close connections idle for this long, 0 to disable"`
	Monitor     string        `long:"monitor" description:"HTTP monitor address, e.g. 127.0.0.1:8080"`
	LogLevel    string        `long:"log-level" description:"debug, info, warn or error"`

	Args struct {
		Port int `positional-arg-name:"port" description:"TCP port to listen on"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Usage = "[options] <port>"

	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return 1
	}

	settings, err := buildSettings(parser, opts)
	if err != nil {
		logger.Error("main", "configuration error: %v", err)
		return 1
	}
	logger.Default.SetLevel(settings.LogLevel)

	if err := serve(settings); err != nil {
		logger.Error("main", "%v", err)
		return 1
	}
	return 0
}

// buildSettings applies the configuration file, then the port, then any
// flags that were given on the command line.
func buildSettings(parser *flags.Parser, opts *Options) (config.Settings, error) {
	settings := config.DefaultSettings()

	if opts.Config != "" {
		fileConfig, err := config.LoadFile(opts.Config)
		if err != nil {
			return settings, err
		}
		if err := fileConfig.Validate(); err != nil {
			return settings, errors.Wrap(err, "invalid configuration")
		}
		if settings, err = fileConfig.ToSettings(); err != nil {
			return settings, err
		}
	}

	settings, err := settings.WithPort(opts.Args.Port)
	if err != nil {
		return settings, err
	}

	if isSet(parser, "capacity") {
		if opts.Capacity < 0 {
			return settings, errors.New("--capacity must be non-negative")
		}
		settings.Capacity = opts.Capacity
	}
	if isSet(parser, "max-conns") {
		settings.Server.MaxConnections = opts.MaxConns
	}
	if isSet(parser, "idle-timeout") {
		settings.Server.IdleTimeout = opts.IdleTimeout
	}
	if isSet(parser, "monitor") {
		settings.Monitor = opts.Monitor
	}
	if isSet(parser, "log-level") {
		level, err := logger.ParseLevel(opts.LogLevel)
		if err != nil {
			return settings, err
		}
		settings.LogLevel = level
	}

	return settings, settings.Server.Validate()
}

func isSet(parser *flags.Parser, long string) bool {
	opt := parser.FindOptionByLongName(long)
	return opt != nil && opt.IsSet()
}

// serve runs the listener, the optional monitor and a signal watcher as one
// group. The first member to return stops the others, and serve returns once
// all of them have finished.
func serve(settings config.Settings) error {
	tbl := table.New(settings.Capacity)
	reg := registry.New()
	m := metrics.New()
	bus := events.NewBus()
	defer bus.Close()

	srv := server.New(settings.Server, tbl,
		server.WithRegistry(reg),
		server.WithMetrics(m),
		server.WithEventBus(bus),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	add := func(member func(context.Context) error) {
		g.Go(func() error {
			defer cancel()
			return member(ctx)
		})
	}

	add(watchSignals)
	add(srv.Serve)
	if settings.Monitor != "" {
		mon := monitor.NewServer(settings.Monitor, tbl,
			monitor.WithRegistry(reg),
			monitor.WithMetrics(m),
			monitor.WithEventBus(bus),
			monitor.WithState(func() string { return srv.State().String() }),
		)
		add(mon.Start)
	}

	return g.Wait()
}

func watchSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		logger.Info("main", "interrupt received, shutting down")
	case <-ctx.Done():
	}
	return nil
}
