// Package main is the interactive shell client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"dbshell/internal/client"
	"dbshell/internal/logger"
	"dbshell/internal/protocol"
)

// Options is parsed by github.com/jessevdk/go-flags.
type Options struct {
	Name     string `short:"n" long:"name" description:"display name sent with every command" default:"[DEFAULT]"`
	Port     int    `short:"p" long:"port" description:"server port used by connect" default:"12345"`
	LogLevel string `long:"log-level" description:"debug, info, warn or error" default:"warn"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Usage = "[options]"

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

	name := opts.Name
	if name == "" {
		name = protocol.DefaultClientName
	}
	if err := client.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "--name: %v\n", err)
		parser.WriteHelp(os.Stderr)
		return 1
	}

	level, err := logger.ParseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger.Default.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	shell := client.NewShell(client.ShellConfig{Name: name, Port: opts.Port}, os.Stdin, os.Stdout)
	err = shell.Run(ctx)
	fmt.Println("Terminating client")
	if err != nil {
		return 1
	}
	return 0
}
