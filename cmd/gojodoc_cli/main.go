package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodoc/config"
	"github.com/sushant-115/gojodoc/core/storage"
	"github.com/sushant-115/gojodoc/core/transaction"
	"github.com/sushant-115/gojodoc/core/uuidgen"
	"github.com/sushant-115/gojodoc/pkg/logger"
	"github.com/sushant-115/gojodoc/pkg/telemetry"
)

var (
	configPath = flag.String("config", "", "Path to a YAML configuration file")
	dataPath   = flag.String("data", "", "Bolt database file; selects the bolt storage engine")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataPath != "" {
		cfg.Storage.Engine = config.EngineBolt
		cfg.Storage.Path = *dataPath
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log, flag.Args()); err != nil {
		log.Error("gojodoc CLI failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger, args []string) error {
	ctx := context.Background()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer shutdown(ctx)

	store, err := cfg.Storage.OpenStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline, err := cfg.Codecs.Pipeline()
	if err != nil {
		return fmt.Errorf("failed to build codec pipeline: %w", err)
	}

	gen, err := newGenerator(store)
	if err != nil {
		return err
	}

	actions, err := transaction.NewActions(store, gen, pipeline,
		transaction.WithLogger(log),
		transaction.WithTracer(tel.Tracer),
		transaction.WithMeter(tel.Meter),
	)
	if err != nil {
		return err
	}
	log.Info("Transaction service ready",
		zap.String("engine", cfg.Storage.Engine),
		zap.Int("codecs", len(pipeline)),
		zap.Duration("default_timeout", cfg.Transactions.DefaultTimeout))

	s := newSession(ctx, actions, os.Stdout, cfg.Transactions.DefaultTimeout)
	if len(args) > 0 {
		s.processCommand(args)
		return nil
	}
	return shellLoop(s)
}

// newGenerator issues etags above the highest one the store already holds.
func newGenerator(store storage.Storage) (*uuidgen.Sequential, error) {
	last, err := store.LastEtag()
	if err != nil {
		return nil, fmt.Errorf("failed to read last etag: %w", err)
	}
	return uuidgen.NewSequentialAfter(last), nil
}

func shellLoop(s *session) error {
	fmt.Fprintln(s.out, "gojodoc CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "gojodoc> ",
		HistoryFile:       filepath.Join(os.TempDir(), "gojodoc_cli.history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !s.processCommand(strings.Fields(line)) {
			return nil
		}
	}
}
