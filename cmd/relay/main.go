// Package main is the relay entrypoint. It runs either the relay server or an
// interactive console client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cyberinferno/go-relay/auth"
	"github.com/cyberinferno/go-relay/client"
	"github.com/cyberinferno/go-relay/config"
	"github.com/cyberinferno/go-relay/logger"
	"github.com/cyberinferno/go-relay/mailbox"
	"github.com/cyberinferno/go-relay/relay"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// errUsage marks flag errors whose usage text has already been printed.
var errUsage = errors.New("invalid arguments")

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	cfg := config.Default()
	envErr := cfg.FromEnv(os.LookupEnv)

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Line-delimited JSON message relay",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envErr != nil {
				return envErr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.IsServer() {
				return runServer(ctx, cfg, errOut)
			}
			return runClient(ctx, cfg, in, out, errOut)
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cfg.BindFlags(cmd.Flags())

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		fmt.Fprintf(errOut, "Invalid arguments: %v\n%s", err, c.UsageString())
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	return cmd
}

func newLogger(cfg config.Config, w io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	opts := logger.Options{
		Service: "relay",
		Level:   level,
		Format:  format,
		Output:  w,
	}
	if cfg.LogDir == "" {
		return logger.New(opts), nil
	}

	return logger.NewZerologFileLogger(opts, cfg.LogDir)
}

func newMailbox(ctx context.Context, cfg config.Config, log logger.Logger) (mailbox.Mailbox, func(), error) {
	if cfg.MailboxBackend != config.BackendRedis {
		return mailbox.NewMemory(cfg.MailboxTTL, cfg.MailboxLimit), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	mb := mailbox.NewRedis(rdb, cfg.RedisPrefix, cfg.MailboxTTL, cfg.MailboxLimit)

	if err := mb.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis mailbox at %s: %w", cfg.RedisAddr, err)
	}

	log.Info("using redis mailbox", logger.Field{Key: "addr", Value: cfg.RedisAddr})
	return mb, func() { _ = rdb.Close() }, nil
}

func runServer(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	runtime.GOMAXPROCS(cfg.Workers)

	log, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}
	defer log.Close()

	mb, closeMailbox, err := newMailbox(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeMailbox()

	opts := []relay.Option{
		relay.WithLogger(log),
		relay.WithMailbox(mb),
		relay.WithMaxFrameSize(cfg.MaxFrameSize),
		relay.WithReadTimeout(cfg.ReadTimeout),
		relay.WithWriteTimeout(cfg.WriteTimeout),
		relay.WithStatsInterval(cfg.StatsInterval),
	}
	if cfg.AuthEnabled {
		opts = append(opts, relay.WithAuthenticator(auth.New(cfg.TokenTTL), cfg.RequireToken))
	}

	srv := relay.New(cfg.Addr(), opts...)
	if err := srv.Start(); err != nil {
		return err
	}

	log.Info("relay listening",
		logger.Field{Key: "addr", Value: srv.Addr().String()},
		logger.Field{Key: "workers", Value: cfg.Workers},
		logger.Field{Key: "mailbox", Value: cfg.MailboxBackend},
		logger.Field{Key: "auth", Value: cfg.AuthEnabled})

	err = srv.Run(ctx)
	log.Info("relay stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runClient(ctx context.Context, cfg config.Config, in io.Reader, out, logOut io.Writer) error {
	log, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}
	defer log.Close()

	ccfg := client.DefaultConfig(cfg.Addr())
	ccfg.MaxFrameSize = cfg.MaxFrameSize

	c := client.New(ccfg, log)
	console := client.NewConsole(c, in, out)

	if err := c.Connect(ctx); err != nil {
		return err
	}

	return console.Run(ctx)
}
