// Command ratelimitd serves a small API behind the token-bucket rate
// limiter, for trying out bucket configurations.
//
// Usage:
//
//	ratelimitd --config ratelimit.yaml
//	ratelimitd --config ratelimit.yaml --grpc-addr :9090 --log-format json
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CLI defines the command-line interface.
type CLI struct {
	Config    string        `short:"c" help:"Path to config file." type:"path" default:"ratelimit.yaml" env:"RATELIMIT_CONFIG"`
	HTTPAddr  string        `name:"http-addr" help:"HTTP listen address." default:":8080" env:"RATELIMIT_HTTP_ADDR"`
	GRPCAddr  string        `name:"grpc-addr" help:"gRPC listen address (empty disables gRPC)." env:"RATELIMIT_GRPC_ADDR"`
	LogLevel  string        `help:"Log level (trace, debug, info, warn, error)." default:"info" env:"RATELIMIT_LOG_LEVEL"`
	LogFormat string        `help:"Log format (console or json)." default:"console" enum:"console,json"`
	Shutdown  time.Duration `help:"Graceful shutdown timeout." default:"10s"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("ratelimitd"),
		kong.Description("Token-bucket rate limiting daemon."),
	)

	if err := setupLogger(cli.LogLevel, cli.LogFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cli); err != nil {
		log.Fatal().Err(err).Msg("ratelimitd failed")
	}
}

func setupLogger(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func run(ctx context.Context, cli *CLI) error {
	app, err := newApp(cli)
	if err != nil {
		return err
	}

	if err := app.manager.LoadAll(ctx); err != nil {
		return err
	}
	log.Info().Str("http_addr", cli.HTTPAddr).Str("grpc_addr", cli.GRPCAddr).Msg("ratelimitd started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.Shutdown)
	defer cancel()
	return app.manager.ShutdownAll(shutdownCtx)
}
