package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cowindex/internal/app"
	"cowindex/internal/application"
	"cowindex/internal/config"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	txHash, detailed, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg.LogFile = ""
	shutdown := app.InitObservability(ctx, cfg, app.BuildInfo{Service: "cowindex-cli", Version: version})
	defer shutdown()

	cache := app.ConnectRedis(ctx, cfg)
	if cache != nil {
		defer cache.Close()
	}
	service, err := app.NewService(cfg, cache, nil)
	if err != nil {
		fmt.Fprintln(stderr, "service error:", err)
		return 1
	}
	return compute(ctx, service, txHash, detailed, stdout, stderr)
}

func compute(ctx context.Context, calc application.Calculator, txHash string, detailed bool, stdout, stderr io.Writer) int {
	result, err := calc.ComputeDetailed(ctx, txHash)
	if err != nil {
		slog.Debug("cowiness failed", "tx_hash", txHash, "err", err)
		fmt.Fprintf(stderr, "%s: %v\n", application.ErrorClass(err), err)
		return 1
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	var payload any = map[string]float64{"cowiness": result.CowValue}
	if detailed {
		payload = result
	}
	if err := encoder.Encode(payload); err != nil {
		fmt.Fprintln(stderr, "encode error:", err)
		return 1
	}
	return 0
}

// parseArgs accepts the flag before or after the hash.
func parseArgs(args []string, stderr io.Writer) (string, bool, error) {
	fs := flag.NewFlagSet("cowiness", flag.ContinueOnError)
	fs.SetOutput(stderr)
	detailed := fs.Bool("detailed", false, "print the full per-token breakdown")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: cowiness <txhash> [-detailed]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return "", false, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return "", false, errors.New("transaction hash is required")
	}
	raw := rest[0]
	if err := fs.Parse(rest[1:]); err != nil {
		return "", false, err
	}
	if fs.NArg() > 0 {
		return "", false, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	txHash, err := application.NormalizeTxHash(raw)
	if err != nil {
		return "", false, err
	}
	return txHash, *detailed, nil
}
