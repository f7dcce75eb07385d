// Command fitsync is a CLI client for the FitSync service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/fitsync/internal/auth"
	"github.com/and161185/fitsync/internal/config"
	"github.com/and161185/fitsync/internal/docstore"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/rpc"
)

// ---- grpc dial ----

func loadTLS(caPath string) (credentials.TransportCredentials, error) {
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}), nil
}

func dial(cfg config.Client, tokens *auth.TokenStore) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if !cfg.Insecure {
		var err error
		if creds, err = loadTLS(cfg.CACert); err != nil {
			return nil, err
		}
	}
	return grpc.NewClient(cfg.Addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(tokens),
	)
}

// connect dials the server and builds a running app with the persisted session restored.
func connect(ctx context.Context, cfg config.Client, log *zap.Logger, live bool, out io.Writer) (*app, error) {
	tokens := auth.NewTokenStore(cfg.Dir, !cfg.Insecure)
	cc, err := dial(cfg, tokens)
	if err != nil {
		return nil, err
	}
	client := rpc.NewClient(cc)
	provider := auth.NewRemoteProvider(client, tokens, log)
	a, err := newApp(ctx, provider, docstore.NewRemoteBackend(client, log), log, live, out)
	if err != nil {
		_ = cc.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = cc.Close() })
	return a, nil
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// describe renders err for the terminal, with field detail for validation failures.
func describe(err error) string {
	var fe *errs.FieldError
	switch {
	case errors.As(err, &fe):
		return fmt.Sprintf("invalid %s: %s", fe.Field, fe.Msg)
	case errors.Is(err, errs.ErrUnauthenticated):
		return "not signed in (run login first)"
	case errors.Is(err, errs.ErrNetwork):
		return "server unreachable: " + err.Error()
	}
	return err.Error()
}

func usage() {
	fmt.Fprintf(os.Stderr, `fitsync CLI
Usage:
  fitsync [-addr HOST:PORT] [-cacert file | -insecure] [-v] [-config-dir dir] <cmd> [args]

Commands:
  version
  register        -email <e> -password <p> -first <name> -last <name>
  login           -email <e> -password <p>
  logout
  status          [-route <path>]             (session phase, guard decision for route)
  profile                                     (prints the profile)
  profile-update  [-first] [-last] [-display] [-photo] [-age] [-sex]
                  [-height] [-weight] [-chest] [-hip] [-waist] [-muscle]
  complete                                    (missing required fields)
  units           [-height cm|ft-in] [-weight kg|lb]
  language        -lang <code>
  email           -new <email> -password <p>
  bmi             [-weight kg] [-height cm] [-sex s]   (defaults from profile)
  watch                                       (prints profile changes until interrupted)
`)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses global flags and dispatches the subcommand against a restored session.
func main() {
	cfg, err := config.LoadClient(os.Args[1:], usage)
	if err != nil {
		os.Exit(2)
	}
	if len(cfg.Args) < 1 {
		usage()
		os.Exit(2)
	}
	cmd, args := cfg.Args[0], cfg.Args[1:]
	if cmd == "version" {
		fmt.Printf("fitsync %s (%s)\n", version, buildDate)
		return
	}
	if _, ok := commands[cmd]; !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	log := newLogger(cfg.Verbose)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cmd != "watch" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	a, err := connect(ctx, cfg, log, cmd == "watch", os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
	err = a.run(ctx, cmd, args)
	a.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}
