// Command vivariumd serves the inventory REST API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vivarium/internal/adapters/httpapi"
	"vivarium/internal/app"
	"vivarium/internal/config"
	"vivarium/internal/infra/logging"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vivariumd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		tokenFor       string
		bootstrapToken bool
	)
	fs.StringVar(&tokenFor, "token-for", "", "print a bearer token for the given user id and exit")
	fs.BoolVar(&bootstrapToken, "bootstrap-token", false, "ensure the bootstrap admin, print its bearer token and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	a, err := app.New(ctx, cfg, "vivariumd")
	if err != nil {
		fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(stderr, "shutdown: %v\n", err)
		}
	}()

	admin, created, err := a.EnsureBootstrapAdmin(ctx)
	if err != nil {
		a.Logger.Error("bootstrap admin failed", zap.Error(err))
		return 1
	}
	if created {
		a.Logger.Info("bootstrap admin ready", zap.String("user_id", admin.ID))
	}

	switch {
	case bootstrapToken:
		if admin.ID == "" {
			fmt.Fprintln(stderr, "bootstrap-token: VIVARIUM_BOOTSTRAP_ADMIN_EMAIL is not set")
			return 1
		}
		return printToken(ctx, a, admin.ID, stdout, stderr)
	case tokenFor != "":
		return printToken(ctx, a, tokenFor, stdout, stderr)
	}

	server, err := httpapi.NewServer(a.Service, httpapi.Config{
		JWTSecret:          []byte(cfg.JWTSecret),
		PrincipalCacheSize: cfg.PrincipalCacheSize,
		PrincipalCacheTTL:  cfg.PrincipalCacheTTL,
		Logger:             logging.NewAdapter(a.Logger),
		Registry:           a.Registry,
	})
	if err != nil {
		a.Logger.Error("http setup failed", zap.Error(err))
		return 1
	}
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr, cfg.ShutdownTimeout); err != nil {
		a.Logger.Error("http server failed", zap.Error(err))
		return 1
	}
	return 0
}

func printToken(ctx context.Context, a *app.App, userID string, stdout, stderr io.Writer) int {
	user, err := a.Service.Authenticate(ctx, userID)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	token, err := httpapi.IssueToken([]byte(a.Config.JWTSecret), user.ID, time.Now(), a.Config.TokenTTL)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
