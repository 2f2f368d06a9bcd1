package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"jobboard/internal/app"
	"jobboard/internal/config"
	"jobboard/internal/httpapi"
)

func main() {
	var (
		cfgPath    string
		envFile    string
		issueToken string
		tokenTTL   time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file with JOBBOARD_* overrides")
	flag.StringVar(&issueToken, "issue-admin-token", "", "print an admin bearer token for this subject and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of tokens printed by -issue-admin-token")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if issueToken != "" {
		if err := printToken(cfgPath, issueToken, tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func printToken(cfgPath, subject string, ttl time.Duration) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	tok, err := httpapi.IssueAdminToken(cfg.HTTP.JWTSecret, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
