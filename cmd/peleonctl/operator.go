package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"peleon/config"
	"peleon/gateway/middleware"
	"peleon/services/reconcile"
)

func runToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the peleond config file")
	subject := fs.String("subject", "operator", "Token subject")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	token, err := mintOperatorToken(cfg.Gateway, os.Getenv(cfg.Gateway.JWTSecretEnv), *subject, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func mintOperatorToken(gw config.Gateway, secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("%s is not set", gw.JWTSecretEnv)
	}
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": middleware.ScopeOperator,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if gw.JWTIssuer != "" {
		claims["iss"] = gw.JWTIssuer
	}
	if gw.JWTAudience != "" {
		claims["aud"] = gw.JWTAudience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func runIntents(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("intents", flag.ContinueOnError)
	gateway := fs.String("gateway", defaultGateway, "Gateway base URL")
	tokenEnv := fs.String("token-env", "PELEON_OPERATOR_TOKEN", "Environment variable holding the operator token")
	from := fs.Uint64("from", 0, "First intent sequence")
	limit := fs.Int("limit", 100, "Maximum intents to list")
	status := fs.String("status", "", "Only list intents with this status (pending, dispatched, failed)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token := strings.TrimSpace(os.Getenv(*tokenEnv))
	if token == "" {
		return fmt.Errorf("%s is not set", *tokenEnv)
	}
	query := url.Values{}
	query.Set("from", fmt.Sprint(*from))
	query.Set("limit", fmt.Sprint(*limit))
	if *status != "" {
		query.Set("status", *status)
	}
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(*gateway, "/")+"/v1/intents?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return do(stdout, req)
}

func runReport(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the peleond config file")
	since := fs.Duration("since", 24*time.Hour, "Report window length ending now")
	dir := fs.String("out", "", "Output directory (defaults to the configured report dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *since <= 0 {
		return errors.New("-since must be positive")
	}
	outDir := *dir
	if outDir == "" {
		outDir = cfg.Journal.ReportDir
	}
	db, err := reconcile.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return err
	}
	journal, err := reconcile.NewJournal(db, cfg.Contract.ID)
	if err != nil {
		return err
	}
	end := time.Now().UTC()
	summary, err := journal.Report(context.Background(), outDir, end.Add(-*since), end)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "window %s .. %s: %d intents (%d dispatched, %d failed)\n",
		summary.Start.Format(time.RFC3339), summary.End.Format(time.RFC3339), summary.Total, summary.Dispatched, summary.Failed)
	for kind, n := range summary.ByKind {
		fmt.Fprintf(stdout, "  %-22s %d\n", kind, n)
	}
	if summary.CSVPath != "" {
		fmt.Fprintf(stdout, "csv:     %s\nparquet: %s\n", summary.CSVPath, summary.Parquet)
	}
	return nil
}
