// Command create-account registers a user from the command line and prints
// the identity token, optionally minting an API key as well.
//
//	create-account [-plan free|silver|gold] [-format plain|json] [-issue-key] <email>
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
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/apperr"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/metrics"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/repository"
	"github.com/voxgate/voxgate/internal/service"
)

type output struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Plan   string `json:"subscription_plan"`
	Token  string `json:"token"`
	KeyID  string `json:"key_id,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

type options struct {
	plan     string
	format   string
	issueKey bool
	email    string
}

var errUsage = errors.New("usage: create-account [-plan free|silver|gold] [-format plain|json] [-issue-key] <email>")

func parseOptions(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("create-account", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.plan, "plan", string(model.DefaultPlan), "Subscription plan: free, silver or gold")
	fs.StringVar(&opts.format, "format", "plain", "Output format: plain or json")
	fs.BoolVar(&opts.issueKey, "issue-key", false, "Also issue an API key for the new user")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 1 {
		return options{}, errUsage
	}
	opts.email = fs.Arg(0)

	opts.format = strings.ToLower(opts.format)
	if opts.format != "plain" && opts.format != "json" {
		return options{}, errors.New("invalid format; use plain or json")
	}
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token issuer:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := service.NewAccountService(repo, tokens, metrics.NewNoop(), logger)

	if err := run(ctx, svc, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *service.AccountService, opts options, stdout io.Writer) error {
	user, err := svc.Register(ctx, opts.email, opts.plan)
	if err != nil {
		return err
	}

	out := output{
		UserID: user.ID,
		Email:  user.Email,
		Plan:   user.Plan.String(),
		Token:  user.IdentityToken,
	}

	if opts.issueKey {
		key, err := svc.IssueAPIKeyForUser(ctx, user)
		if err != nil {
			return fmt.Errorf("issue api key: %w", err)
		}
		out.KeyID = key.ID
		out.APIKey = key.Key
	}

	switch opts.format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		fmt.Fprintln(stdout, out.Token)
		if out.APIKey != "" {
			fmt.Fprintln(stdout, out.APIKey)
		}
		return nil
	}
}

// describe renders client-facing errors by message and everything else in full.
func describe(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.Internal {
		return appErr.Message
	}
	return err.Error()
}
