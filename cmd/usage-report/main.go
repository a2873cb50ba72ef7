// Command usage-report prints request counts for the current quota window.
//
//	usage-report [-format table|json]                  per-user totals
//	usage-report [-format table|json] -user <email>    one user's keys
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/middleware"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/quota"
	"github.com/voxgate/voxgate/internal/repository"
)

// reportStore is the storage the report reads.
type reportStore interface {
	quota.Store
	UsageByUser(ctx context.Context, since time.Time) ([]repository.UserUsage, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
}

type keyUsage struct {
	KeyID      string     `json:"key_id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Used       int        `json:"used"`
	Limit      int        `json:"limit"`
	Remaining  int        `json:"remaining"`
}

type userReport struct {
	Email   string     `json:"email"`
	Plan    model.Plan `json:"subscription_plan"`
	ResetAt time.Time  `json:"reset_at"`
	Keys    []keyUsage `json:"keys"`
}

type report struct {
	store  reportStore
	ledger *quota.Ledger
	now    time.Time
	format string
	out    io.Writer
}

type options struct {
	format string
	user   string
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("usage-report", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.format, "format", "table", "Output format: table or json")
	fs.StringVar(&opts.user, "user", "", "Report the keys of the user with this email")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() != 0 {
		return options{}, errors.New("usage: usage-report [-format table|json] [-user <email>]")
	}

	opts.format = strings.ToLower(opts.format)
	if opts.format != "table" && opts.format != "json" {
		return options{}, errors.New("invalid format; use table or json")
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
	limits, err := cfg.PlanLimits()
	if err != nil {
		fmt.Fprintln(os.Stderr, "plan limits:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	rep := &report{
		store:  repo,
		ledger: quota.NewLedger(repo, limits),
		now:    time.Now().UTC(),
		format: opts.format,
		out:    os.Stdout,
	}

	if opts.user != "" {
		err = rep.user(ctx, opts.user)
	} else {
		err = rep.totals(ctx)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// totals prints per-user request counts in the current window.
func (r *report) totals(ctx context.Context) error {
	usage, err := r.store.UsageByUser(ctx, quota.WindowStart(r.now))
	if err != nil {
		return err
	}

	if r.format == "json" {
		if usage == nil {
			usage = []repository.UserUsage{}
		}
		return r.encode(usage)
	}

	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "USER\tEMAIL\tREQUESTS\n")
	for _, u := range usage {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", u.UserID, u.UserEmail, u.Requests)
	}
	return tw.Flush()
}

// user prints quota consumption for each of a user's keys.
func (r *report) user(ctx context.Context, email string) error {
	u, err := r.store.GetUserByEmail(ctx, middleware.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("no user registered with email %s", email)
		}
		return err
	}

	keys, err := r.store.ListAPIKeysByUserID(ctx, u.ID)
	if err != nil {
		return err
	}

	rep := userReport{
		Email:   u.Email,
		Plan:    u.Plan,
		ResetAt: quota.NextWindowStart(r.now),
		Keys:    make([]keyUsage, 0, len(keys)),
	}
	for _, k := range keys {
		usage, err := r.ledger.Usage(ctx, k.ID, u.Plan, r.now)
		if err != nil {
			return err
		}
		rep.Keys = append(rep.Keys, keyUsage{
			KeyID:      k.ID,
			CreatedAt:  k.CreatedAt,
			LastUsedAt: k.LastUsedAt,
			Used:       usage.Used,
			Limit:      usage.Limit,
			Remaining:  usage.Remaining,
		})
	}

	if r.format == "json" {
		return r.encode(rep)
	}

	fmt.Fprintf(r.out, "%s (%s), resets %s\n", rep.Email, rep.Plan, rep.ResetAt.Format(time.RFC3339))
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "KEY\tCREATED\tLAST USED\tUSED\tLIMIT\n")
	for _, k := range rep.Keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", k.KeyID, k.CreatedAt.UTC().Format(time.RFC3339), lastUsed, k.Used, k.Limit)
	}
	return tw.Flush()
}

func (r *report) encode(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
