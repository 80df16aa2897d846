// Command ratertool runs offline maintenance against the evaluations
// database: full weight recomputes, pending-meta promotion sweeps, and
// reference-data seeding. It shares the engine with the server, so a manual
// run and a request-triggered recompute can never disagree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/peerpulse/peerpulse/internal/config"
	"github.com/peerpulse/peerpulse/internal/database"
	"github.com/peerpulse/peerpulse/internal/evaluations"
	"github.com/peerpulse/peerpulse/internal/monitoring"
	"github.com/peerpulse/peerpulse/internal/schema"
)

var defaultCriteria = []string{
	"honesty",
	"reliability",
	"kindness",
	"humor",
	"openness",
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	evalSchema, err := schema.Infer(db.DB, "evaluations")
	if err != nil {
		slog.Error("Failed to resolve evaluation schema", "error", err)
		os.Exit(1)
	}

	repo := database.NewRepository(db, evalSchema)
	service := evaluations.NewService(db, repo, cfg, monitoring.NewMetrics(), monitoring.NewLogger())

	ctx := context.Background()
	start := time.Now()

	switch os.Args[1] {
	case "recompute":
		count, err := service.RecomputeAll(ctx)
		if err != nil {
			slog.Error("Recompute failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Recompute complete", "raters", count, "duration", time.Since(start).String())

	case "promote":
		fs := flag.NewFlagSet("promote", flag.ExitOnError)
		force := fs.Bool("force", false, "promote every pending evaluation regardless of the outbound threshold")
		_ = fs.Parse(os.Args[2:])

		var promoted int64
		if *force {
			promoted, err = service.PromoteAll(ctx)
		} else {
			promoted, err = service.PromoteEligible(ctx)
		}
		if err != nil {
			slog.Error("Promotion sweep failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Promotion sweep complete", "promoted", promoted, "forced", *force, "duration", time.Since(start).String())

	case "seed":
		fs := flag.NewFlagSet("seed", flag.ExitOnError)
		demo := fs.Bool("demo", false, "also seed demo users and confirmed friendships")
		_ = fs.Parse(os.Args[2:])

		created, err := seedCriteria(ctx, repo)
		if err != nil {
			slog.Error("Seeding failed", "error", err)
			os.Exit(1)
		}
		users := 0
		if *demo {
			if users, err = seedDemoUsers(ctx, repo); err != nil {
				slog.Error("Demo seeding failed", "error", err)
				os.Exit(1)
			}
		}
		slog.Info("Seeding complete", "criteria_created", created, "demo_users_created", users)

	default:
		usage()
		os.Exit(2)
	}
}

// seedCriteria inserts the default criteria, skipping names that already
// exist so reruns are safe.
func seedCriteria(ctx context.Context, repo *database.Repository) (int, error) {
	existing, err := repo.ListCriteria(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Name] = true
	}

	created := 0
	for _, name := range defaultCriteria {
		if have[name] {
			continue
		}
		if err := repo.CreateCriterion(ctx, &database.Criterion{Name: name}); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

var demoUsers = []string{"demo-alice", "demo-bob", "demo-carol"}

// seedDemoUsers inserts demo accounts plus a confirmed friendship chain so
// a fresh install has task pairs to show. Existing rows are left alone.
func seedDemoUsers(ctx context.Context, repo *database.Repository) (int, error) {
	created := 0
	for _, id := range demoUsers {
		user := database.NewUser(id)
		user.ID = id
		if err := repo.CreateUser(ctx, user); err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return created, err
		}
		created++
	}

	for i := 0; i+1 < len(demoUsers); i++ {
		from, to := demoUsers[i], demoUsers[i+1]
		if err := repo.CreateFriendship(ctx, database.NewFriendship(from, to)); err != nil && !isUniqueViolation(err) {
			return created, err
		}
		if err := repo.ConfirmFriendship(ctx, from, to); err != nil {
			return created, err
		}
	}
	return created, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: ratertool <command> [flags]

commands:
  recompute        recompute weights and rater statistics for every rater
  promote [-force] activate pending evaluations whose subjects crossed the outbound threshold
  seed [-demo]     insert the default rating criteria (idempotent)
`)
}
