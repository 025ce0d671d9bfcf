package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gensvc/internal/adapter/repo"
	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/quota"
)

func main() {
	var (
		idFlag        string
		planFlag      string
		limitFlag     int
		periodFlag    time.Duration
		keepUsageFlag bool
	)

	flag.StringVar(&idFlag, "id", "", "user ID to update")
	flag.StringVar(&planFlag, "plan", "pro", "plan to assign")
	flag.IntVar(&limitFlag, "limit", 50, "units allowed per period (-1 for unlimited)")
	flag.DurationVar(&periodFlag, "period", 30*24*time.Hour, "length of the quota window starting now")
	flag.BoolVar(&keepUsageFlag, "keep-usage", false, "preserve used units instead of resetting to 0")
	flag.Parse()

	userID := strings.TrimSpace(idFlag)
	plan := strings.TrimSpace(strings.ToLower(planFlag))

	if userID == "" {
		exitWithError(errors.New("-id must be provided"))
	}
	if plan == "" {
		exitWithError(errors.New("-plan is required"))
	}
	if limitFlag < domain.UnlimitedQuota {
		exitWithError(fmt.Errorf("limit must be >= %d", domain.UnlimitedQuota))
	}
	if periodFlag <= 0 {
		exitWithError(errors.New("-period must be positive"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger(nil).With().Str("cmd", "quotaplan").Logger()
	accounts := repo.NewQuotaRepository(infra.NewSQLRunner(pool, logger), "", 0)

	start := time.Now().UTC()
	acct, err := accounts.SetPlan(ctx, userID, plan, limitFlag, start, start.Add(periodFlag), !keepUsageFlag)
	if err != nil {
		exitWithError(fmt.Errorf("failed to update plan: %w", err))
	}

	limit := fmt.Sprintf("%d", acct.RequestsLimit)
	if acct.Unlimited() {
		limit = "unlimited"
	}
	fmt.Printf("user %s now on %s plan: %d used, %d reserved, limit %s, window %s to %s\n",
		acct.UserID,
		quota.PlanDisplayName(acct.Plan),
		acct.RequestsUsed,
		acct.RequestsReserved,
		limit,
		acct.PeriodStart.Format(time.RFC3339),
		acct.PeriodEnd.Format(time.RFC3339),
	)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
