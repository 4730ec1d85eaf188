package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/samber/mo"

	"socialbackend/core"
	"socialbackend/models"
)

type refreshService interface {
	ListRefreshCandidates(
		ctx context.Context,
		window time.Duration,
		provider mo.Option[models.ProviderIdentifier],
	) ([]*models.Integration, error)
	RefreshIntegration(ctx context.Context, integration *models.Integration) (*models.Integration, error)
}

type refreshSummary struct {
	Candidates  int
	Refreshed   int
	NeedsReauth int
	Skipped     int
	Failed      int
}

func (s refreshSummary) String() string {
	return fmt.Sprintf(
		"candidates=%d refreshed=%d needs_reauth=%d skipped=%d failed=%d",
		s.Candidates, s.Refreshed, s.NeedsReauth, s.Skipped, s.Failed,
	)
}

type refresher struct {
	service  refreshService
	workers  int
	window   time.Duration
	provider mo.Option[models.ProviderIdentifier]
	dryRun   bool
}

func (r *refresher) Run(ctx context.Context) (refreshSummary, error) {
	log.Printf("📋 Starting to refresh integrations expiring within %v", r.window)

	candidates, err := r.service.ListRefreshCandidates(ctx, r.window, r.provider)
	if err != nil {
		return refreshSummary{}, err
	}

	summary := refreshSummary{Candidates: len(candidates)}
	log.Printf("🔍 Found %d integrations to refresh", len(candidates))

	if r.dryRun {
		for _, integration := range candidates {
			log.Printf("⏭️  Dry run - would refresh %s integration %s", integration.ProviderIdentifier, integration.ID)
		}
		summary.Skipped = len(candidates)
		return summary, nil
	}

	workers := r.workers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	wp := workerpool.New(workers)
	for _, integration := range candidates {
		integration := integration
		wp.Submit(func() {
			outcome := r.refreshOne(ctx, integration)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeRefreshed:
				summary.Refreshed++
			case outcomeNeedsReauth:
				summary.NeedsReauth++
			case outcomeSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
		})
	}
	wp.StopWait()

	log.Printf("📋 Completed successfully - %s", summary)
	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d integrations failed to refresh", summary.Failed)
	}
	return summary, nil
}

type refreshOutcome int

const (
	outcomeRefreshed refreshOutcome = iota
	outcomeNeedsReauth
	outcomeSkipped
	outcomeFailed
)

func (r *refresher) refreshOne(ctx context.Context, integration *models.Integration) refreshOutcome {
	if ctx.Err() != nil {
		return outcomeSkipped
	}

	if integration.TokenExpiration != nil {
		log.Printf(
			"🔄 Refreshing %s integration %s - expires in %v",
			integration.ProviderIdentifier,
			integration.ID,
			time.Until(*integration.TokenExpiration).Round(time.Minute),
		)
	}

	_, err := r.service.RefreshIntegration(ctx, integration)
	switch {
	case err == nil:
		log.Printf("✅ Refreshed integration %s", integration.ID)
		return outcomeRefreshed
	case errors.Is(err, core.ErrUnsupportedProvider):
		log.Printf("⏭️  Skipping integration %s - provider %s is not configured", integration.ID, integration.ProviderIdentifier)
		return outcomeSkipped
	case errors.Is(err, core.ErrNoRefreshTokenOnRecord), errors.Is(err, core.ErrTokenRefreshRejected):
		log.Printf("⚠️ Integration %s needs reconnecting: %v", integration.ID, err)
		return outcomeNeedsReauth
	default:
		log.Printf("❌ Failed to refresh integration %s: %v", integration.ID, err)
		return outcomeFailed
	}
}
