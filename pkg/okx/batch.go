package okx

import (
	"context"
	"sync"
	"time"

	"nakula/pkg/core"
)

// defaultFundingInterval is assumed when history is too thin to
// measure the real settlement cadence.
const defaultFundingInterval = 8 * time.Hour

// GetFundingRates fetches the current funding rate for many swaps
// concurrently through a bounded worker pool. Each worker spaces its
// requests so the pool cannot stampede the rate limiter. Symbols that
// fail are skipped; the result is the map of everything that
// succeeded.
func (c *Client) GetFundingRates(ctx context.Context, instIDs []string) map[string]*core.FundingRate {
	workers := c.config.BatchWorkers
	if workers > len(instIDs) {
		workers = len(instIDs)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	var mu sync.Mutex
	results := make(map[string]*core.FundingRate, len(instIDs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for instID := range jobs {
				rate, err := c.GetFundingRate(ctx, instID)
				if err != nil {
					c.logger.Warn().Err(err).Str("inst_id", instID).
						Msg("funding rate fetch failed, skipping")
				} else if rate != nil {
					mu.Lock()
					results[instID] = rate
					mu.Unlock()
				}

				select {
				case <-time.After(c.config.BatchSpacing):
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, instID := range instIDs {
		select {
		case jobs <- instID:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

// FundingInterval measures the settlement cadence of a swap from its
// funding history. Most swaps settle every 8 hours but some run 4 or
// even 1 hour cycles; the gap between the two most recent settlements
// is the authoritative answer.
func (c *Client) FundingInterval(ctx context.Context, instID string) (time.Duration, error) {
	history, err := c.GetFundingRateHistory(ctx, instID, 2)
	if err != nil {
		return 0, err
	}
	if len(history) < 2 {
		return defaultFundingInterval, nil
	}

	gap := history[0].FundingTime.Sub(history[1].FundingTime)
	if gap <= 0 {
		gap = history[1].FundingTime.Sub(history[0].FundingTime)
	}
	if gap <= 0 {
		return defaultFundingInterval, nil
	}
	return gap, nil
}
