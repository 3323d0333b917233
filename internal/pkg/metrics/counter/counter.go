package counter

import (
	"context"
	"strconv"

	"github.com/vpn-sentinel/sentinel/internal/pkg/cache"
)

const (
	webhookOutcomesKey = "webhook:counters:outcomes"
	jobResultsKey      = "jobs:counters:results"
)

// AddWebhookOutcome increments the running counter for a webhook processing outcome in Redis
func AddWebhookOutcome(outcome string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// AddJobResult increments the running counter for a job type/result pair in Redis
func AddJobResult(jobType, result string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, jobResultsKey, jobType+":"+result, 1).Err()
}

// WebhookOutcomes returns the accumulated outcome counters
func WebhookOutcomes() (map[string]int64, error) {
	return readHash(webhookOutcomesKey)
}

// JobResults returns the accumulated job result counters keyed by "<type>:<result>"
func JobResults() (map[string]int64, error) {
	return readHash(jobResultsKey)
}

func readHash(key string) (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for field, raw := range data {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
