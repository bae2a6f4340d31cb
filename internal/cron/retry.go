package cron

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff retry inside one execution attempt.
// Retries happen within the attempt: however many tries it takes, the attempt
// still produces exactly one run record.
type RetryConfig struct {
	MaxRetries int           // max retries after the first try (0 = no retry)
	BaseDelay  time.Duration // initial backoff delay
	MaxDelay   time.Duration // backoff ceiling
}

// DefaultRetryConfig returns the retry defaults (3 retries, 2s..30s backoff).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// executeWithRetry runs exec until it succeeds, the retry budget is spent,
// or ctx is cancelled. Returns the last output/error and the number of tries.
func executeWithRetry(ctx context.Context, exec Executor, job *Job, cfg RetryConfig) (output string, tries int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		output, err = exec.Execute(ctx, job)
		if err == nil {
			return output, attempt + 1, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", attempt + 1, err
		case <-time.After(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt)):
		}
	}
	return "", cfg.MaxRetries + 1, err
}

// backoffWithJitter computes min(base * 2^attempt, max) +/- 25% jitter.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}

	quarter := delay / 4
	if quarter > 0 {
		delay += time.Duration(rand.Int63n(int64(quarter*2))) - quarter
	}
	return delay
}

// maxOutputBytes caps captured executor output stored in run records (16KB).
const maxOutputBytes = 16 * 1024

// truncateOutput trims output to maxOutputBytes, marking the cut.
func truncateOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "...[truncated]"
}
