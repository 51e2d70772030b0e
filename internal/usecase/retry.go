package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"conversion-relay/internal/domain"
)

const defaultRetryConcurrency = 8

// RetryStore lists retry candidates and reloads each one before it is fired.
type RetryStore interface {
	ListRetryable(ctx context.Context, maxAttempts int) ([]domain.ConversionDocument, error)
	GetConversion(ctx context.Context, gclid string) (domain.ConversionDocument, bool, error)
}

// ScanReport summarizes one retry scan. Attempted counts every record fired;
// Failed includes both business rejections and transport failures. Skipped
// counts candidates that were gone, no longer eligible or unreadable when
// reloaded.
type ScanReport struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// RetryScanner re-fires errored conversions that still have attempts left.
type RetryScanner struct {
	store       RetryStore
	recorder    *Recorder
	logger      *slog.Logger
	maxAttempts int
	concurrency int
}

func NewRetryScanner(store RetryStore, recorder *Recorder, maxAttempts, concurrency int, logger *slog.Logger) (*RetryScanner, error) {
	if store == nil {
		return nil, errors.New("usecase: retry store must not be nil")
	}
	if recorder == nil {
		return nil, errors.New("usecase: recorder must not be nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.MaxAttempts
	}
	if concurrency <= 0 {
		concurrency = defaultRetryConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryScanner{
		store:       store,
		recorder:    recorder,
		logger:      logger,
		maxAttempts: maxAttempts,
		concurrency: concurrency,
	}, nil
}

// Scan fires every eligible record independently; one record's failure never
// stops the others. Each candidate is reloaded first so a record that changed
// since the scan page was read is not fired from a stale copy. A failed query
// returns an error and fires nothing.
func (s *RetryScanner) Scan(ctx context.Context) (ScanReport, error) {
	docs, err := s.store.ListRetryable(ctx, s.maxAttempts)
	if err != nil {
		s.logger.Error("retry scan query failed", "err", err)
		return ScanReport{}, newError(ErrorInternal, "retry_query_error", err)
	}

	var attempted, succeeded, failed, skipped atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, doc := range docs {
		if !s.eligible(doc.Status) {
			continue
		}
		doc := doc
		g.Go(func() error {
			gclid := doc.Detail.GCLID
			current, found, err := s.store.GetConversion(ctx, gclid)
			if err != nil {
				s.logger.Error("conversion reload failed", "gclid", gclid, "err", err)
				skipped.Add(1)
				return nil
			}
			if !found || !s.eligible(current.Status) {
				s.logger.Debug("conversion no longer retryable", "gclid", gclid, "found", found)
				skipped.Add(1)
				return nil
			}

			attempted.Add(1)
			c := s.recorder.Load(current)
			if _, err := c.Fire(ctx); err != nil {
				s.logger.Error("conversion retry failed", "gclid", c.GCLID(), "attempts", c.Status().Attempts, "err", err)
				failed.Add(1)
				return nil
			}
			if c.Status().Current == domain.StatusSuccess {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return ScanReport{
		Attempted: int(attempted.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}, nil
}

// eligible repeats the store filter so a lenient store cannot widen the
// retry set.
func (s *RetryScanner) eligible(st domain.Status) bool {
	return st.Current == domain.StatusError && st.Attempts < s.maxAttempts
}
