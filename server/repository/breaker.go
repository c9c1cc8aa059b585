package repository

import (
	"errors"
	"time"

	"github.com/ponyo877/lobby/server/domain"
	"github.com/ponyo877/lobby/server/logging"
	"github.com/ponyo877/lobby/server/metrics"
	"github.com/ponyo877/lobby/server/usecase"
	gobreaker "github.com/sony/gobreaker/v2"
)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "sqlite",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[any] {
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(0)
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// a missing row is an answer, not a fault
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, usecase.ErrNotFound) || errors.Is(err, domain.ErrValidationFailed)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// call runs fn through the breaker. Not-found and validation errors pass
// through untouched; anything else is reported as a degraded backend.
func call[T any](r *Repository, op string, fn func() (T, error)) (T, error) {
	defer metrics.ObserveStore(op, time.Now())

	res, err := r.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, usecase.ErrNotFound) || errors.Is(err, domain.ErrValidationFailed) {
			return zero, err
		}
		logging.Err(err).Str("op", op).Msg("store call failed")
		return zero, domain.BackendDegraded(err)
	}
	v, _ := res.(T)
	return v, nil
}

func exec(r *Repository, op string, fn func() error) error {
	_, err := call(r, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
