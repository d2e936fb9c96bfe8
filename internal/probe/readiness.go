// Package probe aggregates dependency checks for the readiness endpoints.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backoffice.dev/internal/obs"
)

// Checker reports whether one dependency can serve traffic.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Readiness runs every registered checker with a shared deadline.
type Readiness struct {
	checkers []Checker
	timeout  time.Duration
}

// NewReadiness builds a readiness probe. Nil checkers are skipped so optional
// dependencies can be passed unconditionally.
func NewReadiness(timeout time.Duration, checkers ...Checker) *Readiness {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	r := &Readiness{timeout: timeout}
	for _, c := range checkers {
		if c != nil {
			r.checkers = append(r.checkers, c)
		}
	}
	return r
}

// Check returns nil when all dependencies respond. Failures are joined and
// labelled with the checker name.
func (r *Readiness) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var errs []error
	for _, c := range r.checkers {
		if err := c.Check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	err := errors.Join(errs...)
	obs.SetReady(err == nil)
	return err
}

// RedisChecker pings the replay-guard backend.
type RedisChecker struct {
	client redis.Cmdable
}

func NewRedisChecker(client redis.Cmdable) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("redis client not configured")
	}
	return c.client.Ping(ctx).Err()
}
