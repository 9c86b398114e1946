package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// AdmissionKind discriminates the guard's decision for a key.
type AdmissionKind int

const (
	// Proceed: the caller is the sole executor and must eventually call
	// Complete or Abandon with the token.
	Proceed AdmissionKind = iota
	// Replay: an identical key already completed; Result must be returned
	// verbatim without re-executing.
	Replay
)

// Admission is the outcome of AdmitOrReplay.
type Admission struct {
	Kind   AdmissionKind
	Token  string // set on Proceed; fences this executor's Complete/Abandon
	Result Result // set on Replay
}

// Guard deduplicates logical operations by key. A key's expensive body runs
// at most once per TTL window; duplicate callers get the cached result, and
// callers arriving while the first execution is in flight block (bounded)
// until it completes.
type Guard struct {
	store        Store
	waitBound    time.Duration
	pollInterval time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithWaitBound caps how long a duplicate caller blocks behind an in-flight
// execution before ErrWaitTimeout.
func WithWaitBound(d time.Duration) Option {
	return func(g *Guard) { g.waitBound = d }
}

// WithPollInterval sets the store poll cadence while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(g *Guard) { g.pollInterval = d }
}

// NewGuard returns a Guard over store.
func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:        store,
		waitBound:    10 * time.Second,
		pollInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AdmitOrReplay decides the fate of a call identified by key. Exactly one of
// N concurrent callers for the same key gets Proceed; the rest either replay
// a completed result or wait for the in-flight execution, subject to the wait
// bound. A store error fails the admission closed: the body must not run.
func (g *Guard) AdmitOrReplay(ctx context.Context, key string, ttl time.Duration) (Admission, error) {
	deadline := time.Now().Add(g.waitBound)

	for {
		token, created, err := g.store.PutIfAbsent(ctx, key, ttl)
		if err != nil {
			return Admission{}, err
		}
		if created {
			return Admission{Kind: Proceed, Token: token}, nil
		}

		rec, err := g.store.Get(ctx, key)
		if err != nil {
			return Admission{}, err
		}
		if rec == nil {
			// Lost the insert race but the record is already gone: the winner
			// abandoned or the entry expired. Try to admit again.
			continue
		}
		if rec.State == StateCompleted {
			return Admission{Kind: Replay, Result: rec.Result}, nil
		}

		adm, err := g.waitForResult(ctx, key, deadline)
		if err == nil || !errors.Is(err, errRetryAdmission) {
			return adm, err
		}
	}
}

// errRetryAdmission is an internal signal that the in-flight record vanished
// while waiting and admission should be re-attempted.
var errRetryAdmission = errors.New("retry admission")

// waitForResult polls the store until the in-flight execution completes, the
// record disappears, the wait bound elapses, or the caller is cancelled.
// Cancellation abandons only this waiter; guard state is never mutated here.
func (g *Guard) waitForResult(ctx context.Context, key string, deadline time.Time) (Admission, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			logrus.WithField("key", key).Warn("idempotency wait bound elapsed")
			return Admission{}, ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return Admission{}, ctx.Err()
		case <-ticker.C:
		}

		rec, err := g.store.Get(ctx, key)
		if err != nil {
			return Admission{}, err
		}
		if rec == nil {
			return Admission{}, errRetryAdmission
		}
		if rec.State == StateCompleted {
			return Admission{Kind: Replay, Result: rec.Result}, nil
		}
	}
}

// Complete publishes the result for a Proceed token. The replay window is
// re-armed to run for the full TTL from now.
func (g *Guard) Complete(ctx context.Context, key, token string, result Result, ttl time.Duration) error {
	return g.store.Complete(ctx, key, token, result, ttl)
}

// Abandon releases a Proceed token after a failed execution so the next
// caller can retry instead of waiting out the TTL. If abandonment races a
// slow original executor a duplicate execution is possible; that liveness
// trade-off is accepted.
func (g *Guard) Abandon(ctx context.Context, key, token string) error {
	return g.store.Abandon(ctx, key, token)
}

// Execute runs body under the guard: duplicates replay the cached result, a
// failing body abandons its record, a successful one completes it.
func (g *Guard) Execute(ctx context.Context, key string, ttl time.Duration, body func(ctx context.Context) (Result, error)) (Result, error) {
	adm, err := g.AdmitOrReplay(ctx, key, ttl)
	if err != nil {
		return Result{}, err
	}
	if adm.Kind == Replay {
		return adm.Result, nil
	}

	result, err := body(ctx)
	if err != nil {
		if aerr := g.Abandon(ctx, key, adm.Token); aerr != nil {
			logrus.WithField("key", key).WithError(aerr).Error("failed to abandon idempotency record")
		}
		return Result{}, err
	}

	if cerr := g.Complete(ctx, key, adm.Token, result, ttl); cerr != nil {
		logrus.WithField("key", key).WithError(cerr).Error("failed to complete idempotency record")
		return Result{}, fmt.Errorf("store result: %w", cerr)
	}
	return result, nil
}
