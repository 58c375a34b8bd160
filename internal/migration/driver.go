package migration

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	"github.com/rflorenc/ipam-migrator/internal/models"
	"github.com/rflorenc/ipam-migrator/internal/platform"
	"github.com/rflorenc/ipam-migrator/internal/platform/netbox"
	"github.com/rflorenc/ipam-migrator/internal/retry"
	"go.uber.org/zap"
)

// Target is the write side of a migration.
type Target interface {
	Find(ctx context.Context, kind models.Kind, filters url.Values) (int, bool, error)
	Create(ctx context.Context, kind models.Kind, record any) (int, error)
}

// sourceRecord is any decoded phpIPAM record.
type sourceRecord interface {
	SourceID() string
}

// entity describes how one kind of source record becomes target records.
type entity[S sourceRecord, T netbox.Record] struct {
	kind    models.Kind
	records iter.Seq2[S, error]
	// mapRecord is pure; a *Rejection becomes a skip.
	mapRecord func(S) (T, error)
	// resolve turns parent names into target IDs. Optional.
	resolve func(ctx context.Context, rec *T) error
	// prepare adjusts a record that is about to be created. Optional.
	prepare func(rec *T)
	// done sees every record that exists in the target after this run,
	// whether found or created. id is 0 for dry-run creates.
	done func(src S, rec T, id int)
}

// migrate drives every record of one entity through
// map → resolve → duplicate check → find → create. It returns an error only
// when the whole run must stop: authentication failures and cancellation.
func migrate[S sourceRecord, T netbox.Record](ctx context.Context, m *Migrator, e entity[S, T]) error {
	m.run.Begin(e.kind)
	m.logger.Info(fmt.Sprintf("=== Migrating %s ===", e.kind.Label()))

	for src, err := range e.records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			var ve *platform.ValidationError
			switch {
			case fatal(ctx, err):
				return err
			case errors.As(err, &ve):
				m.record(models.Result{Kind: e.kind, SourceID: ve.SourceID, Outcome: models.OutcomeFailed, Reason: err.Error()})
				continue
			}
			m.logger.Error(fmt.Sprintf("%s listing stopped: %v", e.kind.Label(), err), zap.String("kind", string(e.kind)))
			m.run.SetEntityError(e.kind, err)
			break
		}

		res, err := process(ctx, m, e, src)
		if err != nil {
			return err
		}
		m.record(res)
	}

	s, _ := m.run.Summary().Entity(e.kind)
	m.logger.Info(fmt.Sprintf("%s complete: %d created, %d skipped, %d failed",
		e.kind.Label(), s.Created, s.Skipped, s.Failed))
	return nil
}

// process handles one source record. A non-nil error aborts the run.
func process[S sourceRecord, T netbox.Record](ctx context.Context, m *Migrator, e entity[S, T], src S) (models.Result, error) {
	res := models.Result{Kind: e.kind, SourceID: src.SourceID()}
	skip := func(reason string) (models.Result, error) {
		res.Outcome, res.Reason = models.OutcomeSkipped, reason
		return res, nil
	}
	fail := func(err error) (models.Result, error) {
		if fatal(ctx, err) {
			return res, err
		}
		res.Outcome, res.Reason = models.OutcomeFailed, err.Error()
		return res, nil
	}

	rec, err := e.mapRecord(src)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			return skip(rej.Reason)
		}
		return fail(err)
	}
	res.Key = rec.Key()

	if e.resolve != nil {
		if err := e.resolve(ctx, &rec); err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				return skip(rej.Reason)
			}
			return fail(err)
		}
	}

	if first, dup := m.seen.claim(e.kind, res.Key, res.SourceID); dup {
		return skip("duplicate: same key as source record " + first)
	}

	if filters, ok := rec.NaturalKey(); ok {
		id, found, err := m.find(ctx, e.kind, filters)
		if err != nil {
			m.seen.release(e.kind, res.Key)
			return fail(err)
		}
		if found {
			res.TargetID = id
			if e.done != nil {
				e.done(src, rec, id)
			}
			return skip("already exists")
		}
	}

	if e.prepare != nil {
		e.prepare(&rec)
	}

	if m.opts.DryRun {
		res.Outcome, res.Simulated = models.OutcomeCreated, true
		if e.done != nil {
			e.done(src, rec, 0)
		}
		return res, nil
	}

	id, err := m.create(ctx, e.kind, rec)
	if err != nil {
		m.seen.release(e.kind, res.Key)
		return fail(err)
	}
	res.Outcome, res.TargetID = models.OutcomeCreated, id
	if e.done != nil {
		e.done(src, rec, id)
	}
	return res, nil
}

// fatal reports whether err must stop the whole run.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, platform.ErrAuth) || ctx.Err() != nil
}

// find looks a record up by natural key, retrying transient failures.
func (m *Migrator) find(ctx context.Context, kind models.Kind, filters url.Values) (id int, found bool, err error) {
	err = retry.Do(ctx, m.retryPolicy(kind, "find"), platform.IsTransient, func(ctx context.Context) error {
		var err error
		id, found, err = m.target.Find(ctx, kind, filters)
		return err
	})
	return id, found, err
}

// create paces and submits one create call, retrying transient failures.
func (m *Migrator) create(ctx context.Context, kind models.Kind, record any) (id int, err error) {
	start := time.Now()
	defer func() {
		if err == nil {
			m.metrics.ObserveCreate(string(kind), time.Since(start))
		}
	}()
	err = retry.Do(ctx, m.retryPolicy(kind, "create"), platform.IsTransient, func(ctx context.Context) error {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		id, err = m.target.Create(ctx, kind, record)
		return err
	})
	return id, err
}

func (m *Migrator) retryPolicy(kind models.Kind, op string) retry.Policy {
	p := m.opts.Retry
	p.Notify = func(attempt int, err error) {
		m.metrics.Retry(string(kind), op)
		m.logger.Warn(fmt.Sprintf("  RETRY %d/%d: %s %s: %v", attempt, p.Attempts, op, kind, err),
			zap.String("kind", string(kind)))
	}
	return p
}

// record logs one result and tallies it.
func (m *Migrator) record(res models.Result) {
	kind := zap.String("kind", string(res.Kind))
	src := zap.String("source_id", res.SourceID)
	switch {
	case res.Outcome == models.OutcomeCreated && res.Simulated:
		m.logger.Info(fmt.Sprintf("  [DRY] would create: %s", res.Key), kind, src)
	case res.Outcome == models.OutcomeCreated:
		m.logger.Info(fmt.Sprintf("  CREATED: %s (ID %d)", res.Key, res.TargetID), kind, src)
	case res.Outcome == models.OutcomeSkipped && res.Reason == "already exists":
		m.logger.Info(fmt.Sprintf("  SKIP (exists): %s", res.Key), kind, src)
	case res.Outcome == models.OutcomeSkipped:
		m.logger.Info(fmt.Sprintf("  SKIP: %s (%s)", label(res), res.Reason), kind, src)
	default:
		m.logger.Error(fmt.Sprintf("  FAIL: %s: %s", label(res), res.Reason), kind, src)
	}

	m.tally(res)
}

// tally folds one result into the run and metrics and emits progress.
func (m *Migrator) tally(res models.Result) {
	m.metrics.Record(string(res.Kind), string(res.Outcome))
	s := m.run.Record(res)
	if m.opts.BatchSize > 0 && s.Processed%m.opts.BatchSize == 0 {
		m.logger.Info(fmt.Sprintf("  %s progress: %d processed (created %d, skipped %d, failed %d)",
			res.Kind.Label(), s.Processed, s.Created, s.Skipped, s.Failed), zap.String("kind", string(res.Kind)))
	}
}

func label(res models.Result) string {
	if res.Key != "" {
		return res.Key
	}
	return "source record " + res.SourceID
}

// seenKeys tracks natural keys claimed in this run, per kind.
type seenKeys map[models.Kind]map[string]string

func (s seenKeys) claim(kind models.Kind, key, sourceID string) (string, bool) {
	keys, ok := s[kind]
	if !ok {
		keys = make(map[string]string)
		s[kind] = keys
	}
	if first, ok := keys[key]; ok {
		return first, true
	}
	keys[key] = sourceID
	return "", false
}

func (s seenKeys) release(kind models.Kind, key string) {
	delete(s[kind], key)
}
