package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/metalstock_backend/appctx"
	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/sirupsen/logrus"
)

// AlertPublisher announces reactor failures to operators.
type AlertPublisher interface {
	PublishLedgerAlert(ctx context.Context, msg config.PubSubMessage) error
}

// PubSubAlertPublisher publishes on a Pub/Sub topic; an empty topic disables publishing.
type PubSubAlertPublisher struct {
	Topic string
}

func NewPubSubAlertPublisher() PubSubAlertPublisher {
	return PubSubAlertPublisher{Topic: config.LedgerRepairTopic()}
}

func (p PubSubAlertPublisher) PublishLedgerAlert(ctx context.Context, msg config.PubSubMessage) error {
	if p.Topic == "" {
		return nil
	}
	_, err := config.PublishLedgerMessage(ctx, p.Topic, msg)
	return err
}

// Dispatcher is the entry point for callers whose own save must not depend on the ledger.
// A failed reaction is logged, queued in ledger_reactor_failures and announced, and the
// outcome carries the error instead of returning it.
type Dispatcher struct {
	ledger *Ledger
	alerts AlertPublisher
	retry  config.RetryPolicy
}

func NewDispatcher(l *Ledger, alerts AlertPublisher, retry config.RetryPolicy) *Dispatcher {
	if retry.MaxAttempts <= 0 {
		retry = config.GetRetryPolicy()
	}
	return &Dispatcher{ledger: l, alerts: alerts, retry: retry}
}

type DispatchOutcome struct {
	Result    *ReactionResult
	Err       error
	FailureId string
}

func (d *Dispatcher) Created(ctx context.Context, refType models.ReferenceType, event models.MetalEvent) DispatchOutcome {
	return d.Dispatch(ctx, models.ReactionActionCreate, refType, nil, &event)
}

func (d *Dispatcher) Updated(ctx context.Context, refType models.ReferenceType, before, after models.MetalEvent) DispatchOutcome {
	return d.Dispatch(ctx, models.ReactionActionUpdate, refType, &before, &after)
}

func (d *Dispatcher) Deleted(ctx context.Context, refType models.ReferenceType, event models.MetalEvent) DispatchOutcome {
	return d.Dispatch(ctx, models.ReactionActionDelete, refType, &event, nil)
}

func (d *Dispatcher) Dispatch(ctx context.Context, action models.ReactionAction, refType models.ReferenceType, before, after *models.MetalEvent) DispatchOutcome {
	result, err := d.ledger.Apply(ctx, action, refType, before, after)
	if err == nil {
		return DispatchOutcome{Result: result}
	}

	refId := ""
	if after != nil {
		refId = strings.TrimSpace(after.ReferenceId)
	} else if before != nil {
		refId = strings.TrimSpace(before.ReferenceId)
	}
	config.LogError(d.ledger.logger, "workflow", "Dispatcher.Dispatch", "ledger reaction failed", logrus.Fields{
		"action":         action,
		"reference_type": refType,
		"reference_id":   refId,
		"correlation_id": appctx.CorrelationId(ctx),
	}, err)

	failure, qerr := d.enqueue(ctx, action, refType, refId, before, after, err)
	if qerr != nil {
		config.LogError(d.ledger.logger, "workflow", "Dispatcher.Dispatch", "enqueue reactor failure", refId, qerr)
		return DispatchOutcome{Err: errors.Join(err, qerr)}
	}
	d.alert(ctx, failure)
	return DispatchOutcome{Err: err, FailureId: failure.ID}
}

func (d *Dispatcher) enqueue(ctx context.Context, action models.ReactionAction, refType models.ReferenceType, refId string, before, after *models.MetalEvent, cause error) (*models.ReactorFailure, error) {
	now := d.ledger.now()
	failure := &models.ReactorFailure{
		ID:            uuid.NewString(),
		ReferenceType: refType,
		ReferenceId:   refId,
		Action:        action,
		Status:        models.ReactorFailurePending,
		Attempts:      1,
		LastError:     cause.Error(),
		CorrelationId: appctx.CorrelationId(ctx),
		NextAttemptAt: now.Add(RetryBackoff(1, d.retry)),
	}
	// replaying a payload the ledger rejected as invalid cannot succeed
	if errors.Is(cause, models.ErrValidation) || d.retry.MaxAttempts <= 1 {
		failure.Status = models.ReactorFailureDead
	}
	var err error
	if failure.Before, err = encodeSnapshot(before); err != nil {
		return nil, err
	}
	if failure.After, err = encodeSnapshot(after); err != nil {
		return nil, err
	}
	// detached from the request ctx: a cancelled request must still leave its failure behind
	err = d.ledger.store.Transaction(context.WithoutCancel(ctx), func(tx models.LedgerTx) error {
		return tx.CreateReactorFailure(failure)
	})
	if err != nil {
		return nil, err
	}
	return failure, nil
}

func (d *Dispatcher) alert(ctx context.Context, f *models.ReactorFailure) {
	if d.alerts == nil {
		return
	}
	msg := config.PubSubMessage{
		ID:            f.ID,
		ReferenceType: string(f.ReferenceType),
		ReferenceId:   f.ReferenceId,
		Action:        string(f.Action),
		OldObj:        rawSnapshot(f.Before),
		NewObj:        rawSnapshot(f.After),
		Error:         f.LastError,
		CorrelationId: f.CorrelationId,
		PublishedAt:   d.ledger.now(),
	}
	if err := d.alerts.PublishLedgerAlert(ctx, msg); err != nil {
		config.LogError(d.ledger.logger, "workflow", "Dispatcher.alert", "publish ledger repair alert", f.ID, err)
	}
}

type RetrySummary struct {
	Attempted   int `json:"attempted"`
	Succeeded   int `json:"succeeded"`
	Rescheduled int `json:"rescheduled"`
	Dead        int `json:"dead"`
	Superseded  int `json:"superseded"`
}

// errFailureClosed aborts a replay whose failure was closed after it was claimed.
var errFailureClosed = errors.New("reactor failure is no longer open")

type replayedFailureKey struct{}

func withReplayedFailure(ctx context.Context, f *models.ReactorFailure) context.Context {
	return context.WithValue(ctx, replayedFailureKey{}, f)
}

func replayedFailure(ctx context.Context) *models.ReactorFailure {
	f, _ := ctx.Value(replayedFailureKey{}).(*models.ReactorFailure)
	return f
}

// ensureReplayOpen fails a replay whose failure a later call has already superseded.
func ensureReplayOpen(ctx context.Context, tx models.LedgerTx) error {
	replayed := replayedFailure(ctx)
	if replayed == nil {
		return nil
	}
	current, err := tx.GetReactorFailure(replayed.ID)
	if err != nil {
		return err
	}
	if current.Status != models.ReactorFailurePending {
		return errFailureClosed
	}
	return nil
}

// supersedeFailures closes the reference's open failures older than the call that just
// succeeded. A direct call closes all of them; a replay only those queued before its own.
func supersedeFailures(ctx context.Context, tx models.LedgerTx, ref models.Reference) (int, error) {
	open, err := tx.OpenReactorFailures(ref.Type, ref.Id)
	if err != nil {
		return 0, err
	}
	replayed := replayedFailure(ctx)
	closed := 0
	for _, f := range open {
		if replayed != nil && (f.ID == replayed.ID || !f.CreatedAt.Before(replayed.CreatedAt)) {
			continue
		}
		f.Status = models.ReactorFailureSuperseded
		if err := tx.SaveReactorFailure(f); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// failureLease keeps a claimed failure out of other workers' due list while it replays.
const failureLease = 5 * time.Minute

// RetryFailedReactions replays due failures. A success closes the failure; otherwise it is
// rescheduled with exponential backoff until the attempt budget is spent, then marked dead.
func (d *Dispatcher) RetryFailedReactions(ctx context.Context, limit int) (*RetrySummary, error) {
	ctx, span := tracer.Start(ctx, "ledger.retry_failed_reactions")
	defer span.End()

	now := d.ledger.now()
	var due []*models.ReactorFailure
	err := d.ledger.store.Transaction(ctx, func(tx models.LedgerTx) error {
		var err error
		if due, err = tx.DueReactorFailures(now, limit); err != nil {
			return err
		}
		for _, f := range due {
			f.NextAttemptAt = now.Add(failureLease)
			if err := tx.SaveReactorFailure(f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	summary := &RetrySummary{}
	for _, f := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Attempted++
		d.replay(ctx, f, summary)
	}
	d.ledger.logger.WithFields(logrus.Fields{
		"attempted":   summary.Attempted,
		"succeeded":   summary.Succeeded,
		"rescheduled": summary.Rescheduled,
		"dead":        summary.Dead,
		"superseded":  summary.Superseded,
	}).Info("ledger.retry.done")
	return summary, nil
}

func (d *Dispatcher) replay(ctx context.Context, f *models.ReactorFailure, summary *RetrySummary) {
	ctx = appctx.WithCorrelationId(ctx, f.CorrelationId)
	before, after, err := decodeSnapshots(f)
	if err == nil {
		_, err = d.ledger.Apply(withReplayedFailure(ctx, f), f.Action, f.ReferenceType, before, after)
	}
	if errors.Is(err, errFailureClosed) {
		summary.Superseded++
		d.ledger.logger.WithFields(logrus.Fields{
			"failure_id":     f.ID,
			"reference_type": f.ReferenceType,
			"reference_id":   f.ReferenceId,
		}).Info("ledger.retry.superseded")
		return
	}

	now := d.ledger.now()
	f.Attempts++
	switch {
	case err == nil:
		f.Status = models.ReactorFailureSucceeded
		f.LastError = ""
		summary.Succeeded++
	case errors.Is(err, models.ErrValidation) || f.Attempts >= d.retry.MaxAttempts:
		f.Status = models.ReactorFailureDead
		f.LastError = err.Error()
		summary.Dead++
	default:
		f.Status = models.ReactorFailurePending
		f.LastError = err.Error()
		f.NextAttemptAt = now.Add(RetryBackoff(f.Attempts, d.retry))
		summary.Rescheduled++
	}

	if serr := d.ledger.store.Transaction(ctx, func(tx models.LedgerTx) error {
		return tx.SaveReactorFailure(f)
	}); serr != nil {
		config.LogError(d.ledger.logger, "workflow", "Dispatcher.replay", "save reactor failure", f.ID, serr)
	}

	fields := logrus.Fields{
		"failure_id":     f.ID,
		"reference_type": f.ReferenceType,
		"reference_id":   f.ReferenceId,
		"action":         f.Action,
		"attempts":       f.Attempts,
		"status":         f.Status,
	}
	if err != nil {
		d.ledger.logger.WithFields(fields).Error("ledger.retry.failed: " + err.Error())
		if f.Status == models.ReactorFailureDead {
			d.alert(ctx, f)
		}
		return
	}
	d.ledger.logger.WithFields(fields).Info("ledger.retry.succeeded")
}

// RetryBackoff is base × 2^(attempt-1), capped at the policy maximum.
func RetryBackoff(attempt int, cfg config.RetryPolicy) time.Duration {
	if attempt <= 0 {
		return cfg.BaseBackoff
	}
	delay := time.Duration(float64(cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if delay > cfg.MaxBackoff || delay <= 0 {
		return cfg.MaxBackoff
	}
	return delay
}

func encodeSnapshot(e *models.MetalEvent) (string, error) {
	if e == nil {
		return "", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func rawSnapshot(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func decodeSnapshots(f *models.ReactorFailure) (before, after *models.MetalEvent, err error) {
	if f.Before != "" {
		before = &models.MetalEvent{}
		if err = json.Unmarshal([]byte(f.Before), before); err != nil {
			return nil, nil, models.NewValidationError("before", "snapshot is not valid JSON")
		}
	}
	if f.After != "" {
		after = &models.MetalEvent{}
		if err = json.Unmarshal([]byte(f.After), after); err != nil {
			return nil, nil, models.NewValidationError("after", "snapshot is not valid JSON")
		}
	}
	return before, after, nil
}
