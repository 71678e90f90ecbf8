// Package dispatch implements the delivery unit of the notification
// pipeline: it takes one claimed notification from render to webhook call to
// audit row to final queue status.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"duepoint/internal/notifications/core"
	"duepoint/internal/notifications/template"
	"duepoint/internal/types"
)

// AccountStore is the account lookup needed by the dispatcher.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
}

// TargetStore is the recipient lookup needed by the dispatcher.
type TargetStore interface {
	GetByID(ctx context.Context, kind types.TargetKind, accountID, id string) (*types.Target, error)
}

// TemplateStore is the template lookup needed by the dispatcher.
type TemplateStore interface {
	GetByID(ctx context.Context, accountID, id string) (*types.MessageTemplate, error)
}

// EndpointStore resolves the active outbound endpoint for a channel kind.
type EndpointStore interface {
	GetActive(ctx context.Context, kind string) (*types.WebhookEndpoint, error)
}

// HistoryStore appends delivery audit rows.
type HistoryStore interface {
	Record(ctx context.Context, rec *types.DeliveryRecord) error
}

// QueueStore applies the final status transition for a processing row.
type QueueStore interface {
	MarkSent(ctx context.Context, id string) error
	MarkRetrying(ctx context.Context, id string, reason string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Dispatcher delivers one claimed notification end to end: resolve the
// account, target, template, and endpoint; render; call the webhook; append
// exactly one history row per attempt; and close out the queue row.
//
// Failures before the target is resolved (missing account, missing instance,
// deleted target) produce no history row, since there is no recipient to
// record against. Once a target snapshot exists, every outcome is recorded:
// configuration failures (missing template, no active endpoint) get a row
// without a status code, and the webhook call gets a row on success and
// failure alike.
type Dispatcher struct {
	accounts  AccountStore
	targets   TargetStore
	templates TemplateStore
	endpoints EndpointStore
	history   HistoryStore
	queue     QueueStore
	channel   types.MessageChannel
	metrics   core.PipelineMetrics
	logger    types.Logger
	clock     types.Clock

	maxAttempts  int
	retryBackoff time.Duration
}

// DispatcherConfig carries the dependencies for NewDispatcher.
type DispatcherConfig struct {
	Accounts  AccountStore
	Targets   TargetStore
	Templates TemplateStore
	Endpoints EndpointStore
	History   HistoryStore
	Queue     QueueStore
	Channel   types.MessageChannel
	Metrics   core.PipelineMetrics
	Logger    types.Logger
	Clock     types.Clock

	// MaxAttempts bounds total delivery attempts per notification.
	MaxAttempts int
	// RetryBackoff is the base delay before a retry; it doubles per attempt.
	RetryBackoff time.Duration
}

// NewDispatcher creates a Dispatcher. Metrics defaults to the no-op
// implementation and Clock to the real clock.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 5 * time.Minute
	}

	return &Dispatcher{
		accounts:     cfg.Accounts,
		targets:      cfg.Targets,
		templates:    cfg.Templates,
		endpoints:    cfg.Endpoints,
		history:      cfg.History,
		queue:        cfg.Queue,
		channel:      cfg.Channel,
		metrics:      metrics,
		logger:       cfg.Logger,
		clock:        clock,
		maxAttempts:  maxAttempts,
		retryBackoff: backoff,
	}
}

// Dispatch processes one notification in processing state. It always resolves
// the queue row to sent, retrying, or failed; the returned error reports what
// went wrong without implying the row was left dangling.
func (d *Dispatcher) Dispatch(ctx context.Context, n *types.ScheduledNotification) error {
	account, err := d.accounts.GetByID(ctx, n.AccountID)
	if err != nil {
		return d.failBeforeSend(ctx, n, "account not found", err)
	}

	if account.InstanceName == "" {
		err := types.NewAppError(types.ErrCodePreconditionNoInstance,
			"account has no outbound instance configured", nil)
		return d.failBeforeSend(ctx, n, "no instance configured", err)
	}

	target, err := d.targets.GetByID(ctx, n.TargetKind, n.AccountID, n.TargetID)
	if err != nil {
		return d.failBeforeSend(ctx, n, "target not found", err)
	}

	tmpl, err := d.templates.GetByID(ctx, n.AccountID, n.TemplateID)
	if err != nil {
		d.recordConfigFailure(ctx, n, target, "template not found")
		return d.failBeforeSend(ctx, n, "template not found", err)
	}

	endpoint, err := d.endpoints.GetActive(ctx, d.channel.Kind())
	if err != nil {
		// Endpoint configuration is systemic, not a property of this
		// notification; park the row for retry instead of failing it.
		d.recordConfigFailure(ctx, n, target, "no active webhook endpoint")
		return d.retryOrFail(ctx, n, "no active webhook endpoint", err)
	}

	text := template.Render(tmpl.Content, template.DataFor(target, account))
	msg := &types.OutboundMessage{
		InstanceName: account.InstanceName,
		ContactName:  target.Name,
		Number:       target.Phone,
		Text:         text,
	}

	start := d.clock.Now()
	result, deliverErr := d.channel.Deliver(ctx, msg, endpoint.URL)
	d.metrics.RecordLatency(ctx, n.TargetKind, d.clock.Now().Sub(start))

	// The webhook call happened (or was attempted on the wire): exactly one
	// history row, success or failure.
	rec := &types.DeliveryRecord{
		AccountID:       n.AccountID,
		TargetID:        n.TargetID,
		Kind:            n.TargetKind,
		TargetName:      target.Name,
		TargetPhone:     target.Phone,
		TemplateID:      n.TemplateID,
		WebhookKind:     d.channel.Kind(),
		RequestPayload:  result.RequestPayload,
		ResponsePayload: result.ResponseBody,
		StatusCode:      result.StatusCode,
		Success:         deliverErr == nil,
	}
	if histErr := d.history.Record(ctx, rec); histErr != nil {
		d.logger.Error("failed to record delivery history",
			"notification_id", n.ID,
			"error", histErr.Error(),
		)
		// Keep going: the queue row must still be resolved.
	}

	if deliverErr == nil {
		d.metrics.RecordDelivery(ctx, n.TargetKind, core.ResultSuccess)
		if err := d.queue.MarkSent(ctx, n.ID); err != nil {
			return err
		}
		d.logger.Info("notification delivered",
			"notification_id", n.ID,
			"target_id", n.TargetID,
			"kind", string(n.TargetKind),
			"status_code", result.StatusCode,
		)
		return nil
	}

	d.metrics.RecordDelivery(ctx, n.TargetKind, core.ResultFailure)
	reason := result.FailureReason
	if reason == "" {
		reason = deliverErr.Error()
	}
	if !result.Retryable {
		if err := d.queue.MarkFailed(ctx, n.ID, reason); err != nil {
			return errors.Join(deliverErr, err)
		}
		return deliverErr
	}
	return d.retryOrFail(ctx, n, reason, deliverErr)
}

// recordConfigFailure appends an audit row for a failure that happened after
// the target was resolved but before any webhook call. The dashboard reports
// on history, so these outcomes must not vanish from it. No request went out
// and no HTTP conversation exists; the row carries only the target snapshot
// and the failure reason.
func (d *Dispatcher) recordConfigFailure(ctx context.Context, n *types.ScheduledNotification, target *types.Target, reason string) {
	payload, err := json.Marshal(map[string]string{"error": reason})
	if err != nil {
		payload = nil
	}
	rec := &types.DeliveryRecord{
		AccountID:       n.AccountID,
		TargetID:        n.TargetID,
		Kind:            n.TargetKind,
		TargetName:      target.Name,
		TargetPhone:     target.Phone,
		TemplateID:      n.TemplateID,
		WebhookKind:     d.channel.Kind(),
		ResponsePayload: payload,
		Success:         false,
	}
	if histErr := d.history.Record(ctx, rec); histErr != nil {
		d.logger.Error("failed to record delivery history",
			"notification_id", n.ID,
			"error", histErr.Error(),
		)
	}
}

// failBeforeSend closes out a row whose delivery could not even start. No
// history row is written here; callers with a resolved target record the
// failure via recordConfigFailure first.
func (d *Dispatcher) failBeforeSend(ctx context.Context, n *types.ScheduledNotification, reason string, cause error) error {
	d.logger.Warn("notification not deliverable",
		"notification_id", n.ID,
		"reason", reason,
	)
	if err := d.queue.MarkFailed(ctx, n.ID, reason); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// retryOrFail parks the row for the sweeper when attempts remain, otherwise
// fails it permanently. Backoff doubles per attempt from the configured base.
func (d *Dispatcher) retryOrFail(ctx context.Context, n *types.ScheduledNotification, reason string, cause error) error {
	if n.AttemptCount >= d.maxAttempts {
		d.logger.Warn("notification failed permanently",
			"notification_id", n.ID,
			"attempts", n.AttemptCount,
			"reason", reason,
		)
		if err := d.queue.MarkFailed(ctx, n.ID, reason); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}

	// AttemptCount is at least 1 once claimed; guard anyway so a bad row
	// cannot produce a negative shift.
	backoff := d.retryBackoff
	if n.AttemptCount > 1 {
		backoff = d.retryBackoff << (n.AttemptCount - 1)
	}
	nextRetry := d.clock.Now().Add(backoff)
	d.logger.Info("notification scheduled for retry",
		"notification_id", n.ID,
		"attempt", n.AttemptCount,
		"next_retry_at", nextRetry,
	)
	if err := d.queue.MarkRetrying(ctx, n.ID, reason, nextRetry); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
