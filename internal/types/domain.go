package types

import (
	"encoding/json"
	"time"
)

// Account represents a billable tenant that owns targets, templates, and
// automation rules. The WhatsApp instance identifier is the account's
// outbound-channel identity; delivery fails closed when it is empty.
type Account struct {
	ID           string      `json:"id" db:"id"`
	Name         string      `json:"name" db:"name"`
	Email        string      `json:"email" db:"email"`
	Role         AccountRole `json:"role" db:"role"`
	InstanceName string      `json:"instance_name,omitempty" db:"instance_name"`
	PixKey       string      `json:"pix_key,omitempty" db:"pix_key"`
	BalanceCents int64       `json:"balance_cents" db:"balance_cents"`

	// API token credentials. The prefix is the searchable half of the
	// token ("dp_<prefix>_<secret>"); the secret half is stored only as a
	// bcrypt hash.
	APIKeyPrefix string `json:"-" db:"api_key_prefix"`
	APIKeyHash   string `json:"-" db:"api_key_hash"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time  `json:"-" db:"deleted_at"`
}

// Target is the unified view of a billable recipient. Clients and subscribers
// live in parallel tables but share the fields the notification pipeline
// needs: contact info, billing amounts, and the due date that automation
// offsets are computed against.
type Target struct {
	ID        string     `json:"id" db:"id"`
	AccountID string     `json:"account_id" db:"account_id"`
	Kind      TargetKind `json:"kind" db:"-"`

	Name  string `json:"name" db:"name"`
	Phone string `json:"phone" db:"phone"`
	Email string `json:"email,omitempty" db:"email"`

	PlanName    string       `json:"plan_name" db:"plan_name"`
	AmountCents int64        `json:"amount_cents" db:"amount_cents"`
	DueDate     time.Time    `json:"due_date" db:"due_date"`
	Status      TargetStatus `json:"status" db:"status"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// AutomationRule maps a billing-date offset and a time-of-day to a message
// template and an audience. Rules are edited wholesale from the dashboard:
// the target list is replaced, never patched.
type AutomationRule struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	Name      string `json:"name" db:"name"`

	// DaysOffset is relative to the target's due date; negative values
	// schedule before the due date (e.g. -1 = one day before).
	DaysOffset int `json:"days_offset" db:"days_offset"`

	// ScheduledTime is the UTC time-of-day in "HH:MM" form.
	ScheduledTime string `json:"scheduled_time" db:"scheduled_time"`

	TemplateID string     `json:"template_id" db:"template_id"`
	Audience   TargetKind `json:"audience" db:"audience"`
	TargetIDs  []string   `json:"target_ids" db:"target_ids"`
	Active     bool       `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ScheduledNotification is one concrete, time-stamped delivery obligation
// derived from a rule and a target. At most one non-terminal row exists per
// (automation_id, target_id, send date); a unique index enforces it and the
// projector upserts with DO NOTHING.
//
// Status transitions are forward-only:
//
//	pending -> processing -> sent
//	pending -> processing -> retrying -> pending (sweeper, bounded)
//	pending -> processing -> failed (terminal)
type ScheduledNotification struct {
	ID           string     `json:"id" db:"id"`
	AccountID    string     `json:"account_id" db:"account_id"`
	TargetID     string     `json:"target_id" db:"target_id"`
	TargetKind   TargetKind `json:"target_kind" db:"target_kind"`
	AutomationID string     `json:"automation_id" db:"automation_id"`
	TemplateID   string     `json:"template_id" db:"template_id"`

	SendAt time.Time          `json:"send_at" db:"send_at"`
	Status NotificationStatus `json:"status" db:"status"`

	// Retry bookkeeping. AttemptCount counts delivery attempts; once it
	// reaches the configured cap the row transitions to failed instead of
	// retrying. NextRetryAt is only set while status is retrying.
	AttemptCount  int        `json:"attempt_count" db:"attempt_count"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty" db:"next_retry_at"`
	FailureReason string     `json:"failure_reason,omitempty" db:"failure_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MessageTemplate holds the raw message body with {{placeholder}} tokens.
// Rendering substitutes only the enumerated placeholder set; unknown tokens
// pass through verbatim.
type MessageTemplate struct {
	ID        string       `json:"id" db:"id"`
	AccountID string       `json:"account_id" db:"account_id"`
	Name      string       `json:"name" db:"name"`
	Content   string       `json:"content" db:"content"`
	Type      TemplateType `json:"type" db:"type"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// DeliveryRecord is an immutable audit row capturing one delivery attempt's
// inputs and outputs. The target's display name and phone are snapshot at
// write time so history stays meaningful after the target row is deleted.
type DeliveryRecord struct {
	ID        string     `json:"id" db:"id"`
	AccountID string     `json:"account_id" db:"account_id"`
	TargetID  string     `json:"target_id" db:"target_id"`
	Kind      TargetKind `json:"target_kind" db:"-"`

	TargetName  string `json:"target_name" db:"target_name"`
	TargetPhone string `json:"target_phone" db:"target_phone"`
	TemplateID  string `json:"template_id" db:"template_id"`
	WebhookKind string `json:"webhook_kind" db:"webhook_kind"`

	RequestPayload  json.RawMessage `json:"request_payload" db:"request_payload"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty" db:"response_payload"`
	StatusCode      int             `json:"status_code" db:"status_code"`
	Success         bool            `json:"success" db:"success"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DeliveryHistoryFilter defines filtering for history queries.
type DeliveryHistoryFilter struct {
	AccountID string     `json:"account_id"`
	Kind      TargetKind `json:"target_kind,omitempty"`
	TargetID  string     `json:"target_id,omitempty"`
	Success   *bool      `json:"success,omitempty"`
	Since     time.Time  `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Cursor    string     `json:"cursor,omitempty"`
}

// WebhookEndpoint is the versioned, admin-managed outbound channel
// configuration. The dispatcher receives the active endpoint for its kind at
// call time; it never reads a singleton row ad hoc.
type WebhookEndpoint struct {
	ID        string    `json:"id" db:"id"`
	Kind      string    `json:"kind" db:"kind"`
	URL       string    `json:"url" db:"url"`
	Version   int       `json:"version" db:"version"`
	Active    bool      `json:"active" db:"active"`
	UpdatedBy string    `json:"updated_by" db:"updated_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PixCharge records one charge created against a PIX payment provider.
// Provider request/response shapes are opaque; only the fields the dashboard
// needs are lifted out of the stored payload.
type PixCharge struct {
	ID               string       `json:"id" db:"id"`
	AccountID        string       `json:"account_id" db:"account_id"`
	TargetID         string       `json:"target_id,omitempty" db:"target_id"`
	Provider         string       `json:"provider" db:"provider"`
	ProviderChargeID string       `json:"provider_charge_id" db:"provider_charge_id"`
	AmountCents      int64        `json:"amount_cents" db:"amount_cents"`
	Status           ChargeStatus `json:"status" db:"status"`
	QRCode           string       `json:"qr_code,omitempty" db:"qr_code"`

	ProviderPayload json.RawMessage `json:"-" db:"provider_payload"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}

// ScheduleEntry is one submitted instant in a schedule-replace request,
// after validation. The caller performs the day/offset arithmetic in its own
// timezone and submits absolute UTC instants.
type ScheduleEntry struct {
	TargetID   string     `json:"target_id"`
	TargetKind TargetKind `json:"target_kind"`
	TemplateID string     `json:"template_id"`
	SendAt     time.Time  `json:"send_at"`
}

// SkippedEntry describes a schedule-replace entry that failed validation and
// was excluded from the replacement set.
type SkippedEntry struct {
	Index  int    `json:"index"`
	SendAt string `json:"send_at,omitempty"`
	Reason string `json:"reason"`
}

// DeliveryResult tracks the outcome of one outbound channel call. The channel
// returns it even on failure so the caller can always write an audit row with
// the exact request bytes that went over the wire.
type DeliveryResult struct {
	RequestPayload json.RawMessage
	StatusCode     int
	ResponseBody   json.RawMessage
	FailureReason  string
	Retryable      bool
}

// JobRun tracks scheduled job execution history.
type JobRun struct {
	ID         int64           `json:"id" db:"id"`
	JobType    string          `json:"job_type" db:"job_type"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at" db:"finished_at"`
	Status     string          `json:"status" db:"status"`
	ItemsCount int             `json:"items_count" db:"items_count"`
	Error      string          `json:"error,omitempty" db:"error"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
}
