package types

// TargetKind distinguishes the two recipient audiences, which live in
// parallel tables (clients, subscribers) with parallel history tables.
type TargetKind string

const (
	KindClient     TargetKind = "client"
	KindSubscriber TargetKind = "subscriber"
)

// Valid reports whether k is a known audience kind.
func (k TargetKind) Valid() bool {
	return k == KindClient || k == KindSubscriber
}

// TargetStatus represents the billing lifecycle state of a target.
// Only active and overdue targets are eligible for scheduled messages.
type TargetStatus string

const (
	TargetActive   TargetStatus = "active"
	TargetInactive TargetStatus = "inactive"
	TargetOverdue  TargetStatus = "overdue"
)

// Eligible reports whether a target in this status receives notifications.
func (s TargetStatus) Eligible() bool {
	return s == TargetActive || s == TargetOverdue
}

// NotificationStatus enumerates the states of a ScheduledNotification.
// These values MUST match the CHECK constraint on scheduled_notifications.
type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationProcessing NotificationStatus = "processing"
	NotificationSent       NotificationStatus = "sent"
	NotificationRetrying   NotificationStatus = "retrying"
	NotificationFailed     NotificationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s NotificationStatus) Terminal() bool {
	return s == NotificationSent || s == NotificationFailed
}

// TemplateType categorizes message templates for the dashboard's filters.
type TemplateType string

const (
	TemplateReminder     TemplateType = "reminder"
	TemplateOverdue      TemplateType = "overdue"
	TemplateConfirmation TemplateType = "confirmation"
	TemplateCustom       TemplateType = "custom"
)

// AccountRole defines authorization levels. Admins may view and act across
// all accounts; users are scoped to their own data.
type AccountRole string

const (
	RoleUser  AccountRole = "user"
	RoleAdmin AccountRole = "admin"
)

// ChargeStatus represents the state of a PIX charge.
type ChargeStatus string

const (
	ChargePending  ChargeStatus = "pending"
	ChargePaid     ChargeStatus = "paid"
	ChargeExpired  ChargeStatus = "expired"
	ChargeCanceled ChargeStatus = "canceled"
)

// WebhookKindWhatsApp is the outbound endpoint kind for the messaging channel.
const WebhookKindWhatsApp = "whatsapp"

// MetricNamespace is the CloudWatch namespace for all pipeline metrics.
const MetricNamespace = "DuePoint"

// Metric names emitted by the delivery pipeline.
const (
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricQueueDepth      = "QueueDepth"
)

// Metric dimension names.
const (
	DimKind   = "Audience"
	DimResult = "Result"
)
