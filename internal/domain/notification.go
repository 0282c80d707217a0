package domain

import "time"

// Channel is the delivery channel for a notification.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
	ChannelInApp   Channel = "in-app"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelWebhook, ChannelSlack, ChannelInApp:
		return true
	}
	return false
}

// Priority controls lane ordering. Critical is drained first, low last.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Priorities lists all lanes in strict drain order.
var Priorities = []Priority{
	PriorityCritical,
	PriorityUrgent,
	PriorityHigh,
	PriorityNormal,
	PriorityLow,
}

func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status tracks the lifecycle of a notification. Transitions are forward-only:
// queued → processing → {sent → delivered | failed}, or queued → cancelled.
// The single allowed loopback is processing → queued when a failed attempt is
// rescheduled for retry.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Type is the business kind of a notification. Used to select retry
// strategies and templates; the core does not interpret it further.
type Type string

const (
	TypeAppointmentReminder Type = "appointment_reminder"
	TypeLabResultReady      Type = "lab_result_ready"
	TypePrescriptionRefill  Type = "prescription_refill"
	TypeAccountSecurity     Type = "account_security"
	TypeSystemAlert         Type = "system_alert"
	TypeGeneric             Type = "generic"
)

// Content is either a rendered body or a template reference. When Template
// is set the dispatcher renders it before handing the notification to a sender.
type Content struct {
	Subject  string         `json:"subject,omitempty"`
	Text     string         `json:"text,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Template string         `json:"template,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// DeliveryError is one failed attempt, kept on the notification in order.
type DeliveryError struct {
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Notification is the core domain entity.
type Notification struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	Channel       Channel         `json:"channel"`
	Recipient     string          `json:"recipient"`
	Content       Content         `json:"content"`
	Priority      Priority        `json:"priority"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	Errors        []DeliveryError `json:"errors,omitempty"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	ScheduledAt   *time.Time      `json:"scheduled_at,omitempty"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	ProviderMsgID *string         `json:"provider_msg_id,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SubmitRequest is the inbound payload for a single notification.
type SubmitRequest struct {
	Type        Type       `json:"type"`
	Channel     Channel    `json:"channel"`
	Recipient   string     `json:"recipient"`
	Content     Content    `json:"content"`
	Priority    Priority   `json:"priority"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

func (r *SubmitRequest) Validate() error {
	if !r.Channel.IsValid() {
		return ErrInvalidChannel
	}
	if !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if r.Recipient == "" {
		return ErrInvalidRecipient
	}
	if r.Content.Template == "" && r.Content.Text == "" && r.Content.HTML == "" {
		return ErrInvalidContent
	}
	if r.MaxAttempts < 0 {
		return ErrInvalidMaxAttempts
	}
	return nil
}

// ListFilter holds query parameters for paginated notification listing.
type ListFilter struct {
	Status  *Status
	Channel *Channel
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}
