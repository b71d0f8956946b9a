// Package models holds the domain types shared across the queue and
// delivery engine. Types here are persisted as-is by internal/db; no
// package outside models and db should construct SQL against them.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the tenant lifecycle.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectSuspended ProjectStatus = "suspended"
)

// Project is the tenant record. Created externally; read-only to the
// engine except via the admin control plane.
type Project struct {
	ID                  uuid.UUID
	Name                string
	OwnerEmail          string
	Status              ProjectStatus
	MonthlyLimit        *int
	RateLimitPerMinute  *int
	CreatedAt           time.Time
}

func (p *Project) IsSuspended() bool {
	return p.Status == ProjectSuspended
}

// ChannelType is the delivery channel of a message.
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelSMS      ChannelType = "sms"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelPush     ChannelType = "push"
)

func (c ChannelType) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush:
		return true
	}
	return false
}

// MessageStatus is the delivery lifecycle. Delivered, Failed, and Dead
// are terminal: a message in any of those never transitions again.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
	MessageDead      MessageStatus = "dead"
)

func (s MessageStatus) Terminal() bool {
	switch s {
	case MessageDelivered, MessageFailed, MessageDead:
		return true
	}
	return false
}

const DefaultMaxAttempts = 3

// Message is one delivery attempt-group.
type Message struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	Type           ChannelType
	Status         MessageStatus
	FromAddress    string
	ToAddress      string
	Subject        *string
	Body           string
	Metadata       json.RawMessage
	IdempotencyKey *string
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  *time.Time
	ScheduledFor   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (m *Message) ClaimableAt(now time.Time) bool {
	if m.Status != MessageQueued {
		return false
	}
	return m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)
}

// EventType enumerates the append-only timeline entries recorded
// against a message.
type EventType string

const (
	EventRequested EventType = "requested"
	EventQueued    EventType = "queued"
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventFailed    EventType = "failed"
	EventBounced   EventType = "bounced"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventDead      EventType = "dead"
	EventSkipped   EventType = "skipped"
)

// Event is a single append-only observation of a message's lifecycle.
type Event struct {
	ID              uuid.UUID
	MessageID       uuid.UUID
	ProjectID       uuid.UUID
	EventType       EventType
	ProviderPayload json.RawMessage
	CreatedAt       time.Time
}

// UsageBucket is the per-project, per-month, per-channel delivery
// counter. Only incremented on successful delivery.
type UsageBucket struct {
	ID          int64
	ProjectID   uuid.UUID
	Period      string // "YYYY-MM"
	MessageType ChannelType
	Count       int64
}

// RateBucket is the per-project, per-minute admission counter backing
// the durable rate limiter. Disposable after one hour.
type RateBucket struct {
	ID           int64
	ProjectID    uuid.UUID
	MinuteWindow time.Time
	Count        int
}

// AdminEventType enumerates control-plane audit actions. Out of core;
// recorded by the admin package only.
type AdminEventType string

const (
	AdminEventProjectSuspended  AdminEventType = "project_suspended"
	AdminEventProjectReactivate AdminEventType = "project_reactivated"
	AdminEventAPIKeyRevoked     AdminEventType = "api_key_revoked"
)

// AdminEvent is the audit log for control-plane writes.
type AdminEvent struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	EventType AdminEventType
	Actor     string
	CreatedAt time.Time
}

// APIKey is a hashed bearer credential scoped to one project.
type APIKey struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	KeyHash    string
	Name       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

func (k *APIKey) Active() bool {
	return k.RevokedAt == nil
}
