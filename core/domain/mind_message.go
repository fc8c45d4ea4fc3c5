package domain

import (
	"strings"
	"time"
)

// =============================================================================
// Closed Classification Enums
// =============================================================================

// EmailCategory is the coarse mailbox category of a message.
type EmailCategory string

const (
	CategoryPrimary    EmailCategory = "primary"
	CategorySocial     EmailCategory = "social"
	CategoryPromotions EmailCategory = "promotions"
	CategoryUpdates    EmailCategory = "updates"
	CategoryForums     EmailCategory = "forums"
	CategorySpam       EmailCategory = "spam"
)

// Categories lists every valid category.
func Categories() []EmailCategory {
	return []EmailCategory{
		CategoryPrimary, CategorySocial, CategoryPromotions,
		CategoryUpdates, CategoryForums, CategorySpam,
	}
}

// Valid reports whether c is a known category.
func (c EmailCategory) Valid() bool {
	switch c {
	case CategoryPrimary, CategorySocial, CategoryPromotions,
		CategoryUpdates, CategoryForums, CategorySpam:
		return true
	}
	return false
}

// ParseCategory parses a category string (case-insensitive).
func ParseCategory(s string) (EmailCategory, bool) {
	c := EmailCategory(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// EmailPriority is the user-facing priority of a message.
type EmailPriority string

const (
	PriorityLow    EmailPriority = "low"
	PriorityNormal EmailPriority = "normal"
	PriorityHigh   EmailPriority = "high"
	PriorityUrgent EmailPriority = "urgent"
)

// Valid reports whether p is a known priority.
func (p EmailPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank orders priorities; higher is more important.
func (p EmailPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// ParsePriority parses a priority string (case-insensitive).
func ParsePriority(s string) (EmailPriority, bool) {
	p := EmailPriority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// =============================================================================
// Processing Stamps
// =============================================================================

// ProcessingStage marks completion of one pipeline stage for a message.
// The stamp set only ever grows; resumability depends on that.
type ProcessingStage string

const (
	StageRulesApplied ProcessingStage = "rules_applied"
	StageAnalyzed     ProcessingStage = "analyzed"
	StageDecided      ProcessingStage = "decided"
	StageLabelsPushed ProcessingStage = "labels_pushed"
)

// StampSet is the set of completed pipeline stages.
type StampSet map[ProcessingStage]bool

// Add stamps a stage. Adding an already-present stamp is a no-op.
func (s StampSet) Add(stage ProcessingStage) StampSet {
	if s == nil {
		s = make(StampSet)
	}
	s[stage] = true
	return s
}

// Has reports whether the stage is stamped.
func (s StampSet) Has(stage ProcessingStage) bool {
	return s != nil && s[stage]
}

// Merge unions other into s, preserving monotonic growth across upserts.
func (s StampSet) Merge(other StampSet) StampSet {
	if s == nil {
		s = make(StampSet)
	}
	for stage, ok := range other {
		if ok {
			s[stage] = true
		}
	}
	return s
}

// =============================================================================
// Message
// =============================================================================

// Address is a mail participant.
type Address struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
}

// Domain returns the lower-cased domain part of the address.
func (a Address) Domain() string {
	at := strings.LastIndex(a.Address, "@")
	if at < 0 || at == len(a.Address)-1 {
		return ""
	}
	return strings.ToLower(a.Address[at+1:])
}

// Message is the core mail entity. Created when a connector emits it,
// mutated only by pipeline stages, never destroyed.
type Message struct {
	ID         string    `json:"id"`          // opaque, stable internal ID
	ExternalID string    `json:"external_id"` // provider-assigned
	ThreadID   string    `json:"thread_id"`
	Sender     Address   `json:"sender"`
	Recipients []Address `json:"recipients"`

	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
	BodyHTML string `json:"body_html,omitempty"`

	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`

	IsRead          bool `json:"is_read"`
	IsFlagged       bool `json:"is_flagged"`
	HasAttachments  bool `json:"has_attachments"`
	AttachmentCount int  `json:"attachment_count"`

	Category         EmailCategory `json:"category"`
	CategoryInferred bool          `json:"category_inferred"` // defaulted, not classified
	Priority         EmailPriority `json:"priority"`

	Tags           []string `json:"tags,omitempty"`
	ProviderLabels []string `json:"provider_labels,omitempty"`

	Stamps StampSet `json:"processing_stamps,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Normalize enforces the always-set invariants: category defaults to
// primary (flagged as inferred) and priority defaults to normal.
func (m *Message) Normalize() {
	if !m.Category.Valid() {
		m.Category = CategoryPrimary
		m.CategoryInferred = true
	}
	if !m.Priority.Valid() {
		m.Priority = PriorityNormal
	}
	if m.Stamps == nil {
		m.Stamps = make(StampSet)
	}
}

// HasTag reports whether the tag is present.
func (m *Message) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds a tag preserving set semantics and insertion order.
func (m *Message) AddTag(tag string) {
	if tag == "" || m.HasTag(tag) {
		return
	}
	m.Tags = append(m.Tags, tag)
}

// RemoveTag removes a tag if present.
func (m *Message) RemoveTag(tag string) {
	for i, t := range m.Tags {
		if t == tag {
			m.Tags = append(m.Tags[:i], m.Tags[i+1:]...)
			return
		}
	}
}

// RecipientAddresses returns the bare recipient addresses.
func (m *Message) RecipientAddresses() []string {
	out := make([]string, len(m.Recipients))
	for i, r := range m.Recipients {
		out[i] = r.Address
	}
	return out
}

// AgeAt returns how long ago the message was received, relative to now.
func (m *Message) AgeAt(now time.Time) time.Duration {
	return now.Sub(m.ReceivedAt)
}
