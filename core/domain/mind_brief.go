package domain

import "time"

// DailyBrief is the generated narrative summary for one UTC date.
type DailyBrief struct {
	DateUTC       string                `json:"date_utc"` // YYYY-MM-DD
	TotalMessages int                   `json:"total_messages"`
	UnreadCount   int                   `json:"unread_count"`
	CategoryHist  map[EmailCategory]int `json:"category_histogram"`
	PriorityHist  map[EmailPriority]int `json:"priority_histogram"`

	Headline      string   `json:"headline"`
	Narrative     string   `json:"narrative"` // ~150-200 words
	ActionItems   []string `json:"action_items,omitempty"`
	Deadlines     []string `json:"deadlines,omitempty"`
	KeyCharacters []string `json:"key_characters,omitempty"`
	Themes        []string `json:"themes,omitempty"`

	EstimatedReadSeconds int       `json:"estimated_read_seconds"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// Stats is the storewide aggregate snapshot.
type Stats struct {
	TotalMessages int                   `json:"total_messages"`
	UnreadCount   int                   `json:"unread_count"`
	CategoryHist  map[EmailCategory]int `json:"category_histogram"`
	DecidedCount  int                   `json:"decided_count"`
	RuleCount     int                   `json:"rule_count"`
	FeedbackCount int                   `json:"feedback_count"`
}
