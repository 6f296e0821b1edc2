package model

import "time"

// APIKeyUsage is one audit row per gated request made with an API key.
// Rows are insert-only.
type APIKeyUsage struct {
	ID                  string    `json:"id" db:"id"`
	APIKeyID            string    `json:"api_key_id" db:"api_key_id"`
	RequestID           string    `json:"request_id,omitempty" db:"request_id"`
	Timestamp           time.Time `json:"timestamp" db:"timestamp"`
	Endpoint            string    `json:"endpoint" db:"endpoint"`
	Method              string    `json:"method" db:"method"`
	StatusCode          int       `json:"status_code" db:"status_code"`
	ClientIP            string    `json:"client_ip" db:"client_ip"`
	UserAgent           string    `json:"user_agent" db:"user_agent"`
	ResponseTimeSeconds float64   `json:"response_time_seconds" db:"response_time_seconds"`
	Error               *string   `json:"error,omitempty" db:"error"`
}

// UsageFilter selects a page of usage history for one key. Zero From/To
// leave that side of the range open.
type UsageFilter struct {
	APIKeyID string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// UsagePage is a page of usage rows plus the total matching the filter.
type UsagePage struct {
	Items []APIKeyUsage `json:"items"`
	Total int64         `json:"total"`
}

// RateLimitStatus is the client-visible view of a key's current window.
type RateLimitStatus struct {
	APIKeyID   string `json:"api_key_id"`
	Endpoint   string `json:"endpoint"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	Reset      int64  `json:"reset"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Degraded   bool   `json:"degraded,omitempty"`
}
