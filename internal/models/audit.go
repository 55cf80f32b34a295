package models

import "time"

// AuditEntry is one executed command recorded for later inspection.
type AuditEntry struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Chamber    int       `json:"chamber"`
	Command    string    `json:"command"`
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
}
