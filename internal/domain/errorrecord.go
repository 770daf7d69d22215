package domain

import "time"

// ErrorRecord is an append-only record of a collaborator failure and the
// recovery action taken for it.
type ErrorRecord struct {
	Timestamp   time.Time
	Category    ErrorCategory
	Message     string
	ActionTaken RecoveryAction
}
