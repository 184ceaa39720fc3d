package entity

import "time"

// Disparadores de una transición de estado.
const (
	TriggerIssue      = "ISSUE"
	TriggerSubmit     = "SUBMIT"
	TriggerCancel     = "CANCEL"
	TriggerSubstitute = "SUBSTITUTE"
	TriggerQuery      = "QUERY"
	TriggerReconcile  = "RECONCILE"
)

// NfseEvent registro inmutable de una transición (auditoría y razonamiento de reenvíos).
type NfseEvent struct {
	ID         string
	NfseID     string
	FromStatus string
	ToStatus   string
	Trigger    string
	Detail     string
	OccurredAt time.Time
}
