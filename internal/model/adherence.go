package model

import "github.com/google/uuid"

// AdherenceSummary is derived from dose logs and never persisted.
type AdherenceSummary struct {
	Total         int     `json:"total"`
	Taken         int     `json:"taken"`
	Missed        int     `json:"missed"`
	AdherenceRate float64 `json:"adherence_rate"`
}

type MedicationAdherence struct {
	MedicationID uuid.UUID `json:"medication_id"`
	AdherenceSummary
}
