package domain

import "time"

// ItemRecord is one catalog entry enriched with taxonomy classification.
// Immutable once validated; persisted as a graph node keyed by Identifier.
type ItemRecord struct {
	Identifier       string `json:"identifier"`
	RawDisplayName   string `json:"raw_display_name"`
	CanonicalName    string `json:"canonical_name"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	Tier             int    `json:"tier"`
	EnchantmentLevel int    `json:"enchantment_level"`
	TypeLabel        string `json:"type_label"`
}

// ReasonValidationFailedPrefix starts the reason of every record downgraded
// because the validation call itself failed, as opposed to items no city
// trades. The coordinator keys its congestion heuristic on this prefix, so
// producers and consumers must share it.
const ReasonValidationFailedPrefix = "validation failed"

// ValidationResult gates whether an ItemRecord is written to the graph.
// Derived per cycle from market observations; never persisted standalone.
type ValidationResult struct {
	Identifier       string `json:"identifier"`
	IsValid          bool   `json:"is_valid"`
	ActiveCityCount  int    `json:"active_city_count"`
	MaxObservedPrice int64  `json:"max_observed_price"`
	Reason           string `json:"reason,omitempty"`
}

// BatchCheckpoint is the sole durable cross-run state. A checkpoint whose
// TotalItems differs from the current run is stale and must be ignored.
type BatchCheckpoint struct {
	RunID                string    `json:"run_id"`
	SavedAt              time.Time `json:"saved_at"`
	LastProcessedIndex   int       `json:"last_processed_index"`
	TotalItems           int       `json:"total_items"`
	ValidCount           int       `json:"valid_count"`
	NeedsValidationCount int       `json:"needs_validation_count"`
	ErrorCount           int       `json:"error_count"`
}

// NeedsValidation pairs an identifier with the reason it was not validated.
type NeedsValidation struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}
