package domain

import "time"

// BuildInfo records the fingerprint a unit was last built with.
type BuildInfo struct {
	UnitID      string    `json:"unit_id,omitzero"`
	Fingerprint string    `json:"fingerprint,omitzero"`
	OutDir      string    `json:"out_dir,omitzero"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}
