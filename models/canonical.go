package models

// PadStatus is the reconciled PAD availability of a project.
type PadStatus string

const (
	PadYes     PadStatus = "Yes"
	PadNo      PadStatus = "No"
	PadUnknown PadStatus = "Unknown"
)

// StatusOf maps a has_pad flag to its status.
func StatusOf(hasPAD bool) PadStatus {
	if hasPAD {
		return PadYes
	}
	return PadNo
}

// CanonicalRecord is the single reconciled status of one project after merging.
type CanonicalRecord struct {
	ProjectID       string    `json:"project_id"`
	URL             string    `json:"url"`
	Status          PadStatus `json:"pad_status"`
	EvidenceSummary string    `json:"evidence_summary"`

	// Source names the result source that decided the status; empty for Unknown.
	Source string `json:"source,omitempty"`
}
