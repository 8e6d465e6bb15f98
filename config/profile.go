package config

import (
	"slices"
	"time"
)

// ModeProfile is the default parameter set of a crawl mode.
type ModeProfile struct {
	Keywords           []string
	CaptureContext     bool
	FilterNoise        bool
	ShortCircuit       bool
	Delay              time.Duration
	CheckpointInterval int
	Timeout            time.Duration
	Settle             time.Duration
	HarvestLinks       bool
	BlockedResources   []string
}

var profiles = map[string]ModeProfile{
	ModeThorough: {
		Keywords: []string{
			"project appraisal document",
			"appraisal document",
			"Project Appraisal",
			"appraisal report",
			"project document",
			"appraisal study",
		},
		CaptureContext:     true,
		FilterNoise:        true,
		Delay:              time.Second,
		CheckpointInterval: 50,
		Timeout:            60 * time.Second,
		Settle:             5 * time.Second,
		HarvestLinks:       true,
		BlockedResources:   []string{"Image", "Font", "Media"},
	},
	ModeFast: {
		Keywords:           []string{"appraisal report", "project appraisal document"},
		ShortCircuit:       true,
		Delay:              500 * time.Millisecond,
		CheckpointInterval: 25,
		Timeout:            30 * time.Second,
		Settle:             2 * time.Second,
		BlockedResources:   []string{"Image", "Font", "Media", "Stylesheet"},
	},
}

// Profile returns the defaults for mode. Unknown modes get the thorough
// profile; Validate rejects them separately.
func Profile(mode string) ModeProfile {
	p, ok := profiles[mode]
	if !ok {
		p = profiles[ModeThorough]
	}
	p.Keywords = slices.Clone(p.Keywords)
	p.BlockedResources = slices.Clone(p.BlockedResources)
	return p
}

// DefaultNoiseTerms are layout and styling tokens that mark a keyword hit as
// stylesheet text rather than page content.
func DefaultNoiseTerms() []string {
	return []string{"padding", "margin", "border", "background", "color", "font"}
}

// DefaultHarvestTerms are the words that make an anchor's text document-like.
func DefaultHarvestTerms() []string {
	return []string{"appraisal", "report", "document", "pad"}
}
