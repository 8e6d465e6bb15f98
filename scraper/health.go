package scraper

import (
	"math"
	"time"
)

// Retirement thresholds for pooled pages. Long crawls reuse a handful of
// tabs thousands of times; a tab that keeps failing or has served many
// projects is replaced with a fresh one.
const (
	retireErrScore = 3.0
	retireUses     = 50
	retireAge      = 50 * time.Minute
)

// pageHealth tracks one pooled page. It is only touched by the tab that
// currently holds the page.
type pageHealth struct {
	uses     int
	errScore float64
	created  time.Time
	stealth  bool
	now      func() time.Time
}

func newPageHealth() *pageHealth {
	return &pageHealth{created: time.Now(), now: time.Now}
}

func (h *pageHealth) recordSuccess() {
	h.uses++
	h.errScore = math.Max(0, h.errScore-0.5)
}

func (h *pageHealth) recordFailure() {
	h.uses++
	h.errScore += 1.0
}

func (h *pageHealth) shouldRetire() bool {
	return h.errScore >= retireErrScore ||
		h.uses >= retireUses ||
		h.now().Sub(h.created) >= retireAge
}
