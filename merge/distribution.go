package merge

import (
	"fmt"
	"io"

	"github.com/use-agent/padcrawl/models"
)

// Share is a count and its percentage of a population.
type Share struct {
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Distribution reports how canonical statuses are spread, over all records
// and over analysed records (Yes or No) only.
type Distribution struct {
	Total      int                        `json:"total"`
	Analysed   int                        `json:"analysed"`
	All        map[models.PadStatus]Share `json:"all"`
	OfAnalysed map[models.PadStatus]Share `json:"of_analysed"`
}

// Distribute computes the status distribution of canon.
func Distribute(canon []models.CanonicalRecord) Distribution {
	counts := make(map[models.PadStatus]int)
	for _, c := range canon {
		counts[c.Status]++
	}
	analysed := counts[models.PadYes] + counts[models.PadNo]

	d := Distribution{
		Total:      len(canon),
		Analysed:   analysed,
		All:        make(map[models.PadStatus]Share),
		OfAnalysed: make(map[models.PadStatus]Share),
	}
	for status, n := range counts {
		d.All[status] = Share{Count: n, Percent: percent(n, len(canon))}
		if status != models.PadUnknown {
			d.OfAnalysed[status] = Share{Count: n, Percent: percent(n, analysed)}
		}
	}
	return d
}

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

var statusOrder = []models.PadStatus{models.PadYes, models.PadNo, models.PadUnknown}

// Print writes a human-readable report.
func (d Distribution) Print(w io.Writer) {
	fmt.Fprintf(w, "Total projects: %d\n", d.Total)
	fmt.Fprintf(w, "Projects with analysis: %d\n", d.Analysed)
	fmt.Fprintf(w, "Projects without analysis: %d\n", d.Total-d.Analysed)
	fmt.Fprintln(w, "\nPAD status distribution:")
	for _, s := range statusOrder {
		if sh, ok := d.All[s]; ok {
			fmt.Fprintf(w, "  %s: %d (%.1f%%)\n", s, sh.Count, sh.Percent)
		}
	}
	if d.Analysed == 0 {
		return
	}
	fmt.Fprintf(w, "\nAnalysed projects only (%d):\n", d.Analysed)
	for _, s := range statusOrder {
		if sh, ok := d.OfAnalysed[s]; ok {
			fmt.Fprintf(w, "  %s: %d (%.1f%%)\n", s, sh.Count, sh.Percent)
		}
	}
}
