package evidence

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/padcrawl/config"
)

func profileConfig(mode string) Config {
	p := config.Profile(mode)
	return Config{
		Keywords:       p.Keywords,
		NoiseTerms:     config.DefaultNoiseTerms(),
		ContextWidth:   100,
		MaxEvidence:    2,
		CaptureContext: p.CaptureContext,
		FilterNoise:    p.FilterNoise,
		ShortCircuit:   p.ShortCircuit,
	}
}

func newExtractor(t *testing.T, cfg Config) *Extractor {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

const stylesheetPage = `<html><head><style>
.appraisal report-banner { padding: 4px; margin: 0; color: #333; }
</style></head><body><p>hello world</p></body></html>`

const prosePage = `<html><body>
<p>The Project Appraisal Report was approved by the Board in 2019.</p>
</body></html>`

func TestExtract_NoiseFilter(t *testing.T) {
	e := newExtractor(t, profileConfig(config.ModeThorough))

	styled := e.Extract(stylesheetPage)
	assert.False(t, styled.HasEvidence, "stylesheet hit must be filtered")
	assert.Empty(t, styled.Evidence)
	assert.Zero(t, styled.Total)

	prose := e.Extract(prosePage)
	assert.True(t, prose.HasEvidence)
	require.NotEmpty(t, prose.Evidence)
	assert.Equal(t, "Project Appraisal", prose.Evidence[0].Keyword)
	assert.Contains(t, prose.Evidence[0].Context, "approved by the Board")
}

func TestExtract_FastModeDoesNotFilterNoise(t *testing.T) {
	e := newExtractor(t, profileConfig(config.ModeFast))
	res := e.Extract(stylesheetPage)
	assert.True(t, res.HasEvidence)
}

func TestExtract_ModesAgreeOnSharedKeywords(t *testing.T) {
	fast, thorough := profileConfig(config.ModeFast), profileConfig(config.ModeThorough)

	var shared []string
	for _, kw := range fast.Keywords {
		for _, other := range thorough.Keywords {
			if strings.EqualFold(kw, other) {
				shared = append(shared, kw)
			}
		}
	}
	require.NotEmpty(t, shared)
	fast.Keywords, thorough.Keywords = shared, shared

	pages := []string{
		prosePage,
		stylesheetPage,
		`<p>hello world</p>`,
		`<p>See the PROJECT APPRAISAL DOCUMENT (PAD) for details.</p>`,
		`<p>appraisal</p><p>report</p>`,
		`<li>Appraisal report</li><li>appraisal report annex</li>`,
		``,
	}
	for _, filter := range []bool{false, true} {
		fast.FilterNoise, thorough.FilterNoise = filter, filter
		fe, te := newExtractor(t, fast), newExtractor(t, thorough)
		for i, page := range pages {
			assert.Equal(t, te.Extract(page).HasEvidence, fe.Extract(page).HasEvidence,
				"page %d, noise filter %v", i, filter)
		}
	}
}

func TestExtract_CappingKeepsOutcome(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, "%s appraisal report %s\n",
			strings.Repeat(fmt.Sprintf("pre%d ", i), 25),
			strings.Repeat(fmt.Sprintf("post%d ", i), 25))
	}
	text := b.String()

	capped := profileConfig(config.ModeThorough)
	uncapped := capped
	uncapped.MaxEvidence = 0

	c := newExtractor(t, capped).Extract(text)
	u := newExtractor(t, uncapped).Extract(text)

	assert.Equal(t, u.HasEvidence, c.HasEvidence)
	assert.Equal(t, u.Total, c.Total)
	assert.Len(t, c.Evidence, 2)
	assert.Greater(t, len(u.Evidence), 2)
	assert.Equal(t, u.Evidence[:2], c.Evidence)

	negative := capped
	negative.MaxEvidence = -1
	assert.Equal(t, u.Evidence, newExtractor(t, negative).Extract(text).Evidence)
}

func TestExtract_FastModeCountsAndStops(t *testing.T) {
	e := newExtractor(t, profileConfig(config.ModeFast))
	text := "An Appraisal Report. Another appraisal report. The project appraisal document."

	res := e.Extract(text)
	require.True(t, res.HasEvidence)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, 2, res.Total)

	m := res.Evidence[0]
	assert.Equal(t, "appraisal report", m.Keyword)
	assert.Equal(t, 2, m.Count)
	assert.Empty(t, m.Context)
	assert.Equal(t, 3, m.Position)
	assert.Equal(t, "Found 'appraisal report' 2 times", m.String())
}

func TestExtract_ContextWindow(t *testing.T) {
	tests := []struct {
		name  string
		width int
		text  string
		want  string
	}{
		{
			name:  "bounded",
			width: 10,
			text:  "0123456789ABCDEFGHIJappraisal reportKLMNOPQRSTUVWXYZ",
			want:  "ABCDEFGHIJappraisal reportKLMNOPQRST",
		},
		{
			name:  "newlines collapse",
			width: 100,
			text:  "line one\n\n\nappraisal report\r\nline two\n",
			want:  "line one appraisal report line two",
		},
		{
			name:  "multibyte runes",
			width: 3,
			text:  "ééééé appraisal report",
			want:  "éé appraisal report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newExtractor(t, Config{
				Keywords:       []string{"appraisal report"},
				ContextWidth:   tt.width,
				CaptureContext: true,
			})
			res := e.Extract(tt.text)
			require.Len(t, res.Evidence, 1)
			assert.Equal(t, tt.want, res.Evidence[0].Context)
		})
	}
}

func TestExtract_KeywordOrder(t *testing.T) {
	e := newExtractor(t, Config{
		Keywords:       []string{"appraisal study", "appraisal report"},
		ContextWidth:   5,
		CaptureContext: true,
	})
	res := e.Extract("first the appraisal report, later the appraisal study")
	require.Len(t, res.Evidence, 2)
	assert.Equal(t, "appraisal study", res.Evidence[0].Keyword)
	assert.Equal(t, "appraisal report", res.Evidence[1].Keyword)
}

func TestExtract_SuppressesRepeatedSnippets(t *testing.T) {
	filler := strings.Repeat("lorem ipsum dolor sit amet ", 6)
	text := strings.Repeat(filler+"the appraisal report for the road project ", 3)

	cfg := profileConfig(config.ModeThorough)
	cfg.MaxEvidence = 0
	res := newExtractor(t, cfg).Extract(text)

	assert.Equal(t, 3, res.Total)
	assert.Less(t, len(res.Evidence), 3)
	assert.True(t, res.HasEvidence)
}

func TestExtract_NoMatch(t *testing.T) {
	e := newExtractor(t, profileConfig(config.ModeThorough))
	res := e.Extract("hello world")
	assert.False(t, res.HasEvidence)
	assert.Empty(t, res.Evidence)
}

func TestNew_RequiresKeywords(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Keywords: []string{"  "}})
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("the quick brown fox jumps over the lazy dog")
	assert.Equal(t, a, Fingerprint("The Quick Brown Fox jumps over the lazy dog"))
	assert.Zero(t, Fingerprint(""))

	b := Fingerprint("completely unrelated content about quantum physics and mathematics")
	assert.GreaterOrEqual(t, Distance(a, b), 5)
}
