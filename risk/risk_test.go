package risk

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/titlecheck/schema"
	"github.com/brunobiangulo/titlecheck/validator"
)

var testPolicy = Policy{
	Weights: map[validator.Class]float64{
		validator.TitleBreak:     10,
		validator.Encumbrance:    5,
		validator.Administrative: 1,
	},
	IndeterminateFactor: 0.5,
	Bands:               Bands{Medium: 5, High: 10, Critical: 15},
}

func finding(id string, c validator.Class, indeterminate bool) validator.Finding {
	return validator.Finding{
		RuleID:        id,
		Class:         c,
		Description:   id,
		Refs:          []validator.FieldRef{{DocType: schema.EC, DocumentID: "ec", Field: "f"}},
		Indeterminate: indeterminate,
	}
}

func randomFindings(rng *rand.Rand, n int) []validator.Finding {
	out := make([]validator.Finding, n)
	for i := range out {
		c := validator.Classes[rng.Intn(len(validator.Classes))]
		out[i] = finding(fmt.Sprintf("r%d", i), c, rng.Intn(3) == 0)
	}
	return out
}

func TestScoreBands(t *testing.T) {
	tests := []struct {
		name     string
		findings []validator.Finding
		score    float64
		band     Band
	}{
		{"none", nil, 0, Low},
		{"administrative", []validator.Finding{finding("a", validator.Administrative, false)}, 1, Low},
		{"encumbrance", []validator.Finding{finding("m", validator.Encumbrance, false)}, 5, Medium},
		{"title break", []validator.Finding{finding("o", validator.TitleBreak, false)}, 10, High},
		{"indeterminate halves", []validator.Finding{finding("o", validator.TitleBreak, true)}, 5, Medium},
		{"critical", []validator.Finding{
			finding("o", validator.TitleBreak, false),
			finding("m", validator.Encumbrance, false),
		}, 15, Critical},
		{"clamped", []validator.Finding{
			finding("o", validator.TitleBreak, false),
			finding("s", validator.TitleBreak, false),
			finding("e", validator.TitleBreak, false),
		}, 20, Critical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Score(tt.findings, testPolicy)
			assert.Equal(t, tt.score, a.Score)
			assert.Equal(t, tt.band, a.Band)
			assert.Len(t, a.Contributions, len(tt.findings))
		})
	}
}

func TestScoreMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		base := randomFindings(rng, rng.Intn(6))
		extra := randomFindings(rng, 1)[0]
		extra.RuleID = "extra"
		before := Score(base, testPolicy).Score
		after := Score(append(append([]validator.Finding(nil), base...), extra), testPolicy).Score
		require.GreaterOrEqual(t, after, before, "adding %s decreased score", extra.Class)
	}
}

func TestScoreAlwaysClamped(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		a := Score(randomFindings(rng, rng.Intn(40)), testPolicy)
		assert.GreaterOrEqual(t, a.Score, float64(MinScore))
		assert.LessOrEqual(t, a.Score, float64(MaxScore))
	}
}

func TestScoreReproducible(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	fs := randomFindings(rng, 12)
	want := Score(fs, testPolicy)

	shuffled := append([]validator.Finding(nil), fs...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	assert.Equal(t, want, Score(shuffled, testPolicy))

	for i := 1; i < len(want.Contributions); i++ {
		assert.GreaterOrEqual(t, want.Contributions[i-1].Weight, want.Contributions[i].Weight)
	}
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, testPolicy.Validate())

	tests := []struct {
		name   string
		mutate func(p *Policy)
		want   string
	}{
		{"missing class", func(p *Policy) { delete(p.Weights, validator.Encumbrance) }, "missing class"},
		{"negative", func(p *Policy) { p.Weights[validator.Administrative] = -1 }, "negative"},
		{"title break not above admin", func(p *Policy) { p.Weights[validator.TitleBreak] = 1 }, "must exceed"},
		{"unknown class", func(p *Policy) { p.Weights["cosmetic"] = 1 }, "unknown class"},
		{"factor", func(p *Policy) { p.IndeterminateFactor = 1.5 }, "indeterminate_factor"},
		{"bands order", func(p *Policy) { p.Bands.High = 3 }, "bands"},
		{"bands over max", func(p *Policy) { p.Bands.Critical = 25 }, "bands"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPolicy
			p.Weights = map[validator.Class]float64{}
			for k, v := range testPolicy.Weights {
				p.Weights[k] = v
			}
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.Error(t, Policy{}.Validate(), "zero policy must not validate")
}
