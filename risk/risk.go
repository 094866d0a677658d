// Package risk maps findings to a weighted score and severity band.
package risk

import (
	"errors"
	"fmt"
	"sort"

	"github.com/brunobiangulo/titlecheck/validator"
)

const (
	MinScore = 0
	MaxScore = 20
)

// Band is a severity band.
type Band string

const (
	Low      Band = "low"
	Medium   Band = "medium"
	High     Band = "high"
	Critical Band = "critical"
)

// Bands holds the lower bound of each band above low.
type Bands struct {
	Medium   float64 `json:"medium" yaml:"medium"`
	High     float64 `json:"high" yaml:"high"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// Policy is the external weight table. It has no defaults: every value
// must be supplied and pass Validate.
type Policy struct {
	Weights map[validator.Class]float64 `json:"weights" yaml:"weights"`
	// IndeterminateFactor scales the weight of indeterminate findings.
	IndeterminateFactor float64 `json:"indeterminate_factor" yaml:"indeterminate_factor"`
	Bands               Bands   `json:"bands" yaml:"bands"`
}

// Validate reports every problem with the policy.
func (p Policy) Validate() error {
	var errs []error
	for _, c := range validator.Classes {
		w, ok := p.Weights[c]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("weights: missing class %q", c))
		case w < 0:
			errs = append(errs, fmt.Errorf("weights: class %q is negative (%v)", c, w))
		}
	}
	for c := range p.Weights {
		if !knownClass(c) {
			errs = append(errs, fmt.Errorf("weights: unknown class %q", c))
		}
	}
	if tb, ad := p.Weights[validator.TitleBreak], p.Weights[validator.Administrative]; tb <= ad {
		errs = append(errs, fmt.Errorf("weights: title-break (%v) must exceed administrative (%v)", tb, ad))
	}
	if p.IndeterminateFactor < 0 || p.IndeterminateFactor > 1 {
		errs = append(errs, fmt.Errorf("indeterminate_factor must be in [0, 1], got %v", p.IndeterminateFactor))
	}
	b := p.Bands
	if !(b.Medium > MinScore && b.Medium < b.High && b.High < b.Critical && b.Critical <= MaxScore) {
		errs = append(errs, fmt.Errorf("bands must satisfy 0 < medium < high < critical <= %d, got %v/%v/%v",
			MaxScore, b.Medium, b.High, b.Critical))
	}
	return errors.Join(errs...)
}

func knownClass(c validator.Class) bool {
	for _, k := range validator.Classes {
		if k == c {
			return true
		}
	}
	return false
}

// Band maps a score to its severity band.
func (p Policy) Band(score float64) Band {
	switch {
	case score < p.Bands.Medium:
		return Low
	case score < p.Bands.High:
		return Medium
	case score < p.Bands.Critical:
		return High
	default:
		return Critical
	}
}

// Weight returns the weight a finding contributes under the policy.
func (p Policy) Weight(f validator.Finding) float64 {
	w := p.Weights[f.Class]
	if f.Indeterminate {
		w *= p.IndeterminateFactor
	}
	return w
}

// Contribution is one finding with the weight it added.
type Contribution struct {
	Finding validator.Finding `json:"finding"`
	Weight  float64           `json:"weight"`
}

// Assessment is the scored result of a finding set.
type Assessment struct {
	Score         float64        `json:"score"`
	Band          Band           `json:"band"`
	RawScore      float64        `json:"raw_score"`
	Contributions []Contribution `json:"contributions"`
}

// Score sums the weights of findings, clamps to [0, 20] and assigns the
// band. The result depends only on the findings and the policy, never on
// input order.
func Score(findings []validator.Finding, p Policy) Assessment {
	contribs := make([]Contribution, len(findings))
	for i, f := range findings {
		contribs[i] = Contribution{Finding: f, Weight: p.Weight(f)}
	}
	sort.SliceStable(contribs, func(i, j int) bool {
		if contribs[i].Weight != contribs[j].Weight {
			return contribs[i].Weight > contribs[j].Weight
		}
		return contribs[i].Finding.Key() < contribs[j].Finding.Key()
	})

	// Sum in canonical order so float rounding is order independent.
	var raw float64
	for _, c := range contribs {
		raw += c.Weight
	}
	score := clamp(raw)
	return Assessment{
		Score:         score,
		Band:          p.Band(score),
		RawScore:      raw,
		Contributions: contribs,
	}
}

func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
