package search

import (
	"fmt"
	"sort"

	"github.com/reqsift/reqsift/internal/store"
)

// Strategy selects the fusion scoring method.
type Strategy string

const (
	// StrategyRRF scores by rank position only:
	// score(c) = Σ over lists containing c of 1/(rank+k).
	StrategyRRF Strategy = "rrf"

	// StrategyWeighted scores by min-max-normalized raw scores:
	// score(c) = w_lex*norm(lexical) + w_vec*norm(vector), missing
	// sources contributing 0.
	StrategyWeighted Strategy = "weighted"
)

// DefaultRRFK is the standard RRF smoothing constant.
const DefaultRRFK = 60

// FusionConfig selects and parameterizes the fusion strategy.
type FusionConfig struct {
	Strategy Strategy `yaml:"strategy"`

	// RRFK is the smoothing constant for StrategyRRF.
	RRFK int `yaml:"rrf_k"`

	// LexWeight and VecWeight apply to StrategyWeighted and must sum
	// to 1.
	LexWeight float64 `yaml:"lex_weight"`
	VecWeight float64 `yaml:"vec_weight"`
}

// DefaultFusionConfig returns RRF with k=60 and balanced weights.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Strategy:  StrategyRRF,
		RRFK:      DefaultRRFK,
		LexWeight: 0.5,
		VecWeight: 0.5,
	}
}

// Validate checks the configuration for an enumerated strategy and
// coherent parameters.
func (c FusionConfig) Validate() error {
	switch c.Strategy {
	case StrategyRRF, StrategyWeighted:
	default:
		return fmt.Errorf("unknown fusion strategy %q (want %q or %q)", c.Strategy, StrategyRRF, StrategyWeighted)
	}
	if c.RRFK < 0 {
		return fmt.Errorf("rrf_k must be non-negative, got %d", c.RRFK)
	}
	if c.LexWeight < 0 || c.VecWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative, got lex=%v vec=%v", c.LexWeight, c.VecWeight)
	}
	if sum := c.LexWeight + c.VecWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("fusion weights must sum to 1, got %v", sum)
	}
	return nil
}

// Fuse combines the two source lists into one candidate list ordered
// descending by fused score, ties broken by ascending chunk ID. The
// ordering is fully deterministic for identical inputs; reranking and
// test fixtures depend on that. Chunks present in only one list score
// from that list alone.
func Fuse(lexical []*store.LexicalResult, vector []*store.VectorResult, config FusionConfig) []*Candidate {
	byID := make(map[string]*Candidate, len(lexical)+len(vector))

	for rank, r := range lexical {
		byID[r.ChunkID] = &Candidate{
			ChunkID: r.ChunkID,
			Lexical: &SourceScore{Score: r.Score, Rank: rank},
		}
	}
	for rank, r := range vector {
		c, ok := byID[r.ID]
		if !ok {
			c = &Candidate{ChunkID: r.ID}
			byID[r.ID] = c
		}
		c.Vector = &SourceScore{Score: float64(r.Score), Rank: rank}
	}

	candidates := make([]*Candidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}

	switch config.Strategy {
	case StrategyWeighted:
		scoreWeighted(candidates, lexical, vector, config)
	default:
		scoreRRF(candidates, config)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	for i, c := range candidates {
		c.Rank = i
	}
	return candidates
}

func scoreRRF(candidates []*Candidate, config FusionConfig) {
	k := config.RRFK
	if k <= 0 {
		k = DefaultRRFK
	}
	for _, c := range candidates {
		var score float64
		if c.Lexical != nil {
			score += 1 / float64(c.Lexical.Rank+1+k)
		}
		if c.Vector != nil {
			score += 1 / float64(c.Vector.Rank+1+k)
		}
		c.FusedScore = score
	}
}

// scoreWeighted min-max normalizes each list over its own result set,
// then combines. A single-element list normalizes to 1. Missing
// sources contribute 0.
func scoreWeighted(candidates []*Candidate, lexical []*store.LexicalResult, vector []*store.VectorResult, config FusionConfig) {
	lexMin, lexMax := lexicalScoreRange(lexical)
	vecMin, vecMax := vectorScoreRange(vector)

	for _, c := range candidates {
		var score float64
		if c.Lexical != nil {
			score += config.LexWeight * minMaxNormalize(c.Lexical.Score, lexMin, lexMax)
		}
		if c.Vector != nil {
			score += config.VecWeight * minMaxNormalize(c.Vector.Score, vecMin, vecMax)
		}
		c.FusedScore = score
	}
}

func lexicalScoreRange(results []*store.LexicalResult) (min, max float64) {
	for i, r := range results {
		if i == 0 || r.Score < min {
			min = r.Score
		}
		if i == 0 || r.Score > max {
			max = r.Score
		}
	}
	return min, max
}

func vectorScoreRange(results []*store.VectorResult) (min, max float64) {
	for i, r := range results {
		s := float64(r.Score)
		if i == 0 || s < min {
			min = s
		}
		if i == 0 || s > max {
			max = s
		}
	}
	return min, max
}

// minMaxNormalize maps score into [0,1] over [min,max]. A degenerate
// range (all scores equal) maps to 1 so a single-hit list still
// contributes fully.
func minMaxNormalize(score, min, max float64) float64 {
	if max == min {
		return 1
	}
	return (score - min) / (max - min)
}
