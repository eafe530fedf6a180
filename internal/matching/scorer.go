package matching

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/lasso/internal/chat"
)

// MaxScore is the top of the score range.
const MaxScore = 1000

// Weights parameterize the compatibility score.
//
//	score = InterestWeight * |A∩B| / |A∪B|
//	      + AgeWeight * (MaxAgeGap - |ageA-ageB|) / MaxAgeGap
//
// Pairs further apart in age than MaxAgeGap, or scoring below MinScore, are
// never candidates.
type Weights struct {
	InterestWeight int
	AgeWeight      int
	MaxAgeGap      int
	MinScore       int
}

// DefaultWeights favour shared interests over closeness in age.
var DefaultWeights = Weights{
	InterestWeight: 700,
	AgeWeight:      300,
	MaxAgeGap:      10,
	MinScore:       100,
}

// Validate checks that weights keep scores within 0..MaxScore.
func (w Weights) Validate() error {
	if w.InterestWeight < 0 || w.AgeWeight < 0 || w.MaxAgeGap < 0 || w.MinScore < 0 {
		return errors.New("weights must not be negative")
	}
	if w.InterestWeight+w.AgeWeight > MaxScore {
		return fmt.Errorf("interest and age weights sum to %d, max %d", w.InterestWeight+w.AgeWeight, MaxScore)
	}
	return nil
}

// Scorer computes deterministic pair scores.
type Scorer struct {
	w Weights
}

// NewScorer validates w and returns a scorer.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("new scorer: %w", err)
	}
	return &Scorer{w: w}, nil
}

// Weights returns the scorer's configuration.
func (s *Scorer) Weights() Weights {
	return s.w
}

// Score rates a and b. ok is false when the pair is not a candidate.
func (s *Scorer) Score(a, b chat.Profile) (score int, ok bool) {
	gap := a.Age - b.Age
	if gap < 0 {
		gap = -gap
	}
	if gap > s.w.MaxAgeGap {
		return 0, false
	}

	shared, union := overlap(a.Interests, b.Interests)
	if union > 0 {
		score += s.w.InterestWeight * shared / union
	}
	if s.w.MaxAgeGap == 0 {
		score += s.w.AgeWeight
	} else {
		score += s.w.AgeWeight * (s.w.MaxAgeGap - gap) / s.w.MaxAgeGap
	}

	if score < s.w.MinScore {
		return score, false
	}
	return score, true
}

// Candidates scores every pair in pool and orders them by score
// descending, then lower A, then lower B.
func (s *Scorer) Candidates(pool []chat.User) []chat.MatchCandidate {
	var out []chat.MatchCandidate
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			if pool[i].ID == pool[j].ID {
				continue
			}
			score, ok := s.Score(pool[i].Profile, pool[j].Profile)
			if !ok {
				continue
			}
			a, b := chat.NormalizePair(pool[i].ID, pool[j].ID)
			out = append(out, chat.MatchCandidate{A: a, B: b, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// SharedInterests returns the interests of a also held by b, in a's order.
func SharedInterests(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, x := range b {
		set[x] = true
	}
	var out []string
	for _, x := range a {
		if set[x] {
			out = append(out, x)
			delete(set, x)
		}
	}
	return out
}

func overlap(a, b []string) (shared, union int) {
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	union = len(set)
	seen := make(map[string]bool, len(b))
	for _, x := range b {
		if seen[x] {
			continue
		}
		seen[x] = true
		if set[x] {
			shared++
		} else {
			union++
		}
	}
	return shared, union
}
