package matching

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

const (
	// NeutralAffinity is used when there is nothing to judge or the
	// advisory service gives no usable answer.
	NeutralAffinity = 1
	MaxAffinity     = 5
)

// AffinityScorer judges how well a caregiver's specialty fits a patient's
// issue and history, on a 1..5 scale.
type AffinityScorer interface {
	Score(ctx context.Context, issue string, history []string, specialty string) (int, error)
}

// Scores are the four ranking signals, in priority order.
type Scores struct {
	Family     int `json:"family"`
	Continuity int `json:"continuity"`
	Preference int `json:"preference"`
	Affinity   int `json:"affinity"`
}

// better reports whether s ranks strictly above o.
func (s Scores) better(o Scores) bool {
	if s.Family != o.Family {
		return s.Family > o.Family
	}
	if s.Continuity != o.Continuity {
		return s.Continuity > o.Continuity
	}
	if s.Preference != o.Preference {
		return s.Preference > o.Preference
	}
	return s.Affinity > o.Affinity
}

// RankedCaregiver is a caregiver together with the scores that placed it.
type RankedCaregiver struct {
	Caregiver *Caregiver `json:"-"`
	ID        string     `json:"caregiver_id"`
	Scores    Scores     `json:"scores"`
}

// Ranker orders caregivers for a patient.
type Ranker struct {
	scorer AffinityScorer
	logger zerolog.Logger
}

// NewRanker returns a Ranker. A nil scorer scores every caregiver neutrally.
func NewRanker(scorer AffinityScorer, logger zerolog.Logger) *Ranker {
	return &Ranker{scorer: scorer, logger: logger}
}

// Rank sorts candidates most preferred first. Candidates that tie on all four
// scores keep their input order.
func (r *Ranker) Rank(ctx context.Context, p *Patient, candidates []*Caregiver) []RankedCaregiver {
	ranked := make([]RankedCaregiver, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedCaregiver{
			Caregiver: c,
			ID:        c.ID,
			Scores: Scores{
				Family:     familyScore(p, c),
				Continuity: continuityScore(p, c),
				Preference: preferenceScore(p, c),
				Affinity:   r.affinityScore(ctx, p, c),
			},
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Scores.better(ranked[j].Scores)
	})
	return ranked
}

func familyScore(p *Patient, c *Caregiver) int {
	if p.FamilyID != "" && c.Families.Has(p.FamilyID) {
		return 1
	}
	return 0
}

func continuityScore(p *Patient, c *Caregiver) int {
	n := 0
	for _, a := range c.CompletedAppointments {
		if a.PatientID == p.ID {
			n++
		}
	}
	return n
}

func preferenceScore(p *Patient, c *Caregiver) int {
	if p.ContactPreference.Open() || c.ContactMode.Open() {
		return 1
	}
	if p.ContactPreference == c.ContactMode {
		return 1
	}
	return 0
}

func (r *Ranker) affinityScore(ctx context.Context, p *Patient, c *Caregiver) int {
	history := p.HistoryLines()
	if p.Issue == "" && len(history) == 0 && c.Specialty == "" {
		return NeutralAffinity
	}
	if r.scorer == nil {
		return NeutralAffinity
	}
	score, err := r.scorer.Score(ctx, p.Issue, history, c.Specialty)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("patient_id", p.ID).
			Str("caregiver_id", c.ID).
			Msg("affinity scoring failed, using neutral score")
		return NeutralAffinity
	}
	if score < NeutralAffinity || score > MaxAffinity {
		r.logger.Warn().
			Int("score", score).
			Str("patient_id", p.ID).
			Str("caregiver_id", c.ID).
			Msg("affinity score out of range, using neutral score")
		return NeutralAffinity
	}
	return score
}
