// Package match ranks play templates against a described opportunity.
// Scoring is pure and deterministic: no I/O, no clock, no randomness.
package match

import (
	"math"
	"sort"
	"strings"

	"github.com/miethe/boxbrain/internal/models"
)

// Factor weights. They sum to 1.0; the reported score is the rounded
// integer percentage of the weighted sum.
const (
	WeightOffering     = 0.35
	WeightTechnologies = 0.25
	WeightStage        = 0.15
	WeightSector       = 0.10
	WeightGeo          = 0.05
	WeightTags         = 0.10
)

const (
	// ScoreThreshold is the exclusive floor: candidates scoring at or
	// below it are dropped from the results.
	ScoreThreshold = 10
	// AutoSelectThreshold is the exclusive floor above which a ranked
	// play is pre-selected as recommended to attach.
	AutoSelectThreshold = 80
	// tagSaturation caps the tag overlap bonus.
	tagSaturation = 3
)

// Sentinel values recognized in catalog entries.
const (
	stageScopeAll     = "All"
	sectorCrossSector = "Cross-sector"
)

// RankedPlay is a scored candidate.
type RankedPlay struct {
	Play        models.PlayTemplate `json:"play"`
	Score       int                 `json:"score"`
	Recommended bool                `json:"recommended"`
}

// Score ranks candidates against the query. Candidates scoring at or
// below ScoreThreshold are dropped; survivors are sorted descending by
// score with input order preserved on exact ties.
func Score(query models.OpportunityQuery, candidates []models.PlayTemplate) []RankedPlay {
	var ranked []RankedPlay
	for _, c := range candidates {
		s := scoreOne(query, c)
		if s <= ScoreThreshold {
			continue
		}
		ranked = append(ranked, RankedPlay{
			Play:        c,
			Score:       s,
			Recommended: s > AutoSelectThreshold,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// AutoSelect returns the ids of ranked plays recommended for attachment
// (score strictly above AutoSelectThreshold).
func AutoSelect(ranked []RankedPlay) []string {
	var ids []string
	for _, r := range ranked {
		if r.Recommended {
			ids = append(ids, r.Play.ID)
		}
	}
	return ids
}

func scoreOne(query models.OpportunityQuery, c models.PlayTemplate) int {
	var sum float64

	if offeringsEqual(c.Offering, query.Offering) {
		sum += WeightOffering
	}

	sum += jaccard(c.Technologies, query.Technologies) * WeightTechnologies

	if containsString(c.StageScope, query.Stage) || containsString(c.StageScope, stageScopeAll) {
		sum += WeightStage
	}

	if c.Sector == query.Sector || c.Sector == sectorCrossSector {
		sum += WeightSector
	}

	if c.Geo == query.Geo {
		sum += WeightGeo
	}

	if n := overlapCount(c.Tags, query.Tags); n > 0 {
		if n > tagSaturation {
			n = tagSaturation
		}
		sum += WeightTags * float64(n) / tagSaturation
	}

	return int(math.Round(sum * 100))
}

// offeringsEqual compares two offering values as parsed sets. Catalog
// offerings may encode multiple offerings as a comma-joined string;
// comparing parsed sets keeps "A, B" equal to "B,A" without ever
// matching on partial overlap.
func offeringsEqual(a, b string) bool {
	as := parseOfferings(a)
	bs := parseOfferings(b)
	if len(as) == 0 || len(as) != len(bs) {
		return false
	}
	for o := range as {
		if _, ok := bs[o]; !ok {
			return false
		}
	}
	return true
}

func parseOfferings(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b|, with an empty union contributing 0.
func jaccard(a, b []string) float64 {
	union := make(map[string]struct{}, len(a)+len(b))
	inA := make(map[string]struct{}, len(a))
	for _, s := range a {
		union[s] = struct{}{}
		inA[s] = struct{}{}
	}
	inter := 0
	for _, s := range b {
		if _, ok := union[s]; ok {
			if _, dup := inA[s]; dup {
				inter++
				delete(inA, s) // count duplicates in b once
			}
		}
		union[s] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func overlapCount(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	n := 0
	for _, s := range b {
		if _, ok := set[s]; ok {
			n++
			delete(set, s)
		}
	}
	return n
}
