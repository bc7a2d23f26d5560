package match

import "github.com/miethe/boxbrain/internal/models"

// TechnologyLookup maps an offering to its dictionary-associated
// technologies. The dictionary is maintained elsewhere; this core only
// reads it for query shaping.
type TechnologyLookup map[string][]string

// NewTechnologyLookup builds a lookup from a dictionary snapshot.
func NewTechnologyLookup(dict models.Dictionary) TechnologyLookup {
	lookup := make(TechnologyLookup, len(dict.OfferingToTechnologies))
	for offering, techs := range dict.OfferingToTechnologies {
		lookup[offering] = append([]string(nil), techs...)
	}
	return lookup
}

// DefaultTechnologies returns the technologies associated with offering,
// or nil when the offering is unknown.
func (l TechnologyLookup) DefaultTechnologies(offering string) []string {
	techs, ok := l[offering]
	if !ok {
		return nil
	}
	return append([]string(nil), techs...)
}

// ShapeQuery fills in an empty technology list from the offering's
// dictionary associations. The query is otherwise returned unchanged.
func (l TechnologyLookup) ShapeQuery(query models.OpportunityQuery) models.OpportunityQuery {
	if len(query.Technologies) == 0 {
		query.Technologies = l.DefaultTechnologies(query.Offering)
	}
	return query
}
