// Package catalog loads play templates and dictionary vocabularies
// from a yaml seed file into the store.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miethe/boxbrain/internal/models"
	"github.com/miethe/boxbrain/internal/store"
)

// Seed is the on-disk catalog shape.
type Seed struct {
	Dictionary struct {
		Offerings    []string            `yaml:"offerings"`
		Technologies map[string][]string `yaml:"technologies"` // offering -> technologies
		Stages       []string            `yaml:"stages"`
		Sectors      []string            `yaml:"sectors"`
		Geos         []string            `yaml:"geos"`
		Tags         []string            `yaml:"tags"`
	} `yaml:"dictionary"`
	Plays []SeedPlay `yaml:"plays"`
}

// SeedPlay is one template in the seed file.
type SeedPlay struct {
	ID                 string                   `yaml:"id"`
	Title              string                   `yaml:"title"`
	Summary            string                   `yaml:"summary"`
	Offering           string                   `yaml:"offering"`
	Technologies       []string                 `yaml:"technologies"`
	StageScope         []string                 `yaml:"stage_scope"`
	Stages             []models.StageDefinition `yaml:"stages"`
	Sector             string                   `yaml:"sector"`
	Geo                string                   `yaml:"geo"`
	Tags               []string                 `yaml:"tags"`
	Owners             []string                 `yaml:"owners"`
	DefaultTeamMembers []string                 `yaml:"default_team_members"`
}

// Load parses and validates a seed file.
func Load(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *Seed) validate() error {
	for i, p := range s.Plays {
		if p.Title == "" {
			return fmt.Errorf("play %d: title is required", i)
		}
		if len(p.StageScope) == 0 {
			return fmt.Errorf("play %q: stage_scope is required", p.Title)
		}
		defined := make(map[string]bool, len(p.Stages))
		for _, stage := range p.Stages {
			if stage.Key == "" {
				return fmt.Errorf("play %q: stage with empty key", p.Title)
			}
			if defined[stage.Key] {
				return fmt.Errorf("play %q: duplicate stage definition %q", p.Title, stage.Key)
			}
			defined[stage.Key] = true
		}
		seen := make(map[string]bool, len(p.StageScope))
		for _, key := range p.StageScope {
			if seen[key] {
				return fmt.Errorf("play %q: duplicate stage key %q in stage_scope", p.Title, key)
			}
			seen[key] = true
			if !defined[key] {
				return fmt.Errorf("play %q: stage %q in stage_scope has no definition", p.Title, key)
			}
		}
	}
	return nil
}

// Apply upserts the seed's dictionary terms and play templates. Plays
// with an explicit id are upserted so re-seeding is idempotent.
func Apply(seed *Seed, st *store.Store) error {
	for _, name := range seed.Dictionary.Offerings {
		if err := st.UpsertDictionaryTerm("offering", name, "", ""); err != nil {
			return fmt.Errorf("seed offering %q: %w", name, err)
		}
	}
	for offering, techs := range seed.Dictionary.Technologies {
		for _, name := range techs {
			if err := st.UpsertDictionaryTerm("technology", name, "", offering); err != nil {
				return fmt.Errorf("seed technology %q: %w", name, err)
			}
		}
	}
	for _, name := range seed.Dictionary.Stages {
		if err := st.UpsertDictionaryTerm("stage", name, "", ""); err != nil {
			return fmt.Errorf("seed stage %q: %w", name, err)
		}
	}
	for _, name := range seed.Dictionary.Sectors {
		if err := st.UpsertDictionaryTerm("sector", name, "", ""); err != nil {
			return fmt.Errorf("seed sector %q: %w", name, err)
		}
	}
	for _, name := range seed.Dictionary.Geos {
		if err := st.UpsertDictionaryTerm("geo", name, "", ""); err != nil {
			return fmt.Errorf("seed geo %q: %w", name, err)
		}
	}
	for _, name := range seed.Dictionary.Tags {
		if err := st.UpsertDictionaryTerm("tag", name, "", ""); err != nil {
			return fmt.Errorf("seed tag %q: %w", name, err)
		}
	}

	for _, sp := range seed.Plays {
		p := &models.PlayTemplate{
			ID:                 sp.ID,
			Title:              sp.Title,
			Summary:            sp.Summary,
			Offering:           sp.Offering,
			Technologies:       sp.Technologies,
			StageScope:         sp.StageScope,
			Stages:             sp.Stages,
			Sector:             sp.Sector,
			Geo:                sp.Geo,
			Tags:               sp.Tags,
			Owners:             sp.Owners,
			DefaultTeamMembers: sp.DefaultTeamMembers,
		}
		if p.ID == "" {
			if err := st.CreatePlay(p); err != nil {
				return fmt.Errorf("seed play %q: %w", p.Title, err)
			}
			continue
		}
		if err := st.UpsertPlay(p); err != nil {
			return fmt.Errorf("seed play %q: %w", p.Title, err)
		}
	}
	return nil
}
