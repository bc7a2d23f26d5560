package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miethe/boxbrain/internal/match"
	"github.com/miethe/boxbrain/internal/models"
	"github.com/miethe/boxbrain/internal/render"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Rank catalog plays against an opportunity description",
	RunE:  runMatch,
}

var (
	matchOffering string
	matchStage    string
	matchSector   string
	matchGeo      string
	matchTechs    []string
	matchTags     []string
)

func init() {
	matchCmd.Flags().StringVar(&matchOffering, "offering", "", "Offering (required)")
	matchCmd.Flags().StringVar(&matchStage, "stage", "", "Sales stage")
	matchCmd.Flags().StringVar(&matchSector, "sector", "", "Sector")
	matchCmd.Flags().StringVar(&matchGeo, "geo", "", "Geography")
	matchCmd.Flags().StringSliceVar(&matchTechs, "tech", nil, "Technologies (repeatable)")
	matchCmd.Flags().StringSliceVar(&matchTags, "tag", nil, "Tags (repeatable)")
	matchCmd.MarkFlagRequired("offering")
}

func runMatch(cmd *cobra.Command, args []string) error {
	query := models.OpportunityQuery{
		Offering:     matchOffering,
		Stage:        matchStage,
		Sector:       matchSector,
		Geo:          matchGeo,
		Technologies: matchTechs,
		Tags:         matchTags,
	}

	resp, err := apiPost("/match", query)
	if err != nil {
		return err
	}

	var ranked []match.RankedPlay
	if err := json.Unmarshal(resp, &ranked); err != nil {
		return err
	}

	fmt.Println(render.MatchTable(ranked))
	return nil
}
