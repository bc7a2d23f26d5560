package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/miethe/boxbrain/internal/models"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Browse the play catalog",
}

var playListCmd = &cobra.Command{
	Use:   "list",
	Short: "List play templates",
	RunE:  runPlayList,
}

var playShowCmd = &cobra.Command{
	Use:   "show [play-id]",
	Short: "Show a play template",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlayShow,
}

func init() {
	playCmd.AddCommand(playListCmd, playShowCmd)
}

func runPlayList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/plays")
	if err != nil {
		return err
	}

	var plays []models.PlayTemplate
	if err := json.Unmarshal(resp, &plays); err != nil {
		return err
	}

	if len(plays) == 0 {
		fmt.Println("No plays in catalog")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tOFFERING\tSECTOR\tSTAGES")
	for _, p := range plays {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			p.ID, p.Title, p.Offering, p.Sector, len(p.StageScope))
	}
	return w.Flush()
}

func runPlayShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/plays/" + args[0])
	if err != nil {
		return err
	}

	var p models.PlayTemplate
	if err := json.Unmarshal(resp, &p); err != nil {
		return err
	}

	fmt.Printf("Title:    %s\n", p.Title)
	fmt.Printf("Offering: %s\n", p.Offering)
	if p.Summary != "" {
		fmt.Printf("Summary:  %s\n", p.Summary)
	}
	if len(p.Technologies) > 0 {
		fmt.Printf("Tech:     %s\n", strings.Join(p.Technologies, ", "))
	}
	fmt.Printf("Stages:   %s\n", strings.Join(p.StageScope, " > "))
	for _, stage := range p.Stages {
		fmt.Printf("\n  %s\n", stage.Label)
		if stage.Objective != "" {
			fmt.Printf("    Objective: %s\n", stage.Objective)
		}
		for _, item := range stage.ChecklistItems {
			fmt.Printf("    - %s\n", item)
		}
	}
	return nil
}
