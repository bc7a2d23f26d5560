package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/miethe/boxbrain/internal/models"
	"github.com/miethe/boxbrain/internal/render"
)

var oppCmd = &cobra.Command{
	Use:   "opp",
	Short: "Manage opportunities",
}

var oppListCmd = &cobra.Command{
	Use:   "list",
	Short: "List opportunities",
	RunE:  runOppList,
}

var oppShowCmd = &cobra.Command{
	Use:   "show [opportunity-id]",
	Short: "Show an opportunity's playbook status",
	Args:  cobra.ExactArgs(1),
	RunE:  runOppShow,
}

func init() {
	oppCmd.AddCommand(oppListCmd, oppShowCmd)
}

func runOppList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/opportunities")
	if err != nil {
		return err
	}

	var opps []models.Opportunity
	if err := json.Unmarshal(resp, &opps); err != nil {
		return err
	}

	if len(opps) == 0 {
		fmt.Println("No opportunities found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACCOUNT\tSTAGE\tHEALTH\tSTATUS\tPLAYS")
	for _, o := range opps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			o.ID, o.Name, o.AccountName, o.SalesStage, o.Health, o.Status, len(o.OpportunityPlays))
	}
	return w.Flush()
}

func runOppShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/opportunities/" + args[0])
	if err != nil {
		return err
	}

	var opp models.Opportunity
	if err := json.Unmarshal(resp, &opp); err != nil {
		return err
	}

	// Resolve template titles for display.
	titles := make(map[string]string)
	if body, err := apiGet("/plays"); err == nil {
		var plays []models.PlayTemplate
		if json.Unmarshal(body, &plays) == nil {
			for _, p := range plays {
				titles[p.ID] = p.Title
			}
		}
	}

	fmt.Println(render.PlaybookStatus(&opp, titles))
	return nil
}
