package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/miethe/boxbrain/internal/catalog"
	"github.com/miethe/boxbrain/internal/store"
)

var (
	seedFile   string
	seedDBPath string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load dictionary terms and play templates from a yaml file",
	RunE:  runSeed,
}

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultDB := filepath.Join(homeDir, ".boxbrain", "boxbrain.db")

	seedCmd.Flags().StringVar(&seedFile, "file", "", "Path to seed yaml file (required)")
	seedCmd.Flags().StringVar(&seedDBPath, "db", defaultDB, "Path to SQLite database")
	seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	seed, err := catalog.Load(seedFile)
	if err != nil {
		return err
	}

	s, err := store.New(seedDBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := catalog.Apply(seed, s); err != nil {
		return err
	}

	fmt.Printf("Seeded %d plays\n", len(seed.Plays))
	return nil
}
