package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Trigger on-disk reorganization",
	RunE:  runCompact,
}

func runCompact(_ *cobra.Command, _ []string) error {
	db, err := openFromFlags()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Compact(); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	fmt.Println("compaction complete")
	return nil
}
