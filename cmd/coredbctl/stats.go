package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print document count, last sequence, and compaction status",
	RunE:  runStats,
}

func runStats(_ *cobra.Command, _ []string) error {
	db, err := openFromFlags()
	if err != nil {
		return err
	}
	defer db.Close()

	count, err := db.GetDocumentCount()
	if err != nil {
		return fmt.Errorf("document count: %w", err)
	}
	seq, err := db.GetLastSequence()
	if err != nil {
		return fmt.Errorf("last sequence: %w", err)
	}

	cfg := db.GetConfig()
	fmt.Printf("path: %s\n", db.GetPath())
	fmt.Printf("engine: %s\n", cfg.StorageEngine)
	fmt.Printf("documents: %d\n", count)
	fmt.Printf("last sequence: %d\n", seq)
	fmt.Printf("compacting: %v\n", db.IsCompacting())
	return nil
}
