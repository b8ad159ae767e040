package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get [store] [key]",
	Short: "Read a raw document's meta and body",
	Args:  cobra.ExactArgs(2),
	RunE:  runGet,
}

func runGet(_ *cobra.Command, args []string) error {
	db, err := openFromFlags()
	if err != nil {
		return err
	}
	defer db.Close()

	doc, err := db.RawGet(args[0], []byte(args[1]))
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	fmt.Printf("meta: %s\n", doc.Meta)
	fmt.Printf("body: %s\n", doc.Body)
	return nil
}
