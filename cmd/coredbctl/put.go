package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put [store] [key] [meta] [body]",
	Short: "Write a raw document, or delete it if meta and body are both empty",
	Args:  cobra.ExactArgs(4),
	RunE:  runPut,
}

func runPut(_ *cobra.Command, args []string) error {
	db, err := openFromFlags()
	if err != nil {
		return err
	}
	defer db.Close()

	store, key, meta, body := args[0], args[1], args[2], args[3]
	if err := db.RawPut(store, []byte(key), []byte(meta), []byte(body)); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	fmt.Println("ok")
	return nil
}
