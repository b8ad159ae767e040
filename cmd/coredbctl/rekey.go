package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coredb-io/coredb"
)

var rekeyCmd = &cobra.Command{
	Use:   "rekey [new-key-hex]",
	Short: "Rotate the database's AES-256 encryption key",
	Long:  "Rotate the database's encryption key. Pass an empty string to remove encryption.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRekey,
}

func runRekey(_ *cobra.Command, args []string) error {
	db, err := openFromFlags()
	if err != nil {
		return err
	}
	defer db.Close()

	newKeyHex := args[0]
	if newKeyHex == "" {
		var zero [coredb.EncryptionKeySize]byte
		if err := db.Rekey(coredb.AlgorithmNone, zero); err != nil {
			return fmt.Errorf("rekey: %w", err)
		}
		fmt.Println("encryption removed")
		return nil
	}

	keyBytes, err := hex.DecodeString(newKeyHex)
	if err != nil {
		return fmt.Errorf("new-key-hex: %w", err)
	}
	if len(keyBytes) != coredb.EncryptionKeySize {
		return fmt.Errorf("new-key-hex: want %d bytes, got %d", coredb.EncryptionKeySize, len(keyBytes))
	}
	var key [coredb.EncryptionKeySize]byte
	copy(key[:], keyBytes)

	if err := db.Rekey(coredb.AlgorithmAES256, key); err != nil {
		return fmt.Errorf("rekey: %w", err)
	}
	fmt.Println("rekey complete")
	return nil
}
