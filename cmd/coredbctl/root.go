// Command coredbctl is a small administrative CLI over the coredb
// facade: open a database, inspect it, compact it, or rotate its
// encryption key, all from the shell.
//
// Grounded on ValentinKolb/dKV's cmd/ tree (cmd/util/util.go's
// viper-backed flag binding, cmd/lock/root.go's command-group shape).
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coredb-io/coredb"
)

const envPrefix = "coredbctl"

var rootCmd = &cobra.Command{
	Use:               "coredbctl",
	Short:             "Administer a coredb database file",
	PersistentPreRunE: bindFlags,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("path", "", "path to the database file or bundle directory (required)")
	rootCmd.PersistentFlags().String("engine", "", "storage engine tag to use when creating: SQLite or ForestDB")
	rootCmd.PersistentFlags().Bool("create", false, "create the database if it does not exist")
	rootCmd.PersistentFlags().Bool("bundled", false, "treat path as a bundle directory rather than a bare file")
	rootCmd.PersistentFlags().Bool("readonly", false, "open the database read-only")
	rootCmd.PersistentFlags().Bool("single-threaded", false, "skip the data-file lock, for single-goroutine use")
	rootCmd.PersistentFlags().String("key", "", "hex-encoded 32-byte AES-256 key, if the database is encrypted")

	rootCmd.AddCommand(statsCmd, compactCmd, rekeyCmd, getCmd, putCmd)
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// openFromFlags builds a *coredb.Database from the bound persistent
// flags, the way util.GetClientConfig assembles a client config from
// viper in the teacher's cmd/util package.
func openFromFlags() (*coredb.Database, error) {
	path := viper.GetString("path")
	if path == "" {
		return nil, fmt.Errorf("--path is required")
	}

	var flags coredb.Flags
	if viper.GetBool("create") {
		flags |= coredb.FlagCreate
	}
	if viper.GetBool("bundled") {
		flags |= coredb.FlagBundled
	}
	if viper.GetBool("readonly") {
		flags |= coredb.FlagReadOnly
	}

	cfg := &coredb.DatabaseConfig{
		Flags:          flags,
		StorageEngine:  viper.GetString("engine"),
		SingleThreaded: viper.GetBool("single-threaded"),
	}

	if keyHex := viper.GetString("key"); keyHex != "" {
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("--key: %w", err)
		}
		if len(keyBytes) != coredb.EncryptionKeySize {
			return nil, fmt.Errorf("--key: want %d bytes, got %d", coredb.EncryptionKeySize, len(keyBytes))
		}
		var key [coredb.EncryptionKeySize]byte
		copy(key[:], keyBytes)
		cfg.EncryptionKey = coredb.EncryptionKey{Algorithm: coredb.AlgorithmAES256, Bytes: key}
	}

	return coredb.Open(path, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
