package coredb

import (
	"os"
	"path/filepath"
)

// Storage engine tags (spec.md §6).
const (
	EngineSQLite   = "SQLite"
	EngineForestDB = "ForestDB"
)

const (
	sqliteFileName   = "db.sqlite3"
	forestDBFileName = "db.forestdb"
)

// engineFileName maps a storage engine tag to its canonical bundle
// filename (spec.md §4.1.b).
func engineFileName(tag string) (string, error) {
	switch tag {
	case "", EngineSQLite:
		return sqliteFileName, nil
	case EngineForestDB:
		return forestDBFileName, nil
	default:
		return "", newError(KindInvalidParameter, "unknown storage engine tag %q", tag)
	}
}

// ResolveBundle maps a caller-supplied path plus configuration to a
// concrete database file path, filling in cfg.StorageEngine when the
// caller left it unspecified (spec.md §4.1). cfg is mutated in place.
func ResolveBundle(path string, cfg *DatabaseConfig) (string, error) {
	if !cfg.Flags.Has(FlagBundled) {
		if cfg.StorageEngine == "" {
			cfg.StorageEngine = EngineSQLite
		}
		return path, nil
	}
	return resolveBundleDir(path, cfg)
}

// resolveBundleDir implements the directory-bundle branch of
// ResolveBundle, following c4Database::findOrCreateBundle exactly,
// including the original's directory-vs-file distinction (a bundle path
// that exists but is a regular file, not a directory, is WrongFormat —
// present in the original but dropped by the distilled spec.md; see
// SPEC_FULL.md §4.1).
func resolveBundleDir(path string, cfg *DatabaseConfig) (string, error) {
	info, statErr := os.Stat(path)

	createdDir := false
	if cfg.Flags.Has(FlagCreate) {
		if statErr != nil && os.IsNotExist(statErr) {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return "", wrapError(KindCantOpenFile, err, "creating bundle directory %s", path)
			}
			createdDir = true
			info, statErr = os.Stat(path)
		}
	}
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", newError(KindNotFound, "bundle directory %s does not exist", path)
		}
		return "", wrapError(KindIOError, statErr, "statting bundle directory %s", path)
	}
	if !info.IsDir() {
		return "", newError(KindWrongFormat, "bundle path %s exists but is not a directory", path)
	}

	filename, err := engineFileName(cfg.StorageEngine)
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(path, filename)

	if createdDir {
		if cfg.StorageEngine == "" {
			cfg.StorageEngine = EngineSQLite
		}
		return candidate, nil
	}
	if exists(candidate) {
		if cfg.StorageEngine == "" {
			cfg.StorageEngine = EngineSQLite
		}
		return candidate, nil
	}

	if cfg.StorageEngine != "" {
		// Directory exists but not in the format the caller asked for.
		return "", newError(KindWrongFormat, "bundle %s does not contain a %s database", path, cfg.StorageEngine)
	}

	// No preference was expressed: fall back to the non-default (legacy)
	// engine's file before giving up.
	legacy := filepath.Join(path, forestDBFileName)
	if !exists(legacy) {
		return "", newError(KindWrongFormat, "bundle %s does not contain a recognized database file", path)
	}
	cfg.StorageEngine = EngineForestDB
	return legacy, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DeleteBundleFiles removes the on-disk files at path: if path resolves
// to a bundle directory, the whole directory is removed; otherwise the
// bare database file is removed. Used by DeleteAtPath (spec.md §4.3).
func DeleteBundleFiles(path string, cfg *DatabaseConfig) error {
	if cfg.Flags.Has(FlagBundled) {
		if err := os.RemoveAll(path); err != nil {
			return wrapError(KindIOError, err, "removing bundle %s", path)
		}
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return wrapError(KindIOError, err, "removing database file %s", path)
	}
	return nil
}
