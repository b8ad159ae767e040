/*
Package coredb is the facade and transactional control layer of an
embedded document database engine intended for mobile/offline
applications.

It exposes a handle-based API through which callers open a database
(Open), group operations into transactions (Database.Begin/End),
enumerate and count documents, read and write auxiliary "raw"
key/value entries, compact, rekey, and dispose of the database.
Persistence work is routed through one of two pluggable storage
engines, selected at open time by the DatabaseConfig's StorageEngine
tag ("SQLite" or "ForestDB", see EngineSQLite and EngineForestDB).

# Usage

	cfg := &coredb.DatabaseConfig{Flags: coredb.FlagCreate | coredb.FlagBundled}
	db, err := coredb.Open("/path/to/mydb", cfg)
	if err != nil {
		...
	}
	defer db.Release()

	if err := db.Begin(); err != nil {
		...
	}
	err = db.RawPut("local", []byte("k"), []byte("m"), []byte("v"))
	if err := db.End(err == nil); err != nil {
		...
	}

# Concurrency

A Database is safe for concurrent use by multiple goroutines, with the
caveat that transactions are recursive from a single logical caller:
overlapping Begin/End pairs issued concurrently from different
goroutines on the same handle are not supported (see Database.Begin).

# Scope

This package does not implement a query engine, replication, schema
management, cross-database transactions, or the concrete on-disk
format of a storage engine — those are treated as an external
capability behind the DataFile interface (see datafile.go).
*/
package coredb
