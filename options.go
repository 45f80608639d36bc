// Package kernel is the embedded graph database kernel: a paged,
// WAL-durable, snapshot-isolated storage and concurrency engine over a
// directed labeled property graph. The facade type is Engine; reads go
// through Snapshot, writes through Batch.
package kernel

import (
	"github.com/nervusdb/kernel/internal/compaction"
	"github.com/nervusdb/kernel/internal/segment"
)

// StagingMode names a staging layout for frozen MemTables. The engine
// does not read it: in either mode frozen MemTables stay in memory as
// L0 runs until a checkpoint or compaction folds them into the CSR
// segments.
type StagingMode string

const (
	StagingClassic StagingMode = "classic"
	StagingLSMLite StagingMode = "lsm-lite"
)

// Options configures Open, following the teacher's Config/
// DefaultConfig(dataDir) pattern (lsm.Config, hashindex.Config).
type Options struct {
	// DataDir is the base path P; Open derives P.ndb, P.wal, P.pages/,
	// P.lock from it.
	DataDir string

	PageSize uint32 // only 8192 is currently supported (spec §6)

	Compression     segment.Compression
	HotCompression  segment.Compression
	ColdCompression segment.Compression

	EnablePersistentTxDedupe bool
	MaxRememberTxIds         int

	StagingMode StagingMode

	MemTableMaxSize int

	CompactionWeights compaction.Weights
	MinCompactionScore float64
	MaxPrimariesPerOrder int

	// LockRetries bounds the number of attempts of the exponential
	// backoff (starting at 10ms and doubling) used while waiting for
	// <db>.lock (spec §4.9).
	LockRetries int

	LogLevel string

	// Experimental is a forward-compatible option bag (spec §6):
	// unrecognized keys are logged at warn and otherwise ignored.
	Experimental map[string]any
}

// DefaultOptions returns the engine's defaults for a database rooted
// at dataDir, mirroring the teacher's DefaultConfig(dataDir) helpers.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:  dataDir,
		PageSize: 8192,
		Compression: segment.Compression{
			Codec: "none",
			Level: 0,
		},
		HotCompression: segment.Compression{Codec: "none", Level: 0},
		ColdCompression: segment.Compression{
			Codec: "brotli",
			Level: 9,
		},
		EnablePersistentTxDedupe: true,
		MaxRememberTxIds:         10000,
		StagingMode:              StagingClassic,
		MemTableMaxSize:          4 << 20, // 4 MiB
		CompactionWeights:        compaction.DefaultWeights,
		MinCompactionScore:       1.0,
		MaxPrimariesPerOrder:     1024,
		LockRetries:              20,
		LogLevel:                 "info",
	}
}
