package meta

import (
	"encoding/binary"
	"time"

	"github.com/gftdcojp/tickstore/internal/types"
)

// Bucket names in BoltDB.
var (
	bucketSystem     = []byte("system")
	bucketUsage      = []byte("usage")
	bucketActions    = []byte("actions")
	keySchemaVersion = []byte("schema_version")
	keyUsageSnapshot = []byte("snapshot")

	// Schema v2: run history, one sub-bucket per run kind.
	bucketRuns = []byte("runs")
)

const currentSchemaVersion = 2

// ScopeUsage is the byte and file count charged to one quota scope.
type ScopeUsage struct {
	Bytes int64
	Files int64
}

// UsageSnapshot is the persisted state of the quota tracker. Scope keys are
// "global", "source:<name>", "symbol:<name>" and "eventType:<name>".
type UsageSnapshot struct {
	Scopes  map[string]ScopeUsage
	TakenAt time.Time
}

// ActionRecord is one executed (or dry-run) lifecycle action.
type ActionRecord struct {
	ID         uint64
	Path       string
	Kind       string
	FromTier   types.Tier
	ToTier     types.Tier
	Target     string
	Reason     string
	Bytes      int64
	DryRun     bool
	Error      string
	ExecutedAt time.Time
}

// RunRecord summarises one batch operation such as a catalog rebuild or
// lifecycle pass.
type RunRecord struct {
	Kind      string
	StartedAt time.Time
	Elapsed   time.Duration
	Files     int
	Errors    int
	Success   bool
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func int64ToBytes(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
