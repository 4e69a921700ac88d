package model

import "time"

// HunkLineKind tags a line within a diff hunk. Context lines are copied
// unchanged from the base; Removed lines are skipped; Added lines carry
// new text.
type HunkLineKind string

const (
	HunkContext HunkLineKind = "context"
	HunkAdded   HunkLineKind = "added"
	HunkRemoved HunkLineKind = "removed"
)

// HunkLine is one line inside a DiffHunk.
type HunkLine struct {
	Kind HunkLineKind `json:"kind"`
	Text string       `json:"text,omitempty"`
}

// DiffHunk is a contiguous block of changes between a base version's
// content and a derived delta, using 1-based line numbers.
type DiffHunk struct {
	OldStartLine int        `json:"old_start_line"`
	OldLineCount int        `json:"old_line_count"`
	NewStartLine int        `json:"new_start_line"`
	NewLineCount int        `json:"new_line_count"`
	Lines        []HunkLine `json:"lines"`
}

// MemoryVersion is one entry in a memory's append-only version log.
type MemoryVersion struct {
	ID              string     `json:"id"`
	MemoryID        string     `json:"memory_id"`
	VersionID       string     `json:"version_id"`
	Content         string     `json:"content"`
	Metadata        Property   `json:"metadata"`
	CreatedAt       time.Time  `json:"created_at"`
	ParentVersionID string     `json:"parent_version_id,omitempty"`
	DiffData        []DiffHunk `json:"diff_data,omitempty"`
	IsDelta         bool       `json:"is_delta"`
	SizeBytes       int        `json:"size_bytes"`
	IsCompressed    bool       `json:"is_compressed"`
}

// Snapshot is an immutable mapping of memories to the version each had at
// capture time.
type Snapshot struct {
	SnapshotID string            `json:"snapshot_id"`
	CreatedAt  time.Time         `json:"created_at"`
	MemoryIDs  []string          `json:"memory_ids"`
	VersionMap map[string]string `json:"version_map"` // memory_id -> version_id
	Metadata   Property          `json:"metadata"`
	SizeBytes  int               `json:"size_bytes"`
}

// RestoreMode selects how restore_snapshot reconciles existing memory state
// with the snapshot's captured versions.
type RestoreMode string

const (
	RestoreOverwrite      RestoreMode = "overwrite"
	RestoreSkipExisting   RestoreMode = "skip_existing"
	RestoreCreateVersions RestoreMode = "create_versions"
)

// VersionIntegrityIssueKind classifies a problem found by VersionStore.Validate.
type VersionIntegrityIssueKind string

const (
	IssueMissingParent VersionIntegrityIssueKind = "missing_parent"
	IssueSelfReference VersionIntegrityIssueKind = "self_reference"
	IssueUnreachable   VersionIntegrityIssueKind = "unreachable_delta"
)

// VersionIntegrityIssue describes one broken version found during validation.
type VersionIntegrityIssue struct {
	MemoryID  string
	VersionID string
	Kind      VersionIntegrityIssueKind
	Detail    string
}

// RepairResult reports the outcome of a single repair attempt.
type RepairResult struct {
	Issue    VersionIntegrityIssue
	Repaired bool
	Error    string
}

// CompactFilter selects which versions Compact may delete.
type CompactFilter struct {
	OlderThanDays *int
	KeepCount     *int // never deletes the KeepCount most-recent versions
}

// VersioningStats summarizes a VersionStore for diagnostics.
type VersioningStats struct {
	TotalMemories     int
	TotalVersions     int
	DeltaVersions     int
	FullVersions      int
	CompressedBytes   int64
	UncompressedBytes int64
}
