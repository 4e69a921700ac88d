package versioning

import (
	"context"

	"github.com/locai-dev/locai/pkg/locerr"
	"github.com/locai-dev/locai/pkg/model"
)

// Validate scans every versioned memory and reports integrity issues:
// a delta missing its parent, a delta whose
// parent_version_id equals its own version_id, or an unreachable delta (its
// chain cannot find a full-copy base at or before it).
func (s *Store) Validate(ctx context.Context) ([]model.VersionIntegrityIssue, error) {
	memoryIDs, err := s.backend.ListAllMemoryIDsWithVersions(ctx)
	if err != nil {
		return nil, locerr.Wrap(err, "validate: list memory ids")
	}

	var issues []model.VersionIntegrityIssue
	for _, memoryID := range memoryIDs {
		vs, err := s.backend.ListVersions(ctx, memoryID)
		if err != nil {
			return nil, locerr.Wrap(err, "validate: list versions")
		}
		byVersionID := make(map[string]*model.MemoryVersion, len(vs))
		for _, v := range vs {
			byVersionID[v.VersionID] = v
		}

		for _, v := range vs {
			if !v.IsDelta {
				continue
			}
			if v.ParentVersionID == v.VersionID {
				issues = append(issues, model.VersionIntegrityIssue{
					MemoryID: memoryID, VersionID: v.VersionID,
					Kind: model.IssueSelfReference, Detail: "parent_version_id equals version_id",
				})
				continue
			}
			if v.ParentVersionID == "" || byVersionID[v.ParentVersionID] == nil {
				issues = append(issues, model.VersionIntegrityIssue{
					MemoryID: memoryID, VersionID: v.VersionID,
					Kind: model.IssueMissingParent, Detail: "parent version not found",
				})
				continue
			}
			if base, err := s.findBaseVersion(ctx, memoryID, v.CreatedAt); err != nil || base == nil {
				issues = append(issues, model.VersionIntegrityIssue{
					MemoryID: memoryID, VersionID: v.VersionID,
					Kind: model.IssueUnreachable, Detail: "no full-copy base reachable",
				})
			}
		}
	}
	return issues, nil
}

// Repair attempts to promote each issue's version to a full copy; the self-
// reference and missing-parent cases can always be repaired this way
// (promotion discards diff_data entirely), while unreachable deltas with a
// fully broken chain surface as a failed repair.
func (s *Store) Repair(ctx context.Context, issues []model.VersionIntegrityIssue) []model.RepairResult {
	results := make([]model.RepairResult, 0, len(issues))
	for _, issue := range issues {
		res := model.RepairResult{Issue: issue}
		if err := s.promoteForRepair(ctx, issue); err != nil {
			res.Repaired = false
			res.Error = err.Error()
		} else {
			res.Repaired = true
		}
		results = append(results, res)
	}
	return results
}

// promoteForRepair promotes a version without going through the normal
// reconstruction path for self-reference/missing-parent issues (those can't
// be reconstructed via their broken parent chain); it instead falls back to
// whatever content the version itself carries, which is the best available
// recovery short of data loss.
func (s *Store) promoteForRepair(ctx context.Context, issue model.VersionIntegrityIssue) error {
	v, err := s.backend.GetVersion(ctx, issue.MemoryID, issue.VersionID)
	if err != nil {
		return locerr.Wrap(err, "repair: load version")
	}
	if v == nil {
		return locerr.NewNotFound("version not found: " + issue.VersionID)
	}

	if issue.Kind == model.IssueUnreachable {
		return s.Promote(ctx, issue.MemoryID, issue.VersionID)
	}

	// Self-reference / missing-parent: the delta chain cannot be walked, so
	// apply this version's own hunks against empty content as the best
	// recoverable approximation, matching the "promote to full" contract
	// without re-entering the broken chain.
	content := applyHunks("", v.DiffData)
	v.IsDelta = false
	v.Content = content
	v.DiffData = nil
	v.ParentVersionID = ""
	v.SizeBytes = len(content)
	v.IsCompressed = false
	if err := s.backend.PutVersion(ctx, v); err != nil {
		return locerr.Wrap(err, "repair: put")
	}
	if s.cache != nil {
		s.cacheMu.Lock()
		s.cache.invalidateMemory(issue.MemoryID)
		s.cacheMu.Unlock()
	}
	return nil
}
