package versioning

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/locai-dev/locai/pkg/model"
)

// diffContextLines is the number of unchanged lines kept around each
// change region when grouping opcodes into hunks.
const diffContextLines = 3

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// computeDiff produces the ordered hunk sequence turning oldContent into
// newContent, using the Myers algorithm via pmezard/go-difflib.
func computeDiff(oldContent, newContent string) []model.DiffHunk {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	matcher := difflib.NewMatcher(oldLines, newLines)
	groups := matcher.GetGroupedOpCodes(diffContextLines)

	hunks := make([]model.DiffHunk, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		first, last := group[0], group[len(group)-1]
		hunk := model.DiffHunk{
			OldStartLine: first.I1 + 1,
			OldLineCount: last.I2 - first.I1,
			NewStartLine: first.J1 + 1,
			NewLineCount: last.J2 - first.J1,
		}
		for _, op := range group {
			switch op.Tag {
			case 'e':
				for _, l := range oldLines[op.I1:op.I2] {
					hunk.Lines = append(hunk.Lines, model.HunkLine{Kind: model.HunkContext, Text: l})
				}
			case 'd':
				for _, l := range oldLines[op.I1:op.I2] {
					hunk.Lines = append(hunk.Lines, model.HunkLine{Kind: model.HunkRemoved, Text: l})
				}
			case 'i':
				for _, l := range newLines[op.J1:op.J2] {
					hunk.Lines = append(hunk.Lines, model.HunkLine{Kind: model.HunkAdded, Text: l})
				}
			case 'r':
				for _, l := range oldLines[op.I1:op.I2] {
					hunk.Lines = append(hunk.Lines, model.HunkLine{Kind: model.HunkRemoved, Text: l})
				}
				for _, l := range newLines[op.J1:op.J2] {
					hunk.Lines = append(hunk.Lines, model.HunkLine{Kind: model.HunkAdded, Text: l})
				}
			}
		}
		hunks = append(hunks, hunk)
	}
	return hunks
}

// applyHunks reconstructs content by replaying hunks over baseContent.
// The old-line cursor always jumps to old_start_line-1+old_line_count after
// a hunk regardless of how many lines its body actually consumed, which
// tolerates a hand-built hunk whose line bodies don't match its declared
// counts.
func applyHunks(baseContent string, hunks []model.DiffHunk) string {
	oldLines := splitLines(baseContent)
	var out []string
	cursor := 0

	for _, hunk := range hunks {
		hunkStart := hunk.OldStartLine - 1
		for cursor < hunkStart && cursor < len(oldLines) {
			out = append(out, oldLines[cursor])
			cursor++
		}
		for _, hl := range hunk.Lines {
			switch hl.Kind {
			case model.HunkContext:
				if cursor < len(oldLines) {
					out = append(out, oldLines[cursor])
					cursor++
				} else {
					out = append(out, hl.Text)
				}
			case model.HunkRemoved:
				cursor++
			case model.HunkAdded:
				out = append(out, hl.Text)
			}
		}
		newCursor := hunkStart + hunk.OldLineCount
		if newCursor > len(oldLines) {
			newCursor = len(oldLines)
		}
		if newCursor < 0 {
			newCursor = 0
		}
		cursor = newCursor
	}
	for cursor < len(oldLines) {
		out = append(out, oldLines[cursor])
		cursor++
	}
	return strings.Join(out, "\n")
}
