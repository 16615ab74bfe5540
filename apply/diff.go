package apply

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// diffFuzzyWindow bounds how far a hunk's declared line number may drift
// from its actual location before applyUnifiedDiff gives up (spec §4.4
// "fuzzy context matching ... within a bounded window").
const diffFuzzyWindow = 20

type hunk struct {
	oldStart int
	before   []string // context + removed lines, in file order
	after    []string // context + added lines, in file order
}

// parseUnifiedDiff extracts the hunks from a single-file unified diff,
// ignoring --- / +++ file headers.
func parseUnifiedDiff(diffText string) ([]hunk, error) {
	lines := strings.Split(diffText, "\n")
	var hunks []hunk
	i := 0
	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			i++
			continue
		}
		m := hunkHeaderRe.FindStringSubmatch(line)
		if m == nil {
			i++
			continue
		}
		oldStart, _ := strconv.Atoi(m[1])
		h := hunk{oldStart: oldStart}
		i++
		for i < len(lines) {
			l := lines[i]
			if l == "" || hunkHeaderRe.MatchString(l) || strings.HasPrefix(l, "--- ") {
				break
			}
			switch {
			case strings.HasPrefix(l, " "):
				h.before = append(h.before, l[1:])
				h.after = append(h.after, l[1:])
			case strings.HasPrefix(l, "-"):
				h.before = append(h.before, l[1:])
			case strings.HasPrefix(l, "+"):
				h.after = append(h.after, l[1:])
			default:
				h.before = append(h.before, l)
				h.after = append(h.after, l)
			}
			i++
		}
		hunks = append(hunks, h)
	}
	if len(hunks) == 0 {
		return nil, fmt.Errorf("no hunks found in diff")
	}
	return hunks, nil
}

// applyUnifiedDiff applies every hunk in diffText against content in
// order, searching within diffFuzzyWindow lines of each hunk's declared
// position for an exact match before giving up.
func applyUnifiedDiff(content, diffText string) (string, error) {
	hunks, err := parseUnifiedDiff(diffText)
	if err != nil {
		return "", err
	}

	lines := strings.Split(content, "\n")
	offset := 0
	for _, h := range hunks {
		if len(h.before) == 0 {
			continue
		}
		declared := h.oldStart - 1 + offset
		pos, err := locateHunk(lines, h.before, declared)
		if err != nil {
			return "", err
		}
		lines = append(lines[:pos], append(append([]string{}, h.after...), lines[pos+len(h.before):]...)...)
		offset += len(h.after) - len(h.before)
	}
	return strings.Join(lines, "\n"), nil
}

// locateHunk finds where h.before occurs in lines, preferring the declared
// position and otherwise scanning outward within diffFuzzyWindow lines.
func locateHunk(lines []string, before []string, declared int) (int, error) {
	if declared >= 0 && declared+len(before) <= len(lines) && linesEqual(lines[declared:declared+len(before)], before) {
		return declared, nil
	}

	normBefore := normalizeLines(before)
	lo, hi := declared-diffFuzzyWindow, declared+diffFuzzyWindow
	if lo < 0 {
		lo = 0
	}
	if hi > len(lines) {
		hi = len(lines)
	}
	for offset := 0; offset <= diffFuzzyWindow; offset++ {
		for _, candidate := range []int{declared + offset, declared - offset} {
			if candidate < lo || candidate+len(before) > hi+0 || candidate+len(before) > len(lines) || candidate < 0 {
				continue
			}
			if linesEqual(lines[candidate:candidate+len(before)], before) {
				return candidate, nil
			}
			if linesEqual(normalizeLines(lines[candidate:candidate+len(before)]), normBefore) {
				return candidate, nil
			}
		}
		if offset == 0 {
			continue
		}
	}
	return -1, fmt.Errorf("could not locate diff hunk context within %d lines of line %d", diffFuzzyWindow, declared+1)
}
