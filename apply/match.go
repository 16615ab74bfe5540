package apply

import (
	"fmt"
	"strings"
)

// applyOldNew implements spec §4.4 step 2: an exact match first, falling
// back to a whitespace-normalized line-wise match, erroring only when
// neither finds a unique location.
func applyOldNew(content, old, new string) (string, error) {
	if count := strings.Count(content, old); count == 1 {
		idx := strings.Index(content, old)
		return content[:idx] + new + content[idx+len(old):], nil
	} else if count > 1 {
		return "", fmt.Errorf("old text matches %d locations, expected exactly one", count)
	}
	return applyWhitespaceNormalized(content, old, new)
}

// applyWhitespaceNormalized collapses runs of spaces/tabs and strips
// trailing whitespace on every line before comparing, then substitutes the
// corresponding *original* lines so untouched formatting elsewhere in the
// file is preserved.
func applyWhitespaceNormalized(content, old, new string) (string, error) {
	contentLines := strings.Split(content, "\n")
	oldLines := strings.Split(old, "\n")
	if len(oldLines) == 0 || (len(oldLines) == 1 && oldLines[0] == "") {
		return "", fmt.Errorf("old text is empty")
	}

	normContent := normalizeLines(contentLines)
	normOld := normalizeLines(oldLines)

	match := -1
	for i := 0; i+len(normOld) <= len(normContent); i++ {
		if linesEqual(normContent[i:i+len(normOld)], normOld) {
			if match != -1 {
				return "", fmt.Errorf("whitespace-normalized match is ambiguous")
			}
			match = i
		}
	}
	if match == -1 {
		return "", fmt.Errorf("no match found, even after whitespace normalization")
	}

	newLines := strings.Split(new, "\n")
	out := make([]string, 0, len(contentLines)-len(normOld)+len(newLines))
	out = append(out, contentLines[:match]...)
	out = append(out, newLines...)
	out = append(out, contentLines[match+len(normOld):]...)
	return strings.Join(out, "\n"), nil
}

func normalizeLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = normalizeLine(l)
	}
	return out
}

func normalizeLine(s string) string {
	s = strings.TrimRight(s, " \t")
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	return b.String()
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
