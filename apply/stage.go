package apply

import (
	"os"
	"path/filepath"
)

// stage holds one apply step's in-memory working set: the pre-image of
// every file touched (read once, kept for rollback) and its staged
// replacement content (spec §4.4 step 4, "written to a staging buffer per
// file; only on full success are files replaced atomically").
type stage struct {
	baseDir   string
	preimages map[string]string
	staged    map[string]string
	created   map[string]bool
}

func newStage(baseDir string) *stage {
	return &stage{baseDir: baseDir, preimages: map[string]string{}, staged: map[string]string{}, created: map[string]bool{}}
}

// read returns the current working content for file: its already-staged
// content if a prior edit in this step touched it, otherwise the file's
// on-disk content (recorded as the pre-image the first time).
func (s *stage) read(file string) (string, error) {
	if content, ok := s.staged[file]; ok {
		return content, nil
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, file))
	if err != nil {
		return "", err
	}
	s.preimages[file] = string(data)
	s.staged[file] = string(data)
	return string(data), nil
}

// markCreated records file as having no pre-image: it did not exist before
// this step staged it, so a rollback should delete rather than restore it.
func (s *stage) markCreated(file string) {
	s.created[file] = true
}

func (s *stage) write(file, content string) {
	s.staged[file] = content
}

// resetToPreimage discards any staged edits and starts file over from its
// original on-disk content (or, for a file this step created, from
// nonexistence), for the verify-retry loop's "apply the new edits on top of
// the original pre-image" rule.
func (s *stage) resetToPreimage(file string) {
	if pre, ok := s.preimages[file]; ok {
		s.staged[file] = pre
		return
	}
	if s.created[file] {
		delete(s.staged, file)
	}
}

// touchedFiles returns the files this stage has staged content for.
func (s *stage) touchedFiles() []string {
	out := make([]string, 0, len(s.staged))
	for f := range s.staged {
		out = append(out, f)
	}
	return out
}

// commit atomically replaces every staged file's on-disk content via
// write-to-temp-then-rename (grounded on tools/file_writer.go's
// backup-before-overwrite discipline, generalized to a true atomic rename
// rather than a .bak copy).
func (s *stage) commit() error {
	for file, content := range s.staged {
		full := filepath.Join(s.baseDir, file)
		tmp := full + ".llmux-staged"
		if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
			return err
		}
		if err := os.Rename(tmp, full); err != nil {
			os.Remove(tmp)
			return err
		}
	}
	return nil
}

// rollback restores every touched file to its recorded pre-image, and
// removes any file this step created from nothing (spec §4.4 "Rollback").
func (s *stage) rollback() error {
	var firstErr error
	for file, content := range s.preimages {
		full := filepath.Join(s.baseDir, file)
		tmp := full + ".llmux-rollback"
		if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.Rename(tmp, full); err != nil {
			os.Remove(tmp)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for file := range s.created {
		if err := os.Remove(filepath.Join(s.baseDir, file)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
