package specdoc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ToggleCondition flips the checked state of the index-th completion
// condition (0-based) of the given TagItem by rewriting the task-chain
// file in place. This is the one reverse-direction mutation: the store is
// never written directly, so the watcher/sync path stays the single
// writer of task records.
//
// The rewrite is atomic (temp file + rename) to avoid the watcher
// observing a half-written file. Returns the new content hash of the
// spec directory.
func ToggleCondition(dir, tagID string, index int) (string, error) {
	tagID = strings.ToUpper(tagID)
	if !tagIDRe.MatchString(tagID) {
		return "", fmt.Errorf("malformed tag id %q", tagID)
	}
	if index < 0 {
		return "", fmt.Errorf("condition index must be non-negative")
	}

	path := filepath.Join(dir, TaskChainFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	rewritten, err := toggleInText(string(data), tagID, index)
	if err != nil {
		return "", err
	}

	if err := writeAtomic(path, []byte(rewritten)); err != nil {
		return "", err
	}

	acceptance, err := readOptional(filepath.Join(dir, AcceptanceFile))
	if err != nil {
		return "", err
	}
	requirements, err := readOptional(filepath.Join(dir, RequirementsFile))
	if err != nil {
		return "", err
	}
	return ContentHash([]byte(rewritten), acceptance, requirements), nil
}

// toggleInText locates the tag's region, then its index-th checkbox line
// inside the Completion Conditions field, and flips exactly that line.
// Everything else is preserved byte for byte.
func toggleInText(text, tagID string, index int) (string, error) {
	lines := strings.Split(text, "\n")

	inRegion := false
	inConditions := false
	seen := -1
	for i, raw := range lines {
		if m := tagHeadingRe.FindStringSubmatch(raw); m != nil {
			if inRegion {
				break // region ended before the condition was found
			}
			inRegion = strings.EqualFold(m[1], tagID)
			inConditions = false
			continue
		}
		if !inRegion {
			continue
		}

		if m := labelLineRe.FindStringSubmatch(raw); m != nil {
			label := strings.ToLower(strings.TrimSpace(m[1]))
			if kind, ok := taskFieldTable[label]; ok {
				inConditions = kind == fieldConditions
				continue
			}
		}
		if !inConditions {
			continue
		}

		if checkboxRe.MatchString(raw) {
			seen++
			if seen == index {
				lines[i] = flipCheckbox(raw)
				return strings.Join(lines, "\n"), nil
			}
		}
	}

	if !inRegion && seen < 0 {
		return "", fmt.Errorf("%s not found", tagID)
	}
	return "", fmt.Errorf("%s has no condition %d", tagID, index)
}

func flipCheckbox(line string) string {
	if i := strings.Index(line, "[ ]"); i >= 0 {
		return line[:i] + "[x]" + line[i+3:]
	}
	if i := strings.Index(line, "[x]"); i >= 0 {
		return line[:i] + "[ ]" + line[i+3:]
	}
	if i := strings.Index(line, "[X]"); i >= 0 {
		return line[:i] + "[ ]" + line[i+3:]
	}
	return line
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".specsync-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
