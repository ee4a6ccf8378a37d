package specdoc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names of the three sub-documents inside a spec directory.
const (
	TaskChainFile    = "tasks.md"
	AcceptanceFile   = "acceptance.md"
	RequirementsFile = "requirements.md"
)

// ReadDocument loads and parses the spec directory at dir. The directory
// name is the spec identifier. Any of the three sub-document files may be
// absent; a missing file contributes an empty sub-document, not an error.
//
// The returned document carries a SHA-256 content hash over the raw
// sub-document bytes, used by the sync engine for checkpointing.
func ReadDocument(dir string) (*SpecDocument, []ParseWarning, error) {
	specID := filepath.Base(dir)
	if !IsSpecID(specID) {
		return nil, nil, fmt.Errorf("%s is not a spec directory", dir)
	}

	taskChain, err := readOptional(filepath.Join(dir, TaskChainFile))
	if err != nil {
		return nil, nil, err
	}
	acceptance, err := readOptional(filepath.Join(dir, AcceptanceFile))
	if err != nil {
		return nil, nil, err
	}
	requirements, err := readOptional(filepath.Join(dir, RequirementsFile))
	if err != nil {
		return nil, nil, err
	}

	doc, warnings := Parse(specID, string(taskChain), string(acceptance), string(requirements))
	doc.ContentHash = ContentHash(taskChain, acceptance, requirements)
	return doc, warnings, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// ContentHash computes the checkpoint hash for a spec's sub-documents.
// Sub-documents are length-prefixed so moving bytes between files cannot
// produce the same hash.
func ContentHash(taskChain, acceptance, requirements []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{taskChain, acceptance, requirements} {
		fmt.Fprintf(h, "%d:", len(part))
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SpecIDFromPath extracts the spec identifier a path belongs to, given the
// spec root directory it falls under. Returns false for paths outside the
// root or not inside a spec directory.
func SpecIDFromPath(specRoot, path string) (string, bool) {
	rel, err := filepath.Rel(specRoot, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first := rel
	if i := strings.IndexRune(filepath.ToSlash(rel), '/'); i >= 0 {
		first = rel[:i]
	}
	if !IsSpecID(first) {
		return "", false
	}
	return NormalizeSpecID(first), true
}

// ListSpecDirs returns the spec directories directly under specRoot,
// sorted by the order ReadDir yields them (lexical). A missing root
// yields an empty list.
func ListSpecDirs(specRoot string) ([]string, error) {
	entries, err := os.ReadDir(specRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read spec root %s: %w", specRoot, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && IsSpecID(e.Name()) {
			dirs = append(dirs, filepath.Join(specRoot, e.Name()))
		}
	}
	return dirs, nil
}
