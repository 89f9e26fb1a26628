// Package output writes bytegraph analysis results to files.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bytegraph/internal/disasm"
)

var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
)

// SafeFileName converts a qualified function name to a file name that is
// valid on every platform. Long names are cut at 200 bytes.
func SafeFileName(name string) string {
	s := unsafeChars.Replace(name)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// WriteListing writes an instruction listing to listings/<name>.txt.
func WriteListing(dir, name string, insts []disasm.Inst, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "listings", SafeFileName(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir listings: %w", err)
	}
	text := disasm.Format(insts, annotators...)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// WriteDOT writes DOT source to dir/rel, creating parent directories.
// Empty sources are skipped. It returns the path written, or "".
func WriteDOT(dir, rel, src string) (string, error) {
	if src == "" {
		return "", nil
	}
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("output: mkdir %s: %w", filepath.Dir(rel), err)
	}
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, nil
}

// WriteJSON writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}

// WriteJSONL writes one JSON object per line to path.
func WriteJSONL[T any](path string, records []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("output: encode %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("output: flush %s: %w", path, err)
	}
	return nil
}
