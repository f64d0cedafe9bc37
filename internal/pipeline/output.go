package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// OutputPath is where the result for input is written by default:
// <stem>_extracted.json next to the input.
func OutputPath(input string) string {
	dir := filepath.Dir(input)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, stem+"_extracted.json")
}

// BackupPath names the copy kept when an existing output is replaced.
func BackupPath(output string, at time.Time) string {
	dir := filepath.Dir(output)
	stem := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	return filepath.Join(dir, fmt.Sprintf("%s.backup_%d.json", stem, at.Unix()))
}

// WriteResult writes res as indented JSON. An existing file at path is
// renamed to its backup path first. It returns the backup path, if any.
func WriteResult(path string, res *Result) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	var backup string
	if _, err := os.Stat(path); err == nil {
		backup = BackupPath(path, time.Now())
		if err := os.Rename(path, backup); err != nil {
			return "", fmt.Errorf("failed to back up %s: %w", path, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return backup, fmt.Errorf("failed to write result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return backup, fmt.Errorf("failed to write result: %w", err)
	}
	return backup, nil
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, unicode.IsSpace)
}
