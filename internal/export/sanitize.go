package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// FileName builds a download name such as "My_Project.edl" from a project
// name, falling back to "timeline" when nothing printable remains.
func FileName(projectName, ext string) string {
	base := strings.ReplaceAll(SanitizeName(projectName, 80), " ", "_")
	if base == "" || strings.Trim(base, "._") == "" {
		base = "timeline"
	}
	return base + "." + strings.TrimPrefix(ext, ".")
}

func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputDir checks a caller-supplied export directory.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output directory is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("output directory cannot contain path traversal")
		}
	}

	cleaned := filepath.Clean(dir)
	if cleaned != dir {
		return fmt.Errorf("output directory must be a clean path")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist")
		}
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output directory is not a directory")
	}

	return nil
}
