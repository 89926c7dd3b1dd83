package utils

import (
	"path/filepath"
	"strings"
)

// SanitizeFilename strips any path components from an uploaded filename
// so it can never escape the upload directory.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

// IsPDF reports whether the filename carries a pdf extension.
func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
