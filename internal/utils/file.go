package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadExtensions are the image extensions accepted for upload
var UploadExtensions = []string{"jpg", "jpeg", "png"}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// GetFileExtension returns the file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// HasExtension checks if a file has one of the given extensions (without dots, any case)
func HasExtension(filename string, exts []string) bool {
	ext := GetFileExtension(filename)
	if ext == "" {
		return false
	}
	for _, allowed := range exts {
		if strings.EqualFold(ext, strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}

// DownloadFilename builds a time-based name for a saved download:
// <prefix><unix millis>[-hd].<ext>
func DownloadFilename(prefix string, at time.Time, highRes bool, ext string) string {
	if ext == "" {
		ext = "jpg"
	}
	variant := ""
	if highRes {
		variant = "-hd"
	}
	return fmt.Sprintf("%s%d%s.%s", prefix, at.UnixMilli(), variant, strings.TrimPrefix(ext, "."))
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	// Replace invalid characters with underscores
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	result := filename

	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}

	// Remove leading/trailing spaces and dots
	result = strings.Trim(result, " .")

	return result
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
