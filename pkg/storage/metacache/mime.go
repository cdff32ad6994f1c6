package metacache

import (
	"mime"
	"path/filepath"
	"strings"
)

// extraMimeTypes supplements the platform MIME database with types common
// in personal cloud workloads that some systems leave unregistered.
var extraMimeTypes = map[string]string{
	".txt":   "text/plain; charset=utf-8",
	".md":    "text/markdown",
	".yaml":  "application/yaml",
	".yml":   "application/yaml",
	".toml":  "application/toml",
	".heic":  "image/heic",
	".webp":  "image/webp",
	".mkv":   "video/x-matroska",
	".flac":  "audio/flac",
	".opus":  "audio/opus",
	".7z":    "application/x-7z-compressed",
	".epub":  "application/epub+zip",
	".ics":   "text/calendar",
	".vcf":   "text/vcard",
	".woff2": "font/woff2",
}

// DetectMime derives a MIME type from the file name's extension, falling
// back to application/octet-stream.
func DetectMime(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if t, ok := extraMimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
