// Package contenttype resolves a response Content-Type from a request
// path's extension, per spec.md §4.3.
package contenttype

import "strings"

var byExtension = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".xml":  "application/xml; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".woff": "font/woff",
	".woff2": "font/woff2",
}

const (
	defaultType = "text/plain"
	fallback    = "application/octet-stream"
)

// FromExtension resolves path's last "." extension to a MIME type. An
// absent path or extension falls back to text/plain; a present but unknown
// extension falls back to application/octet-stream.
func FromExtension(path string) string {
	if path == "" {
		return defaultType
	}

	dot := strings.LastIndexByte(path, '.')
	if dot < 0 || dot == len(path)-1 {
		return defaultType
	}

	ext := strings.ToLower(path[dot:])
	if ct, ok := byExtension[ext]; ok {
		return ct
	}
	return fallback
}
