package constants

import "strings"

// Source file formats accepted by the rasterizer.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
)

// AllowedExtensions holds the default allowed file extensions for ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"heic": {},
	"heif": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps a normalized extension to a source format, or "".
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "jpg", "jpeg", "png", "gif", "heic", "heif":
		return IMAGE
	default:
		return ""
	}
}

// IsHEICExt reports whether the extension denotes an HEIC/HEIF container.
func IsHEICExt(ext string) bool {
	e := NormalizeExt(ext)
	return e == "heic" || e == "heif"
}
