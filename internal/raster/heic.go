package raster

import "strings"

// isHEIC sniffs the HEIC/HEIF container. Go's standard image package cannot
// decode it, so it routes to the dedicated decoder. HEIC files carry an
// ISO-BMFF ftyp box at offset 4 with one of the HEIF brand codes.
func isHEIC(data []byte, mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if mt == "image/heic" || mt == "image/heif" ||
		strings.Contains(mt, "heic") || strings.Contains(mt, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}
