package handlers

import (
	"mime"
	"path/filepath"
	"strconv"
	"strings"
)

// parseRangeHeader parses a single-range "bytes=a-b" Range header against
// a file of the given total size. Returns the full file's bounds and
// partial=false for an absent or unparsable header, matching the RFC 7233
// fallback of serving the whole entity.
func parseRangeHeader(header string, size uint64) (start, end uint64, partial bool) {
	if header == "" || !strings.HasPrefix(header, "bytes=") {
		return 0, size, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, size, false
	}

	if parts[0] == "" {
		// Suffix range: "bytes=-500" means the last 500 bytes.
		n, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil || n > size {
			return 0, size, false
		}
		return size - n, size, true
	}

	startVal, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || startVal >= size {
		return 0, size, false
	}
	if parts[1] == "" {
		return startVal, size, true
	}
	endVal, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || endVal < startVal {
		return 0, size, false
	}
	if endVal+1 > size {
		endVal = size - 1
	}
	return startVal, endVal + 1, true
}

// mimeFromExtension maps a file name's extension to a MIME type,
// defaulting to application/octet-stream for unknown or missing
// extensions.
func mimeFromExtension(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
