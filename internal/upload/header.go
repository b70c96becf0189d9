package upload

import (
	"bytes"
	"strings"

	"datalogger/internal/fsutil"
)

// MaxBoundaryLen is the longest boundary accepted, without the "--" prefix.
const MaxBoundaryLen = 125

var (
	dispositionKey = []byte("Content-Disposition:")
	filenameKey    = []byte(`filename="`)
)

// BoundaryFromContentType returns the part delimiter ("--" + boundary) named
// by a multipart Content-Type header value.
func BoundaryFromContentType(ct string) ([]byte, error) {
	if ct == "" {
		return nil, ErrMissingContentType
	}
	_, v, ok := strings.Cut(ct, "boundary=")
	if !ok {
		return nil, ErrMissingBoundary
	}
	if strings.HasPrefix(v, `"`) {
		v = v[1:]
		if i := strings.IndexByte(v, '"'); i >= 0 {
			v = v[:i]
		}
	}
	if v == "" {
		return nil, ErrMissingBoundary
	}
	if len(v) > MaxBoundaryLen {
		return nil, ErrBoundaryTooLong
	}
	return []byte("--" + v), nil
}

// ExtractFilename finds the quoted filename of the Content-Disposition
// header in chunk. Names longer than max bytes are cut to max; max <= 0
// disables the limit.
func ExtractFilename(chunk []byte, max int) (string, error) {
	raw, err := filenameSpan(chunk)
	if err != nil {
		return "", err
	}
	if max > 0 && len(raw) > max {
		raw = raw[:max]
	}
	return string(raw), nil
}

func filenameSpan(chunk []byte) ([]byte, error) {
	i := bytes.Index(chunk, dispositionKey)
	if i < 0 {
		return nil, ErrMissingDisposition
	}
	rest := chunk[i:]
	j := bytes.Index(rest, filenameKey)
	if j < 0 {
		return nil, ErrMissingFilename
	}
	rest = rest[j+len(filenameKey):]
	end := bytes.IndexByte(rest, '"')
	if end <= 0 {
		return nil, ErrUnterminatedFilename
	}
	return rest[:end], nil
}

// ParseOverwrite reports whether the raw query asks for overwrite=true
// (case-insensitive).
func ParseOverwrite(rawQuery string) bool {
	v, err := fsutil.QueryValue(rawQuery, "overwrite", 9)
	if err != nil {
		return false
	}
	return strings.EqualFold(v, "true")
}
