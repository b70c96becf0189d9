package fsutil

import (
	"errors"
	"strings"
)

// MaxNameLen bounds every file name taken from a request (raw bytes).
const MaxNameLen = 128

var (
	ErrMissingParam = errors.New("missing query parameter")
	ErrParamTooLong = errors.New("query parameter too long")
)

// SanitizeName replaces every ".." in name with "__". It never cleans or
// resolves the path, so the result is predictable and contains no "..".
func SanitizeName(name string) string {
	return strings.ReplaceAll(name, "..", "__")
}

// JoinRoot joins root and a sanitized name with a single slash.
func JoinRoot(root, name string) string {
	return strings.TrimRight(root, "/") + "/" + SanitizeName(name)
}

// QueryValue returns the raw (still encoded) value of key in rawQuery.
// Values longer than max raw bytes are rejected.
func QueryValue(rawQuery, key string, max int) (string, error) {
	for rawQuery != "" {
		var pair string
		pair, rawQuery, _ = strings.Cut(rawQuery, "&")
		k, v, _ := strings.Cut(pair, "=")
		if k != key {
			continue
		}
		if max > 0 && len(v) > max {
			return "", ErrParamTooLong
		}
		return v, nil
	}
	return "", ErrMissingParam
}

// URLDecode decodes %XX escapes and '+' as space. A malformed escape becomes
// a single '_' and decoding continues past it.
func URLDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		switch c := s[i]; c {
		case '%':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
				i += 3
				continue
			}
			b.WriteByte('_')
			switch {
			case i+2 < len(s):
				i += 3
			case i+1 < len(s):
				i += 2
			default:
				i++
			}
		case '+':
			b.WriteByte(' ')
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// FileParam extracts and decodes the "file" query parameter.
func FileParam(rawQuery string) (string, error) {
	raw, err := QueryValue(rawQuery, "file", MaxNameLen)
	if err != nil {
		return "", err
	}
	name := URLDecode(raw)
	if name == "" {
		return "", ErrMissingParam
	}
	return name, nil
}

// linkEscapes is the reserved set percent-encoded in generated links.
var linkEscapes = [256]string{
	' ': "%20",
	'(': "%28",
	')': "%29",
	'&': "%26",
	'=': "%3D",
	'?': "%3F",
	'/': "%2F",
}

// EscapeLink percent-encodes only the link-reserved characters
// (space ( ) & = ? /); everything else passes through.
func EscapeLink(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 8)
	for i := 0; i < len(name); i++ {
		if e := linkEscapes[name[i]]; e != "" {
			b.WriteString(e)
			continue
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
