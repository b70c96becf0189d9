package render

import (
	"html"
	"path"
	"strings"

	"datalogger/internal/fsutil"
)

const (
	DefaultListingInitial   = 2048
	DefaultListingIncrement = 1024
	DefaultListingMax       = 1 << 20

	rowOverhead = 350
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// IsImage reports whether name has an extension the thumbnailer decodes.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(path.Ext(name))]
}

// Listing accumulates table rows for the file list in a buffer that grows in
// steps and never beyond max bytes. Once a growth is refused the listing is
// truncated and takes no more rows.
type Listing struct {
	buf       []byte
	increment int
	max       int
	rows      int
	truncated bool
}

func NewListing(initial, increment, max int) *Listing {
	if initial <= 0 {
		initial = DefaultListingInitial
	}
	if increment <= 0 {
		increment = DefaultListingIncrement
	}
	if max < initial {
		max = initial
	}
	return &Listing{buf: make([]byte, 0, initial), increment: increment, max: max}
}

// AddRow appends the row for name. It returns false once the listing is
// truncated.
func (l *Listing) AddRow(name string) bool {
	if l.truncated {
		return false
	}
	row := rowHTML(name)
	need := len(name)*4 + rowOverhead
	if len(row) > need {
		need = len(row)
	}
	if len(l.buf)+need >= cap(l.buf) && !l.grow(need) {
		l.truncated = true
		return false
	}
	l.buf = append(l.buf, row...)
	l.rows++
	return true
}

func (l *Listing) grow(need int) bool {
	size := cap(l.buf) + max(need, l.increment)
	if size > l.max {
		return false
	}
	nb := make([]byte, len(l.buf), size)
	copy(nb, l.buf)
	l.buf = nb
	return true
}

func (l *Listing) Bytes() []byte   { return l.buf }
func (l *Listing) Rows() int       { return l.rows }
func (l *Listing) Cap() int        { return cap(l.buf) }
func (l *Listing) Truncated() bool { return l.truncated }

func rowHTML(name string) string {
	// percent-encoded for the query, then escaped for the attribute
	enc := html.EscapeString(fsutil.EscapeLink(name))
	var b strings.Builder
	b.WriteString("<tr><td>")
	if IsImage(name) {
		b.WriteString(`<img class="thumb" src="/thumb?file=`)
		b.WriteString(enc)
		b.WriteString(`" alt="" loading="lazy"> `)
	}
	b.WriteString(html.EscapeString(name))
	b.WriteString(`</td><td><a href="/download?file=`)
	b.WriteString(enc)
	b.WriteString(`">Download</a></td><td><a href="/delete?file=`)
	b.WriteString(enc)
	b.WriteString(`" class="delete-link">Delete</a></td></tr>`)
	return b.String()
}
