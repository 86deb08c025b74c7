package model

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeBody strips markup and collapses whitespace so that placeholder
// structures an editor emits for an empty document ("<p><br></p>") do not
// count as content and do not perturb the content hash.
func NormalizeBody(body string) string {
	text := tagRe.ReplaceAllString(body, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// HasContent reports whether the fields hold anything worth persisting.
// A draft that fails this check is never pushed to the server and is
// treated as absent when read back from the local cache.
func (f Fields) HasContent() bool {
	return strings.TrimSpace(f.Title) != "" ||
		strings.TrimSpace(f.Excerpt) != "" ||
		NormalizeBody(f.Body) != ""
}

// Hash digests the normalized content fields. Identical hashes gate
// redundant version snapshots.
func (f Fields) Hash() string {
	h := sha256.New()
	for _, part := range []string{
		strings.TrimSpace(f.Title),
		NormalizeBody(f.Body),
		strings.TrimSpace(f.Excerpt),
		string(f.Meta),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
