// Package textnorm normalizes channel names so the same channel spelled
// differently by different providers compares equal. Pruning and matching
// both key off this normalization; changing it changes channel identity.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Quality/codec tokens carry no identity: "BBC One HD" and "BBC One" are the
// same channel on different transports.
var noiseTokens = map[string]struct{}{
	"uhd": {}, "fhd": {}, "hd": {}, "sd": {}, "4k": {}, "8k": {},
	"hdr": {}, "hevc": {}, "h265": {}, "h264": {},
	"1080p": {}, "720p": {}, "2160p": {},
}

var (
	bracketed = regexp.MustCompile(`[\(\[][^)\]]*[\)\]]`)
	plusNum   = regexp.MustCompile(`\+(\d+)`)
)

// accent folding: NFD decompose, drop combining marks, recompose.
var foldTransform = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldAccents strips diacritics ("Téléfoot" -> "Telefoot"). Input that fails
// to transform is returned unchanged.
func FoldAccents(s string) string {
	out, _, err := transform.String(foldTransform, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize reduces a display name to a canonical lowercase token string:
// accents folded, "&" and "+" spelled out, quality tokens and bracketed
// region tags dropped, punctuation collapsed to single spaces.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = FoldAccents(s)
	s = strings.ReplaceAll(s, "&", " and ")
	s = plusNum.ReplaceAllString(s, " plus $1")
	s = strings.ReplaceAll(s, "+", " plus ")
	s = bracketed.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	toks := strings.Fields(b.String())
	out := toks[:0]
	for _, t := range toks {
		if _, drop := noiseTokens[t]; drop {
			continue
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

// Tokens returns the normalized name split into a token set.
func Tokens(s string) map[string]struct{} {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	set := make(map[string]struct{})
	for _, t := range strings.Fields(n) {
		set[t] = struct{}{}
	}
	return set
}

// Compact strips everything but [a-z0-9] after lowering. Used for loose
// provider-id comparison where separators vary ("BBC.One.uk" vs "bbcone-uk").
func Compact(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
