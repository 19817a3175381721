package match

import "strings"

// DerivePrefix extracts the longest static directory prefix from a glob
// pattern. Object stores are listed from this prefix and the results
// filtered by the full pattern.
//
//	"in/2024/**/*.mp4" → "in/2024/"
//	"*.mov"            → ""
//	"in/take-{a,b}.mp4" → "in/"
//	"in/exact.mp4"     → "in/exact.mp4"
//	"in/take\*.mp4"    → "in/take*.mp4"
func DerivePrefix(pattern string) string {
	if pattern == "" {
		return ""
	}
	pattern = NormalizePattern(pattern)

	idx := firstUnescapedMeta(pattern)
	switch {
	case idx == -1:
		return unescape(pattern)
	case idx == 0:
		return ""
	}

	prefix := pattern[:idx]
	if slash := strings.LastIndex(prefix, "/"); slash >= 0 {
		return unescape(prefix[:slash+1])
	}
	return ""
}

// IsGlobPattern reports whether pattern contains an unescaped metacharacter.
func IsGlobPattern(pattern string) bool {
	return firstUnescapedMeta(NormalizePattern(pattern)) >= 0
}

func firstUnescapedMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '\\':
			if i+1 < len(pattern) {
				i++
			}
		case '*', '?', '[', '{':
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(globEscapable, s[i+1]) >= 0 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
