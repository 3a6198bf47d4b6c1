package fuzzy

import (
	"strings"
	"unicode"
)

const phoneticMatchScore = 0.85

// phoneticScore implements spec §4.3's phonetic algorithm: Soundex on the
// first token plus the full string, scoring 0.85 on either match and 0
// otherwise. No corpus library supplies Soundex/Metaphone, so this is a
// direct stdlib implementation of the standard Soundex algorithm.
func phoneticScore(a, b string) float64 {
	if sa, sb := soundex(firstToken(a)), soundex(firstToken(b)); sa != "" && sa == sb {
		return phoneticMatchScore
	}
	if sa, sb := soundex(a), soundex(b); sa != "" && sa == sb {
		return phoneticMatchScore
	}
	return 0
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var soundexCode = map[rune]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 's': '2', 'x': '2', 'z': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
}

// soundex computes the standard 4-character Soundex code of s, lowercasing
// and skipping non-letters first.
func soundex(s string) string {
	letters := make([]rune, 0, len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteRune(unicode.ToUpper(letters[0]))

	lastCode := soundexCode[letters[0]]
	for _, r := range letters[1:] {
		code, ok := soundexCode[r]
		if !ok {
			// Vowels separate equal codes; h and w do not.
			if r != 'h' && r != 'w' {
				lastCode = 0
			}
			continue
		}
		if code != lastCode {
			b.WriteByte(code)
		}
		lastCode = code
		if b.Len() >= 4 {
			break
		}
	}

	out := b.String()
	for len(out) < 4 {
		out += "0"
	}
	return out[:4]
}
