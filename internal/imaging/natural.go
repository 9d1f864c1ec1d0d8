package imaging

import (
	"slices"
	"strings"
)

type chunk struct {
	text   string
	digits bool
}

// naturalKey は文字列を数字の連続とそれ以外の連続に分割します。
func naturalKey(s string) []chunk {
	var chunks []chunk
	start := 0
	for i := 1; i <= len(s); i++ {
		if i < len(s) && isDigit(s[i]) == isDigit(s[start]) {
			continue
		}
		chunks = append(chunks, chunk{text: s[start:i], digits: isDigit(s[start])})
		start = i
	}
	return chunks
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func compareChunk(a, b chunk) int {
	switch {
	case a.digits && b.digits:
		x := strings.TrimLeft(a.text, "0")
		y := strings.TrimLeft(b.text, "0")
		if len(x) != len(y) {
			if len(x) < len(y) {
				return -1
			}
			return 1
		}
		return strings.Compare(x, y)
	case a.digits:
		return -1
	case b.digits:
		return 1
	default:
		return strings.Compare(strings.ToLower(a.text), strings.ToLower(b.text))
	}
}

// NaturalCompare は数字部分を整数として、それ以外を大文字小文字を区別せずに比較します。
// "img2" は "img10" より前になります。比較結果が等しい場合は元の文字列で順序を確定させます。
func NaturalCompare(a, b string) int {
	ka, kb := naturalKey(a), naturalKey(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := compareChunk(ka[i], kb[i]); c != 0 {
			return c
		}
	}
	if len(ka) != len(kb) {
		if len(ka) < len(kb) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// SortNatural は paths を自然順に並べ替えます。
func SortNatural(paths []string) {
	slices.SortFunc(paths, NaturalCompare)
}
