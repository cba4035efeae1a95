package normalizers

import (
	"strings"
)

// asciiLetters keeps upper-cased A-Z after folding diacritics
func asciiLetters(s string) string {
	s = strings.ToUpper(Fold(s))
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Soundex calculates the American Soundex code of a word ("Robert" -> "R163").
// Returns "" when the word has no letters.
func Soundex(str string) string {
	str = asciiLetters(str)
	if len(str) == 0 {
		return ""
	}

	result := []byte{str[0]}
	prevCode := soundexCode(str[0])

	for i := 1; i < len(str) && len(result) < 4; i++ {
		char := str[i]
		// H and W do not separate letters with the same code
		if char == 'H' || char == 'W' {
			continue
		}

		code := soundexCode(char)
		if code != '0' && code != prevCode {
			result = append(result, code)
		}
		prevCode = code
	}

	for len(result) < 4 {
		result = append(result, '0')
	}

	return string(result)
}

func soundexCode(char byte) byte {
	switch char {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	default:
		return '0'
	}
}

// Metaphone calculates a simplified Metaphone key of at most six characters
func Metaphone(str string) string {
	str = asciiLetters(str)
	if len(str) == 0 {
		return ""
	}

	// Initial letter exceptions
	switch {
	case strings.HasPrefix(str, "KN"), strings.HasPrefix(str, "GN"), strings.HasPrefix(str, "PN"), strings.HasPrefix(str, "WR"):
		str = str[1:]
	case strings.HasPrefix(str, "X"):
		str = "S" + str[1:]
	case strings.HasPrefix(str, "WH"):
		str = "W" + str[2:]
	}

	var metaphone strings.Builder
	prevCode := byte(0)

	for i := 0; i < len(str) && metaphone.Len() < 6; i++ {
		code := metaphoneCode(str[i], i, str)

		if code != 0 && code != prevCode {
			metaphone.WriteByte(code)
		}
		prevCode = code
	}

	return metaphone.String()
}

func metaphoneCode(char byte, pos int, word string) byte {
	next := byte(0)
	if pos+1 < len(word) {
		next = word[pos+1]
	}
	switch char {
	case 'A', 'E', 'I', 'O', 'U':
		if pos == 0 {
			return char
		}
		return 0
	case 'B':
		// silent in trailing "MB"
		if pos == len(word)-1 && pos > 0 && word[pos-1] == 'M' {
			return 0
		}
		return 'B'
	case 'C':
		if next == 'H' {
			return 'X'
		}
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'S'
		}
		return 'K'
	case 'D':
		if next == 'G' && pos+2 < len(word) && strings.IndexByte("EIY", word[pos+2]) >= 0 {
			return 'J'
		}
		return 'T'
	case 'G':
		if next == 'H' && (pos+2 >= len(word) || strings.IndexByte("AEIOU", word[pos+2]) < 0) {
			return 0
		}
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'J'
		}
		return 'K'
	case 'H':
		return 0
	case 'K':
		if pos > 0 && word[pos-1] == 'C' {
			return 0
		}
		return 'K'
	case 'P':
		if next == 'H' {
			return 'F'
		}
		return 'P'
	case 'Q':
		return 'K'
	case 'S':
		if next == 'H' {
			return 'X'
		}
		return 'S'
	case 'T':
		if next == 'H' {
			return '0'
		}
		return 'T'
	case 'V':
		return 'F'
	case 'W', 'Y':
		if strings.IndexByte("AEIOU", next) >= 0 && next != 0 {
			return char
		}
		return 0
	case 'X':
		return 'S'
	case 'Z':
		return 'S'
	case 'F', 'J', 'L', 'M', 'N', 'R':
		return char
	default:
		return 0
	}
}
