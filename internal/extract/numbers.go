package extract

import (
	"strconv"
	"strings"
	"unicode"
)

var (
	unitWords = map[string]int{
		"zero": 0, "oh": 0, "o": 0, "one": 1, "two": 2, "three": 3, "four": 4,
		"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	}
	teenWords = map[string]int{
		"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
		"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	}
	tensWords = map[string]int{
		"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
		"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	}
	monthWords = map[string]int{
		"january": 1, "jan": 1, "february": 2, "feb": 2, "march": 3, "mar": 3,
		"april": 4, "apr": 4, "may": 5, "june": 6, "jun": 6, "july": 7, "jul": 7,
		"august": 8, "aug": 8, "september": 9, "sept": 9, "sep": 9,
		"october": 10, "oct": 10, "november": 11, "nov": 11, "december": 12, "dec": 12,
	}
	repeatWords = map[string]int{"double": 2, "triple": 3}
)

// numberTokens lower-cases s and splits it on whitespace, hyphens and
// punctuation other than the digit separators kept inside digit runs.
func numberTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == ',' || r == '.' || r == '?' || r == '!'
	})
}

// spokenDigits converts a digit-by-digit utterance into a digit string,
// dropping every word that is not a number.
func spokenDigits(s string) string {
	tokens := numberTokens(s)
	var b strings.Builder
	repeat := 1
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if n, ok := repeatWords[tok]; ok {
			repeat = n
			continue
		}
		var digits string
		switch {
		case hasDigit(tok):
			digits = digitsOnly(tok)
		case tok == "o" && !(i+1 < len(tokens) && isNumberWord(tokens[i+1])) && !(i > 0 && isNumberWord(tokens[i-1])):
			// A bare "o" away from other numbers is a letter, not zero.
			continue
		default:
			if v, ok := unitWords[tok]; ok {
				digits = strconv.Itoa(v)
			} else if v, ok := teenWords[tok]; ok {
				digits = strconv.Itoa(v)
			} else if v, ok := tensWords[tok]; ok {
				if i+1 < len(tokens) {
					if u, ok := unitWords[tokens[i+1]]; ok && u > 0 {
						v += u
						i++
					}
				}
				digits = strconv.Itoa(v)
			} else if tok == "hundred" {
				digits = "00"
			} else {
				repeat = 1
				continue
			}
		}
		for r := 0; r < repeat; r++ {
			b.WriteString(digits)
		}
		repeat = 1
	}
	return b.String()
}

// spokenIntegers returns every integer mentioned in s, in order. Compound
// words combine ("twenty five" is 25, "twenty twenty seven" is 2027), a
// leading "oh"/"zero" before a unit reads as that unit ("oh five" is 5) and
// month names count as their month number.
func spokenIntegers(s string) []int {
	tokens := numberTokens(s)
	var out []int
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if hasDigit(tok) {
			for _, run := range digitRuns(tok) {
				// "1225" and "0929" are MMYY; "2025" is a year.
				if len(run) == 4 {
					if mm, _ := strconv.Atoi(run[:2]); mm >= 1 && mm <= 12 {
						yy, _ := strconv.Atoi(run[2:])
						out = append(out, mm, yy)
						continue
					}
				}
				if n, err := strconv.Atoi(run); err == nil {
					out = append(out, n)
				}
			}
			continue
		}
		if m, ok := monthWords[tok]; ok {
			out = append(out, m)
			continue
		}
		if v, ok := tensWords[tok]; ok {
			if i+1 < len(tokens) {
				next := tokens[i+1]
				if _, isTens := tensWords[next]; isTens && v == 20 {
					year, used := compoundAt(tokens, i+1)
					out = append(out, 2000+year)
					i += used
					continue
				}
				if teen, isTeen := teenWords[next]; isTeen && v == 20 {
					out = append(out, 2000+teen)
					i++
					continue
				}
			}
			n, used := compoundAt(tokens, i)
			out = append(out, n)
			i += used - 1
			continue
		}
		if v, ok := teenWords[tok]; ok {
			out = append(out, v)
			continue
		}
		if v, ok := unitWords[tok]; ok {
			if tok == "o" && !(i+1 < len(tokens) && isNumberWord(tokens[i+1])) {
				continue
			}
			if i+1 < len(tokens) && tokens[i+1] == "thousand" {
				n := v * 1000
				i++
				if i+1 < len(tokens) && isNumberWord(tokens[i+1]) {
					rest, used := compoundAt(tokens, i+1)
					n += rest
					i += used
				}
				out = append(out, n)
				continue
			}
			if v == 0 && i+1 < len(tokens) {
				if u, ok := unitWords[tokens[i+1]]; ok && u > 0 {
					out = append(out, u)
					i++
					continue
				}
			}
			out = append(out, v)
		}
	}
	return out
}

// compoundAt reads a number of at most two words starting at tokens[i]
// and reports how many tokens it consumed.
func compoundAt(tokens []string, i int) (int, int) {
	tok := tokens[i]
	if v, ok := tensWords[tok]; ok {
		if i+1 < len(tokens) {
			if u, ok := unitWords[tokens[i+1]]; ok && u > 0 {
				return v + u, 2
			}
		}
		return v, 1
	}
	if v, ok := teenWords[tok]; ok {
		return v, 1
	}
	if v, ok := unitWords[tok]; ok {
		return v, 1
	}
	if hasDigit(tok) {
		if n, err := strconv.Atoi(digitsOnly(tok)); err == nil {
			return n, 1
		}
	}
	return 0, 1
}

func isNumberWord(tok string) bool {
	if hasDigit(tok) {
		return true
	}
	if _, ok := unitWords[tok]; ok {
		return true
	}
	if _, ok := teenWords[tok]; ok {
		return true
	}
	_, ok := tensWords[tok]
	return ok
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitRuns(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r < '0' || r > '9' })
}
