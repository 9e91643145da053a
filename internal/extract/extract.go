package extract

import (
	"strconv"
	"strings"
	"unicode"
)

var (
	namePrefixes = []string{
		"my full name is", "my name is", "the name is", "full name is", "name is",
		"this is", "it is", "it's", "i am", "i'm", "im", "call me",
	}
	cardNamePrefixes = []string{
		"the name on the card is", "name on the card is", "the name on my card is",
		"name on my card is", "name on card is", "the cardholder name is",
		"cardholder name is", "the cardholder is", "cardholder is", "it's under", "it is under",
	}
	emailPrefixes = []string{
		"my email address is", "my email is", "the email address is", "email address is",
		"the email is", "email is", "it is", "it's",
	}
	addressPrefixes = []string{
		"my shipping address is", "my address is", "the address is", "shipping address is",
		"address is", "ship it to", "ship to", "send it to", "deliver it to", "deliver to",
		"i live at", "it is", "it's",
	}
	emailWordReplacer = strings.NewReplacer(
		" at sign ", "@",
		" at ", "@",
		" dot ", ".",
		" period ", ".",
		" underscore ", "_",
		" dash ", "-",
		" hyphen ", "-",
		" plus ", "+",
	)
)

// Extract converts a spoken answer into a raw candidate for field. It never fails;
// Validate decides whether the candidate is usable.
func (p *Parser) Extract(field Field, transcript string) string {
	switch field {
	case FieldName:
		return extractName(transcript, namePrefixes)
	case FieldCardName:
		return extractName(transcript, append(append([]string{}, cardNamePrefixes...), namePrefixes...))
	case FieldEmail:
		return extractEmail(transcript)
	case FieldAddress:
		return extractAddress(transcript)
	case FieldPhone, FieldCardNumber, FieldCVV:
		return spokenDigits(transcript)
	case FieldExpiryDate:
		return extractExpiry(transcript)
	default:
		return strings.TrimSpace(transcript)
	}
}

func extractName(transcript string, prefixes []string) string {
	s := stripPrefix(cleanSpoken(transcript), prefixes)
	return strings.TrimSpace(s)
}

func extractEmail(transcript string) string {
	s := stripPrefix(cleanSpoken(transcript), emailPrefixes)
	s = " " + s + " "
	// Replace twice so adjacent spoken separators ("dot co dot uk") both match.
	s = emailWordReplacer.Replace(s)
	s = emailWordReplacer.Replace(" " + s + " ")
	s = strings.Join(strings.Fields(s), "")
	return strings.Trim(s, ".,")
}

func extractAddress(transcript string) string {
	s := stripPrefix(cleanSpoken(transcript), addressPrefixes)
	return strings.Trim(strings.Join(strings.Fields(s), " "), ".,")
}

func extractExpiry(transcript string) string {
	nums := spokenIntegers(transcript)
	parts := make([]string, 0, len(nums))
	for _, n := range nums {
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, " ")
}

// cleanSpoken lower-cases the transcript, drops sentence punctuation that
// recognizers add, and collapses whitespace. Symbols that carry meaning in
// field values (@ . - ' + _ # /) are kept.
func cleanSpoken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '-' || r == '\'' || r == '+' || r == '_' || r == '#' || r == '/':
			b.WriteRune(r)
		case r == '’':
			b.WriteRune('\'')
		default:
			b.WriteRune(' ')
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	return strings.TrimRight(out, ".")
}

func stripPrefix(s string, prefixes []string) string {
	for _, prefix := range prefixes {
		if s == prefix {
			return ""
		}
		if strings.HasPrefix(s, prefix+" ") {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}

// wordsOf reduces s to lower-case letter/digit/apostrophe words joined by single spaces.
func wordsOf(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '\'':
			b.WriteRune(r)
		case r == '’':
			b.WriteRune('\'')
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func (p *Parser) containsOrderCommand(s string) bool {
	words := " " + wordsOf(s) + " "
	for _, phrase := range p.orderPhrases {
		if strings.Contains(words, " "+phrase+" ") {
			return true
		}
	}
	return false
}
