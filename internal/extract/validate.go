package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	minAddressTokens        = 3
	minAddressTokensNoDigit = 4
	phoneDigits             = 10
	minCardDigits           = 13
	maxCardDigits           = 19
	minCVVDigits            = 3
	maxCVVDigits            = 4
)

var emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9\-]+(\.[a-z0-9\-]+)*\.[a-z]{2,}$`)

// Validate checks a candidate against field's structural contract and returns
// the canonical value or a correction prompt.
func (p *Parser) Validate(field Field, candidate string) Result {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || p.containsOrderCommand(candidate) {
		if candidate != "" {
			return Result{CorrectionPrompt: guardPrompt(field)}
		}
		return reject(field)
	}

	switch field {
	case FieldName, FieldCardName:
		return p.validateName(field, candidate)
	case FieldEmail:
		return validateEmail(candidate)
	case FieldAddress:
		return validateAddress(candidate)
	case FieldPhone:
		return validatePhone(candidate)
	case FieldCardNumber:
		return validateCardNumber(candidate)
	case FieldExpiryDate:
		return validateExpiry(candidate)
	case FieldCVV:
		return validateCVV(candidate)
	default:
		return Result{CorrectionPrompt: CorrectionPrompt(field)}
	}
}

func reject(field Field) Result {
	return Result{CorrectionPrompt: CorrectionPrompt(field)}
}

func (p *Parser) validateName(field Field, candidate string) Result {
	words := wordsOf(candidate)
	if words == "" || hasDigit(candidate) {
		return reject(field)
	}
	if _, ack := p.acks[words]; ack {
		return reject(field)
	}

	tokens := strings.Fields(candidate)
	longEnough := false
	for _, tok := range tokens {
		if _, meta := p.metaWords[wordsOf(tok)]; meta {
			return reject(field)
		}
		letters := 0
		for _, r := range tok {
			switch {
			case unicode.IsLetter(r):
				letters++
			case r == '-' || r == '\'' || r == '.':
			default:
				return reject(field)
			}
		}
		if letters >= 2 {
			longEnough = true
		}
	}
	if !longEnough {
		return reject(field)
	}

	for i, tok := range tokens {
		tokens[i] = titleCase(tok)
	}
	return Result{Valid: true, Value: strings.Join(tokens, " ")}
}

func validateEmail(candidate string) Result {
	email := strings.ToLower(candidate)
	if !emailPattern.MatchString(email) {
		return reject(FieldEmail)
	}
	return Result{Valid: true, Value: email}
}

func validateAddress(candidate string) Result {
	tokens := strings.Fields(candidate)
	need := minAddressTokens
	if !hasDigit(candidate) {
		need = minAddressTokensNoDigit
	}
	if len(tokens) < need {
		return reject(FieldAddress)
	}
	for i, tok := range tokens {
		tokens[i] = titleCase(tok)
	}
	return Result{Valid: true, Value: strings.Join(tokens, " ")}
}

func validatePhone(candidate string) Result {
	digits, ok := onlyDigits(candidate)
	if !ok || len(digits) != phoneDigits {
		return reject(FieldPhone)
	}
	return Result{Valid: true, Value: fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])}
}

func validateCardNumber(candidate string) Result {
	digits, ok := onlyDigits(candidate)
	if !ok || len(digits) < minCardDigits || len(digits) > maxCardDigits {
		return reject(FieldCardNumber)
	}
	groups := make([]string, 0, (len(digits)+3)/4)
	for i := 0; i < len(digits); i += 4 {
		end := i + 4
		if end > len(digits) {
			end = len(digits)
		}
		groups = append(groups, digits[i:end])
	}
	return Result{Valid: true, Value: strings.Join(groups, " ")}
}

func validateCVV(candidate string) Result {
	digits, ok := onlyDigits(candidate)
	if !ok || len(digits) < minCVVDigits || len(digits) > maxCVVDigits {
		return reject(FieldCVV)
	}
	return Result{Valid: true, Value: digits}
}

func validateExpiry(candidate string) Result {
	runs := digitRuns(candidate)
	var month, year int
	switch {
	case len(runs) >= 2:
		month, _ = strconv.Atoi(runs[0])
		year, _ = strconv.Atoi(runs[1])
	case len(runs) == 1 && len(runs[0]) == 4:
		month, _ = strconv.Atoi(runs[0][:2])
		year, _ = strconv.Atoi(runs[0][2:])
	default:
		return reject(FieldExpiryDate)
	}
	if month < 1 || month > 12 || year < 0 {
		return reject(FieldExpiryDate)
	}
	return Result{Valid: true, Value: fmt.Sprintf("%02d/%02d", month, year%100)}
}

// onlyDigits strips the separators people and recognizers put between digit
// groups and reports false when anything else remains.
func onlyDigits(candidate string) (string, bool) {
	var b strings.Builder
	for _, r := range candidate {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.' || r == '+':
		default:
			return "", false
		}
	}
	return b.String(), b.Len() > 0
}

func titleCase(tok string) string {
	rs := []rune(strings.ToLower(tok))
	upperNext := true
	for i, r := range rs {
		if upperNext && unicode.IsLetter(r) {
			rs[i] = unicode.ToUpper(r)
			upperNext = false
			continue
		}
		if r == '-' || r == '\'' && i == 1 {
			upperNext = true
		}
	}
	return string(rs)
}
