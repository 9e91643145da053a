// Package extract turns spoken answers into validated profile field values.
package extract

import (
	"fmt"
	"strings"

	"github.com/ent0n29/voicecart/internal/config"
)

// Field identifies one collectable profile value.
type Field string

const (
	FieldName       Field = "name"
	FieldEmail      Field = "email"
	FieldAddress    Field = "address"
	FieldPhone      Field = "phone"
	FieldCardName   Field = "cardName"
	FieldCardNumber Field = "cardNumber"
	FieldExpiryDate Field = "expiryDate"
	FieldCVV        Field = "cvv"
)

// Fields lists every field in collection order.
var Fields = []Field{
	FieldName,
	FieldEmail,
	FieldAddress,
	FieldPhone,
	FieldCardName,
	FieldCardNumber,
	FieldExpiryDate,
	FieldCVV,
}

// ParseField maps a loose field key ("card_number", "cardNumber", "CVV") to a Field.
func ParseField(s string) (Field, bool) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(s)))
	for _, f := range Fields {
		if strings.ToLower(string(f)) == key {
			return f, true
		}
	}
	switch key {
	case "fullname":
		return FieldName, true
	case "emailaddress":
		return FieldEmail, true
	case "shippingaddress":
		return FieldAddress, true
	case "phonenumber":
		return FieldPhone, true
	case "nameoncard", "cardholder", "cardholdername":
		return FieldCardName, true
	case "card", "cardno":
		return FieldCardNumber, true
	case "expiry", "expiration", "expirationdate", "exp":
		return FieldExpiryDate, true
	case "securitycode", "cvc":
		return FieldCVV, true
	}
	return "", false
}

// Result is the outcome of validating one candidate.
type Result struct {
	Valid            bool
	Value            string
	CorrectionPrompt string
}

// Err returns nil for a valid result and an *InputError otherwise.
func (r Result) Err(field Field) error {
	if r.Valid {
		return nil
	}
	return &InputError{Field: field, Prompt: r.CorrectionPrompt}
}

// InputError is a recoverable, malformed answer. The caller re-prompts with Prompt.
type InputError struct {
	Field  Field
	Prompt string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Prompt)
}

// Options carries the phrase lists the validators match against.
type Options struct {
	OrderCompletion []string
	Acknowledgments []string
	MetaWords       []string
}

// OptionsFromPhrases picks the validator lists out of a phrase set.
func OptionsFromPhrases(p config.Phrases) Options {
	return Options{
		OrderCompletion: p.OrderCompletion,
		Acknowledgments: p.Acknowledgments,
		MetaWords:       p.MetaWords,
	}
}

// Parser extracts and validates every field kind.
type Parser struct {
	orderPhrases []string
	acks         map[string]struct{}
	metaWords    map[string]struct{}
}

func NewParser(opts Options) *Parser {
	p := &Parser{
		acks:      make(map[string]struct{}, len(opts.Acknowledgments)),
		metaWords: make(map[string]struct{}, len(opts.MetaWords)),
	}
	for _, phrase := range opts.OrderCompletion {
		if w := wordsOf(phrase); w != "" {
			p.orderPhrases = append(p.orderPhrases, w)
		}
	}
	for _, a := range opts.Acknowledgments {
		if w := wordsOf(a); w != "" {
			p.acks[w] = struct{}{}
		}
	}
	for _, m := range opts.MetaWords {
		if w := wordsOf(m); w != "" {
			p.metaWords[w] = struct{}{}
		}
	}
	return p
}

// Parse extracts a candidate from transcript and validates it.
func (p *Parser) Parse(field Field, transcript string) Result {
	if p.containsOrderCommand(transcript) {
		return Result{CorrectionPrompt: guardPrompt(field)}
	}
	return p.Validate(field, p.Extract(field, transcript))
}

var correctionPrompts = map[Field]string{
	FieldName:       "Sorry, I didn't catch a name. Please say your full name.",
	FieldEmail:      "I couldn't understand that email address. Please say it like name at example dot com.",
	FieldAddress:    "Please say your full shipping address, including the house number and street.",
	FieldPhone:      "Phone numbers need exactly 10 digits. Please say your phone number again.",
	FieldCardName:   "Please say the name exactly as it appears on your card.",
	FieldCardNumber: "Card numbers have between 13 and 19 digits. Please say your card number again.",
	FieldExpiryDate: "Please say the expiry date as the month followed by the year.",
	FieldCVV:        "The security code should be 3 or 4 digits. Please say it again.",
}

// CorrectionPrompt returns the re-prompt used when field fails validation.
func CorrectionPrompt(field Field) string {
	if p, ok := correctionPrompts[field]; ok {
		return p
	}
	return "Sorry, I didn't get that. Please try again."
}

func guardPrompt(field Field) string {
	return "Let's finish your details first. " + CorrectionPrompt(field)
}
