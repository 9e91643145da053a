package checkout

import "github.com/ent0n29/voicecart/internal/extract"

// Step is one state of the guided checkout dialogue.
type Step string

const (
	StepIdle       Step = "idle"
	StepName       Step = "name"
	StepEmail      Step = "email"
	StepAddress    Step = "address"
	StepPhone      Step = "phone"
	StepCardName   Step = "cardName"
	StepCardNumber Step = "cardNumber"
	StepExpiryDate Step = "expiryDate"
	StepCVV        Step = "cvv"
	StepConfirm    Step = "confirm"
	StepComplete   Step = "complete"
)

// order is the fixed, total step sequence.
var order = []Step{
	StepIdle,
	StepName,
	StepEmail,
	StepAddress,
	StepPhone,
	StepCardName,
	StepCardNumber,
	StepExpiryDate,
	StepCVV,
	StepConfirm,
	StepComplete,
}

var stepFields = map[Step]extract.Field{
	StepName:       extract.FieldName,
	StepEmail:      extract.FieldEmail,
	StepAddress:    extract.FieldAddress,
	StepPhone:      extract.FieldPhone,
	StepCardName:   extract.FieldCardName,
	StepCardNumber: extract.FieldCardNumber,
	StepExpiryDate: extract.FieldExpiryDate,
	StepCVV:        extract.FieldCVV,
}

var prompts = map[Step]string{
	StepName:       "Let's complete your order. What is your full name?",
	StepEmail:      "Thanks. What is your email address?",
	StepAddress:    "What is your shipping address?",
	StepPhone:      "What is your phone number?",
	StepCardName:   "What is the name on your card?",
	StepCardNumber: "What is your card number?",
	StepExpiryDate: "What is the card's expiry date?",
	StepCVV:        "What is the security code on the back of your card?",
	StepConfirm:    "Please confirm your order. Say yes to place it, or no to cancel.",
	StepComplete:   "Thank you! Your order is being placed.",
}

const (
	cancelPrompt         = "Okay, I've cancelled checkout."
	confirmRepromptYesNo = "Sorry, please say yes to place your order, or no to cancel."
)

// Field returns the profile field collected at step, if any.
func (s Step) Field() (extract.Field, bool) {
	f, ok := stepFields[s]
	return f, ok
}

// Prompt returns the question asked when entering step.
func (s Step) Prompt() string {
	return prompts[s]
}

func (s Step) index() int {
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return 0
}

func (s Step) next() Step {
	i := s.index()
	if i+1 >= len(order) {
		return s
	}
	return order[i+1]
}

// previous never moves back past the first field step.
func (s Step) previous() Step {
	i := s.index()
	if i <= StepName.index() {
		return StepName
	}
	return order[i-1]
}

// StepFor returns the collection step of field.
func StepFor(field extract.Field) Step {
	for step, f := range stepFields {
		if f == field {
			return step
		}
	}
	return StepIdle
}

// knownPrompts lists every prompt the dialogue can speak; stale capture may echo any of them.
func knownPrompts() []string {
	out := make([]string, 0, len(prompts)+2)
	for _, st := range order {
		if p := prompts[st]; p != "" {
			out = append(out, p)
		}
	}
	out = append(out, cancelPrompt, confirmRepromptYesNo)
	for _, f := range extract.Fields {
		out = append(out, extract.CorrectionPrompt(f))
	}
	return out
}
