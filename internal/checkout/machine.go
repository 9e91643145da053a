// Package checkout runs the guided checkout dialogue: a fixed sequence of
// field-collection steps driven one spoken answer at a time.
package checkout

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ent0n29/voicecart/internal/config"
	"github.com/ent0n29/voicecart/internal/echo"
	"github.com/ent0n29/voicecart/internal/extract"
)

// Reason explains an Outcome.
type Reason string

const (
	ReasonInactive        Reason = "inactive"
	ReasonGrace           Reason = "grace_period"
	ReasonEcho            Reason = "echo"
	ReasonFiller          Reason = "filler"
	ReasonInvalid         Reason = "invalid"
	ReasonAccepted        Reason = "accepted"
	ReasonWentBack        Reason = "went_back"
	ReasonConfirmed       Reason = "confirmed"
	ReasonCancelled       Reason = "cancelled"
	ReasonConfirmReprompt Reason = "confirm_reprompt"
)

// DefaultGracePeriod absorbs capture/playback races right after a step change.
const DefaultGracePeriod = 1200 * time.Millisecond

// ProfileWriter receives each value as soon as it is collected.
type ProfileWriter interface {
	WriteField(ctx context.Context, field extract.Field, value string) error
}

// Outcome is the result of ProcessAnswer.
type Outcome struct {
	Accepted       bool
	NextPrompt     string
	ShouldFinalize bool
	// Silent marks a dropped answer that must not be re-prompted.
	Silent bool
	Reason Reason
	Step   Step
}

// Snapshot is a read-only view of the dialogue.
type Snapshot struct {
	Step      Step            `json:"step"`
	Active    bool            `json:"active"`
	Collected []extract.Field `json:"collected"`
	ChangedAt time.Time       `json:"changed_at"`
}

// Options configures a Machine.
type Options struct {
	Parser      *extract.Parser
	Writer      ProfileWriter
	Logger      *slog.Logger
	GracePeriod time.Duration
	Phrases     config.Phrases
	Now         func() time.Time
}

// Machine owns one checkout session. It is safe for concurrent use, but
// callers are expected to feed answers one at a time.
type Machine struct {
	mu sync.Mutex

	parser  *extract.Parser
	writer  ProfileWriter
	logger  *slog.Logger
	now     func() time.Time
	grace   time.Duration
	prompts []string

	fillers     []string
	affirmative []string
	negative    []string
	corrections []string

	step           Step
	collected      map[extract.Field]string
	lastStepChange time.Time
	active         bool
	// spokenConfirm is the last personalised confirmation prompt; it is not
	// in prompts and a go back from confirm can capture it as an answer.
	spokenConfirm string
	confirmName   string
}

func NewMachine(opts Options) *Machine {
	if opts.Parser == nil {
		opts.Parser = extract.NewParser(extract.OptionsFromPhrases(opts.Phrases))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	return &Machine{
		parser:      opts.Parser,
		writer:      opts.Writer,
		logger:      opts.Logger,
		now:         opts.Now,
		grace:       opts.GracePeriod,
		prompts:     knownPrompts(),
		fillers:     opts.Phrases.Acknowledgments,
		affirmative: phraseWords(opts.Phrases.Affirmative),
		negative:    phraseWords(opts.Phrases.Negative),
		corrections: phraseWords(opts.Phrases.CorrectionCommands),
		step:        StepIdle,
		collected:   make(map[extract.Field]string),
	}
}

// StartFlow clears collected fields, enters the name step and returns its prompt.
// Calling it during an active flow restarts the flow.
func (m *Machine) StartFlow(_ context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collected = make(map[extract.Field]string)
	m.spokenConfirm, m.confirmName = "", ""
	m.active = true
	m.enter(StepName)
	return StepName.Prompt()
}

// StartConfirm jumps straight to confirmation with values already on file.
func (m *Machine) StartConfirm(_ context.Context, known map[extract.Field]string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collected = make(map[extract.Field]string, len(known))
	for f, v := range known {
		m.collected[f] = v
	}
	m.active = true
	m.enter(StepConfirm)
	return m.confirmPromptLocked()
}

// StopFlow forces the idle step. It is idempotent.
func (m *Machine) StopFlow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Machine) stopLocked() {
	m.active = false
	m.step = StepIdle
	m.collected = make(map[extract.Field]string)
	m.spokenConfirm, m.confirmName = "", ""
	m.lastStepChange = m.now()
}

// Active reports whether a dialogue is consuming transcripts.
func (m *Machine) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Step returns the current step.
func (m *Machine) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// Collected returns a copy of the validated values gathered so far.
func (m *Machine) Collected() map[extract.Field]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[extract.Field]string, len(m.collected))
	for f, v := range m.collected {
		out[f] = v
	}
	return out
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields := make([]extract.Field, 0, len(m.collected))
	for _, f := range extract.Fields {
		if _, ok := m.collected[f]; ok {
			fields = append(fields, f)
		}
	}
	return Snapshot{Step: m.step, Active: m.active, Collected: fields, ChangedAt: m.lastStepChange}
}

// ProcessAnswer consumes one transcript for the current step.
func (m *Machine) ProcessAnswer(ctx context.Context, transcript string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active || m.step == StepIdle {
		return m.silent(ReasonInactive)
	}
	if m.now().Sub(m.lastStepChange) < m.grace {
		return m.silent(ReasonGrace)
	}

	words := " " + phraseText(transcript) + " "

	if m.step == StepConfirm {
		return m.confirm(words)
	}

	for _, p := range m.prompts {
		if echo.IsEcho(transcript, p) {
			return m.silent(ReasonEcho)
		}
	}
	if m.echoesConfirm(transcript) {
		return m.silent(ReasonEcho)
	}
	if echo.IsFiller(transcript, m.fillers) {
		return m.silent(ReasonFiller)
	}

	if containsAny(words, m.corrections) {
		return m.goBack()
	}

	field, _ := m.step.Field()
	res := m.parser.Parse(field, transcript)
	if !res.Valid {
		m.logger.Debug("checkout answer rejected", "step", m.step, "field", field)
		return Outcome{NextPrompt: res.CorrectionPrompt, Reason: ReasonInvalid, Step: m.step}
	}

	m.collected[field] = res.Value
	if m.writer != nil {
		if err := m.writer.WriteField(ctx, field, res.Value); err != nil {
			m.logger.Warn("profile write failed", "field", field, "error", err)
		}
	}

	next := m.step.next()
	m.enter(next)
	prompt := next.Prompt()
	if next == StepConfirm {
		prompt = m.confirmPromptLocked()
	}
	return Outcome{Accepted: true, NextPrompt: prompt, Reason: ReasonAccepted, Step: next}
}

func (m *Machine) confirm(words string) Outcome {
	switch {
	case containsAny(words, m.corrections):
		return m.goBack()
	case containsAny(words, m.negative):
		m.stopLocked()
		return Outcome{Accepted: true, NextPrompt: cancelPrompt, Reason: ReasonCancelled, Step: StepIdle}
	case containsAny(words, m.affirmative):
		m.enter(StepComplete)
		m.active = false
		return Outcome{
			Accepted:       true,
			NextPrompt:     StepComplete.Prompt(),
			ShouldFinalize: true,
			Reason:         ReasonConfirmed,
			Step:           StepComplete,
		}
	default:
		return Outcome{NextPrompt: confirmRepromptYesNo, Reason: ReasonConfirmReprompt, Step: m.step}
	}
}

func (m *Machine) goBack() Outcome {
	prev := m.step.previous()
	if f, ok := prev.Field(); ok {
		delete(m.collected, f)
	}
	m.enter(prev)
	return Outcome{
		NextPrompt: "Okay, let's go back. " + prev.Prompt(),
		Reason:     ReasonWentBack,
		Step:       prev,
	}
}

func (m *Machine) enter(step Step) {
	m.step = step
	m.lastStepChange = m.now()
}

func (m *Machine) silent(reason Reason) Outcome {
	return Outcome{Silent: true, Reason: reason, Step: m.step}
}

// echoesConfirm reports whether transcript repeats the personalised
// confirmation prompt. Restating the name it carries is an answer, not an echo.
func (m *Machine) echoesConfirm(transcript string) bool {
	if m.spokenConfirm == "" || !echo.IsEcho(transcript, m.spokenConfirm) {
		return false
	}
	if m.step == StepName || m.step == StepCardName {
		name := echo.Normalize(m.confirmName)
		if t := echo.Normalize(transcript); name != "" && strings.Contains(name, t) {
			return false
		}
	}
	return true
}

func (m *Machine) confirmPromptLocked() string {
	p := confirmPrompt(m.collected)
	m.spokenConfirm = p
	m.confirmName = m.collected[extract.FieldName]
	return p
}

func confirmPrompt(collected map[extract.Field]string) string {
	name := collected[extract.FieldName]
	card := collected[extract.FieldCardNumber]
	if name == "" || len(card) < 4 {
		return StepConfirm.Prompt()
	}
	last4 := strings.ReplaceAll(card, " ", "")
	last4 = last4[len(last4)-4:]
	return "Please confirm your order for " + name + ", paid with the card ending in " + last4 +
		". Say yes to place it, or no to cancel."
}

func phraseWords(list []string) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		if w := phraseText(p); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// phraseText lower-cases s into space-separated words, keeping apostrophes.
func phraseText(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "’", "'")
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}), " ")
}

func containsAny(paddedWords string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(paddedWords, " "+p+" ") {
			return true
		}
	}
	return false
}
