package ai

import (
	"strings"
	"unicode/utf8"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
	"github.com/fairyhunter13/ask-relay/pkg/textx"
)

// NoInfoSentinel is the in-band marker the prompts ask the model to emit when
// the context holds no answer.
const NoInfoSentinel = "NO_INFO_FOUND"

// DefaultMinAnswerRunes is the shortest trimmed answer considered usable.
const DefaultMinAnswerRunes = 5

// Evaluator classifies generation outcomes as usable or not.
type Evaluator struct {
	MinRunes int
	Sentinel string
}

// NewEvaluator returns an evaluator with the default threshold and sentinel.
func NewEvaluator() Evaluator {
	return Evaluator{MinRunes: DefaultMinAnswerRunes, Sentinel: NoInfoSentinel}
}

// Evaluate decides whether out can be returned to the caller.
//
// The rules run on the cleaned text the caller would receive: it is unusable
// when blank, shorter than MinRunes, or containing the sentinel. For the
// primary strategy a recitation block also makes it unusable; paraphrased
// answers skip that check.
func (e Evaluator) Evaluate(out domain.GenerationOutcome, strategy domain.Strategy) domain.Verdict {
	text := textx.CleanAnswer(out.Text)
	usable := e.usable(out, strategy, text)
	observability.RecordAnswer(string(strategy), usable)
	if !usable {
		return domain.Verdict{}
	}
	return domain.Verdict{Usable: true, Text: text}
}

func (e Evaluator) usable(out domain.GenerationOutcome, strategy domain.Strategy, text string) bool {
	if out.Kind != domain.OutcomeSuccess {
		return false
	}
	if strategy == domain.StrategyPrimary && out.CompletionReason == domain.ReasonRecitationBlocked {
		return false
	}
	if text == "" {
		return false
	}
	if utf8.RuneCountInString(text) < e.MinRunes {
		return false
	}
	if e.Sentinel != "" && strings.Contains(text, e.Sentinel) {
		return false
	}
	return true
}
