package grading

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/model"
)

// DefaultPartialCredit is the share of max points for an answer that
// contains, or is contained in, the correct answer.
const DefaultPartialCredit = 0.7

// BoolSynonyms lists the words accepted as true and false in one language.
type BoolSynonyms struct {
	True  []string
	False []string
}

// DefaultSynonyms returns the true/false vocabularies keyed by base language.
func DefaultSynonyms() map[string]BoolSynonyms {
	return map[string]BoolSynonyms{
		"en": {
			True:  []string{"true", "yes", "correct", "right", "t", "y"},
			False: []string{"false", "no", "incorrect", "wrong", "f", "n"},
		},
		"fi": {
			True:  []string{"tosi", "totta", "kyllä", "oikein", "oikea", "k"},
			False: []string{"epätosi", "ei", "väärin", "väärä", "e"},
		},
		"sv": {
			True:  []string{"sant", "ja", "rätt", "korrekt"},
			False: []string{"falskt", "nej", "fel", "inkorrekt"},
		},
	}
}

// ruleFunc scores one answer. Both texts are already normalized and the
// answer is non-empty. It returns the share of max points and a message ID.
type ruleFunc func(r *ruleGrader, correct, answer, lang string) (float64, string)

type ruleGrader struct {
	catalog       *i18n.Catalog
	synonyms      map[string]BoolSynonyms
	partialCredit float64
	rules         map[model.QuestionType]ruleFunc
}

func newRuleGrader(catalog *i18n.Catalog, synonyms map[string]BoolSynonyms, partial float64) *ruleGrader {
	return &ruleGrader{
		catalog:       catalog,
		synonyms:      synonyms,
		partialCredit: partial,
		rules: map[model.QuestionType]ruleFunc{
			model.TypeMultipleChoice: exactRule,
			model.TypeTrueFalse:      trueFalseRule,
			model.TypeShortAnswer:    containmentRule,
			model.TypeFillInBlank:    containmentRule,
		},
	}
}

// grade always returns a fully populated rule-based result.
func (r *ruleGrader) grade(q model.Question, answer string, maxPoints int, lang string) model.GradedQuestion {
	out := model.GradedQuestion{
		QuestionID: q.ID,
		MaxPoints:  maxPoints,
		Method:     model.MethodRuleBased,
	}
	data := map[string]any{"Correct": q.CorrectAnswer, "Type": string(q.Type)}

	rule, ok := r.rules[q.Type]
	if !ok {
		out.Feedback = r.catalog.Td(lang, i18n.MsgUnknownType, data)
		return out
	}

	a := normalize(answer)
	if a == "" {
		out.Feedback = r.catalog.Td(lang, i18n.MsgNoAnswer, data)
		return out
	}

	share, msgID := rule(r, normalize(q.CorrectAnswer), a, lang)
	share = clamp(share, 0, 1)
	out.PointsAwarded = roundPoints(share * float64(maxPoints))
	out.Percentage = percentage(out.PointsAwarded, maxPoints)
	out.Feedback = r.catalog.Td(lang, msgID, data)
	return out
}

func exactRule(_ *ruleGrader, correct, answer, _ string) (float64, string) {
	if answer == correct {
		return 1, i18n.MsgCorrect
	}
	return 0, i18n.MsgIncorrect
}

func trueFalseRule(r *ruleGrader, correct, answer, lang string) (float64, string) {
	want, okWant := r.resolveBool(correct, lang)
	got, okGot := r.resolveBool(answer, lang)
	if okWant && okGot {
		if want == got {
			return 1, i18n.MsgCorrect
		}
		return 0, i18n.MsgIncorrect
	}
	return exactRule(r, correct, answer, lang)
}

func containmentRule(r *ruleGrader, correct, answer, _ string) (float64, string) {
	switch {
	case answer == correct:
		return 1, i18n.MsgCorrect
	case correct != "" && (strings.Contains(answer, correct) || strings.Contains(correct, answer)):
		return r.partialCredit, i18n.MsgPartial
	default:
		return 0, i18n.MsgIncorrect
	}
}

// resolveBool maps a normalized word to a boolean using the synonyms of the
// exam language, then English.
func (r *ruleGrader) resolveBool(word, lang string) (value bool, ok bool) {
	for _, l := range []string{baseLanguage(lang), "en"} {
		syn, found := r.synonyms[l]
		if !found {
			continue
		}
		for _, t := range syn.True {
			if word == normalize(t) {
				return true, true
			}
		}
		for _, f := range syn.False {
			if word == normalize(f) {
				return false, true
			}
		}
	}
	return false, false
}

// normalize trims, collapses whitespace, applies NFC and case folding.
func normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(s)
}

func baseLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}

func roundPoints(p float64) float64 {
	return math.Round(p*100) / 100
}

func percentage(points float64, maxPoints int) int {
	if maxPoints <= 0 {
		return 0
	}
	return int(math.Round(100 * points / float64(maxPoints)))
}
