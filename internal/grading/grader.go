package grading

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/examgrader/internal/cost"
	"github.com/pavelanni/examgrader/internal/extract"
	"github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/model"
)

// DefaultAITimeout bounds a single grading call to the oracle.
const DefaultAITimeout = 30 * time.Second

// Completer is the AI completion service.
type Completer interface {
	Complete(ctx context.Context, prompt string) (llm.Completion, error)
}

// gradeSchema is the shape expected from the oracle. Only points_awarded is
// needed for scoring; a missing feedback is reported but tolerated.
var gradeSchema = extract.MustSchema([]string{"points_awarded", "feedback"}, nil)

// AIError is returned when the AI tier cannot produce a grade, so logs can
// tell "oracle unreachable" from "oracle returned garbage."
type AIError struct {
	Reason  string
	Wrapped error
}

func (e *AIError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("AI grading failed: %s: %v", e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("AI grading failed: %s", e.Reason)
}

func (e *AIError) Unwrap() error {
	return e.Wrapped
}

// Grader grades single questions, trying the AI oracle first and falling
// back to deterministic rules.
type Grader struct {
	completer  Completer
	prompts    *prompts.Set
	accountant *cost.Accountant
	rules      *ruleGrader
	timeout    time.Duration
}

// Option configures a Grader.
type Option func(*graderConfig)

type graderConfig struct {
	completer     Completer
	prompts       *prompts.Set
	pricing       cost.Pricing
	synonyms      map[string]BoolSynonyms
	partialCredit float64
	timeout       time.Duration
}

// WithAI enables the AI tier with the given completion service and prompt set.
func WithAI(c Completer, p *prompts.Set) Option {
	return func(cfg *graderConfig) { cfg.completer, cfg.prompts = c, p }
}

// WithPricing sets the token price table used to cost AI calls.
func WithPricing(p cost.Pricing) Option { return func(c *graderConfig) { c.pricing = p } }

// WithPartialCredit sets the share of points for a partially matching answer.
// Values outside [0, 1] are clamped when grading.
func WithPartialCredit(f float64) Option { return func(c *graderConfig) { c.partialCredit = f } }

// WithTimeout bounds each AI call.
func WithTimeout(d time.Duration) Option { return func(c *graderConfig) { c.timeout = d } }

// WithSynonyms replaces the true/false vocabularies.
func WithSynonyms(s map[string]BoolSynonyms) Option { return func(c *graderConfig) { c.synonyms = s } }

// NewGrader creates a Grader. Without WithAI every question is graded by rules.
func NewGrader(catalog *i18n.Catalog, opts ...Option) *Grader {
	cfg := &graderConfig{
		pricing:       cost.DefaultPricing(),
		synonyms:      DefaultSynonyms(),
		partialCredit: DefaultPartialCredit,
		timeout:       DefaultAITimeout,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.completer != nil && cfg.prompts == nil {
		cfg.prompts = prompts.MustNew(prompts.PromptStandard)
	}
	return &Grader{
		completer:  cfg.completer,
		prompts:    cfg.prompts,
		accountant: cost.NewAccountant(cfg.pricing),
		rules:      newRuleGrader(catalog, cfg.synonyms, cfg.partialCredit),
		timeout:    cfg.timeout,
	}
}

// AIEnabled reports whether the AI tier is configured.
func (g *Grader) AIEnabled() bool {
	return g.completer != nil
}

// GradeQuestion grades one answer. It never fails: if the AI tier is
// disabled, skipped for an empty answer, errors, times out, or returns an
// unusable response, the rule-based tier decides.
func (g *Grader) GradeQuestion(ctx context.Context, q model.Question, answer string, maxPoints int, lang string) model.GradedQuestion {
	if g.completer != nil && strings.TrimSpace(answer) != "" {
		res, err := g.gradeAI(ctx, q, answer, maxPoints, lang)
		if err == nil {
			return res
		}
		slog.Warn("falling back to rule-based grading",
			"question_id", q.ID,
			"type", q.Type,
			"error", err,
		)
	}
	return g.rules.grade(q, answer, maxPoints, lang)
}

func (g *Grader) gradeAI(ctx context.Context, q model.Question, answer string, maxPoints int, lang string) (model.GradedQuestion, error) {
	q.MaxPoints = maxPoints
	prompt, err := g.prompts.BuildGradePrompt(q, answer, lang)
	if err != nil {
		return model.GradedQuestion{}, &AIError{Reason: "build prompt", Wrapped: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	comp, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return model.GradedQuestion{}, &AIError{Reason: "oracle call", Wrapped: err}
	}

	res := extract.Parse(comp.Text, gradeSchema)
	if !res.OK() {
		return model.GradedQuestion{}, &AIError{Reason: "unparsable response", Wrapped: res.Err}
	}
	if len(res.ValidationErrors) > 0 {
		slog.Warn("AI grade response does not match schema",
			"question_id", q.ID,
			"method", res.Method,
			"errors", res.ValidationErrors,
		)
	}

	var body struct {
		Points   any    `json:"points_awarded"`
		Feedback string `json:"feedback"`
	}
	if err := res.Decode(&body); err != nil {
		return model.GradedQuestion{}, &AIError{Reason: "decode response", Wrapped: err}
	}
	points, ok := toFloat(body.Points)
	if !ok {
		return model.GradedQuestion{}, &AIError{Reason: "response has no numeric points_awarded"}
	}

	points = roundPoints(clamp(points, 0, float64(maxPoints)))
	feedback := strings.TrimSpace(body.Feedback)
	if feedback == "" {
		feedback = g.rules.catalog.T(lang, i18n.MsgAIDefault)
	}

	out := model.GradedQuestion{
		QuestionID:    q.ID,
		PointsAwarded: points,
		MaxPoints:     maxPoints,
		Percentage:    percentage(points, maxPoints),
		Feedback:      feedback,
		Method:        model.MethodAI,
	}
	if comp.Usage != nil {
		priced := g.accountant.Price(*comp.Usage)
		out.Usage = &priced
	}
	slog.Debug("AI graded question", "question_id", q.ID, "points", points, "parse_method", res.Method)
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toFloat accepts a JSON number or a numeric string.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(x, ",", ".")), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
