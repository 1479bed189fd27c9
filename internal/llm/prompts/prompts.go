package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/pavelanni/examgrader/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxAnswerRunes = 10000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a grading policy variant.
type PromptVariant string

const (
	// PromptStrict gives partial credit sparingly.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading policy.
	PromptStandard PromptVariant = "standard"
	// PromptLenient grades for understanding over precision.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GradeData holds template data for the grading prompt.
type GradeData struct {
	QuestionText  string
	QuestionType  model.QuestionType
	Options       []string
	CorrectAnswer string
	MaxPoints     int
	Answer        string
	Language      string
}

// Set is a parsed grading prompt for one policy variant.
type Set struct {
	variant PromptVariant
	grade   *template.Template
}

// New parses the grading prompt for the given variant.
func New(variant PromptVariant) (*Set, error) {
	if !validVariants[variant] {
		return nil, fmt.Errorf("invalid prompt variant: %q", variant)
	}
	tmpl, err := template.New("grade.txt").
		Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
		ParseFS(templateFS, "templates/grade.txt", "templates/policy_"+string(variant)+".txt")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates for %s: %w", variant, err)
	}
	return &Set{variant: variant, grade: tmpl}, nil
}

// MustNew is like New but panics on error. The templates are embedded, so
// an error here means a broken build.
func MustNew(variant PromptVariant) *Set {
	s, err := New(variant)
	if err != nil {
		panic(err)
	}
	return s
}

// Variant returns the policy variant of the set.
func (s *Set) Variant() PromptVariant {
	return s.variant
}

// BuildGradePrompt renders the grading prompt for one question and answer.
// lang is a BCP 47 tag selecting the feedback language.
func (s *Set) BuildGradePrompt(q model.Question, answer, lang string) (string, error) {
	data := GradeData{
		QuestionText:  q.Text,
		QuestionType:  q.Type,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		MaxPoints:     q.MaxPoints,
		Answer:        sanitizeAnswer(answer),
		Language:      languageName(lang),
	}

	var buf bytes.Buffer
	if err := s.grade.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// languageName returns the English name of the language in a BCP 47 tag,
// defaulting to English.
func languageName(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return "English"
	}
	base, _ := tag.Base()
	name := display.English.Languages().Name(language.Make(base.String()))
	if name == "" {
		return "English"
	}
	return name
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
