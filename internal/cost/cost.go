// Package cost converts token usage of AI calls into money.
package cost

import "github.com/pavelanni/examgrader/internal/model"

// Default prices in USD per million tokens.
const (
	DefaultInputPerMillion  = 0.10
	DefaultOutputPerMillion = 0.40
)

// Pricing is a per-million-token price table.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing returns the built-in price table.
func DefaultPricing() Pricing {
	return Pricing{InputPerMillion: DefaultInputPerMillion, OutputPerMillion: DefaultOutputPerMillion}
}

// Accountant prices individual usage records and sums them.
type Accountant struct {
	pricing Pricing
}

// NewAccountant creates an Accountant for the given price table.
func NewAccountant(p Pricing) *Accountant {
	return &Accountant{pricing: p}
}

// Price fills in the cost fields of a usage record from its token counts.
func (a *Accountant) Price(u model.Usage) model.Usage {
	u.InputCost = float64(u.PromptTokens) / 1e6 * a.pricing.InputPerMillion
	u.OutputCost = float64(u.CandidateTokens) / 1e6 * a.pricing.OutputPerMillion
	u.EstimatedCost = u.InputCost + u.OutputCost
	return u
}

// Sum prices every record and returns the running total.
func (a *Accountant) Sum(records []model.Usage) model.CostSummary {
	var s model.CostSummary
	for _, r := range records {
		p := a.Price(r)
		s.Calls++
		s.PromptTokens += p.PromptTokens
		s.CandidateTokens += p.CandidateTokens
		s.TotalTokens += p.TotalTokens
		s.InputCost += p.InputCost
		s.OutputCost += p.OutputCost
		s.EstimatedCost += p.EstimatedCost
	}
	return s
}

// SumGraded aggregates usage over graded questions. Questions graded without
// an AI call carry no usage and contribute nothing.
func (a *Accountant) SumGraded(questions []model.GradedQuestion) model.CostSummary {
	var records []model.Usage
	for _, q := range questions {
		if q.Usage != nil {
			records = append(records, *q.Usage)
		}
	}
	return a.Sum(records)
}
