package model

// SourceTier identifies which extraction layer produced a field value.
// Trust order: primary-ocr > ai-enhanced > pattern-fallback.
type SourceTier string

const (
	SourcePrimaryOCR      SourceTier = "primary-ocr"
	SourceAIEnhanced      SourceTier = "ai-enhanced"
	SourcePatternFallback SourceTier = "pattern-fallback"
)

// Rank returns the trust rank of the tier, higher is more trusted.
// Unknown tiers rank below pattern-fallback.
func (s SourceTier) Rank() int {
	switch s {
	case SourcePrimaryOCR:
		return 3
	case SourceAIEnhanced:
		return 2
	case SourcePatternFallback:
		return 1
	}
	return 0
}

// FieldValue is a single extracted datum with provenance. A value whose
// source or confidence the service omitted defaults to the lowest-trust
// tier and confidence 0; absence of confidence is never treated as certain.
type FieldValue struct {
	Value          any        `json:"value"`
	Source         SourceTier `json:"source"`
	Confidence     float64    `json:"confidence"`
	CrossValidated bool       `json:"cross_validated"`
}

// Document is the terminal payload of a successful job.
type Document struct {
	DocumentType             string                `json:"document_type"`
	Fields                   map[string]FieldValue `json:"fields"`
	ClassificationConfidence float64               `json:"classification_confidence"`
}

// Conflict flags a field whose value needs human review.
type Conflict struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Reconciliation is the presentation-ready view of a document's fields.
type Reconciliation struct {
	Fields            map[string]FieldValue `json:"fields"`
	Display           map[string]string     `json:"display"`
	Conflicts         []Conflict            `json:"conflicts"`
	OverallConfidence float64               `json:"overall_confidence"`
}

// Validation carries the outcome of domain cross-checks over a reconciled
// field set. Both lists are non-fatal annotations.
type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
