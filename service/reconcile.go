package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

// Reconciler turns a document's multi-source field set into a
// presentation-ready record: conflicts are flagged, never dropped, and
// display formatting never alters the underlying values.
type Reconciler struct {
	reviewThreshold float64
}

func NewReconciler(cfg *config.ReconcileConfig) *Reconciler {
	return &Reconciler{reviewThreshold: cfg.ReviewThreshold}
}

// monetaryHints mark field names rendered as currency. The numeric value
// underneath is preserved unmodified for downstream computation.
var monetaryHints = []string{
	"amount", "wage", "tax", "income", "pay", "compensation",
	"withheld", "refund", "total", "subtotal",
}

// sensitiveHints mark identifiers that must arrive masked from upstream.
var sensitiveHints = []string{
	"ssn", "ein", "tin", "tax_id", "taxid", "national_id",
}

// Reconcile is deterministic: identical input yields identical output.
func (r *Reconciler) Reconcile(doc *model.Document) *model.Reconciliation {
	rec := &model.Reconciliation{
		Fields:  make(map[string]model.FieldValue),
		Display: make(map[string]string),
	}
	if doc == nil || len(doc.Fields) == 0 {
		return rec
	}

	names := sortedFieldNames(doc.Fields)

	var sum float64
	for _, name := range names {
		fv := doc.Fields[name]
		sum += fv.Confidence

		// Lowest-trust values below the review threshold need a human.
		if fv.Source.Rank() <= model.SourcePatternFallback.Rank() && fv.Confidence < r.reviewThreshold {
			rec.Conflicts = append(rec.Conflicts, model.Conflict{
				Field: name,
				Reason: fmt.Sprintf("low-trust source %q with confidence %.2f below review threshold %.2f",
					fv.Source, fv.Confidence, r.reviewThreshold),
			})
		}

		display := displayValue(name, fv.Value)
		if isSensitiveName(name) {
			if s, unmasked := unmaskedIdentifier(fv.Value); unmasked {
				// The upstream service is supposed to mask these. Flag
				// it and redact everywhere the reconciled view can
				// surface: the raw value never leaves this function.
				rec.Conflicts = append(rec.Conflicts, model.Conflict{
					Field:  name,
					Reason: "identifier arrived unmasked from upstream",
				})
				display = maskIdentifier(s)
				fv.Value = display
			}
		}

		rec.Fields[name] = fv
		rec.Display[name] = display
	}

	rec.OverallConfidence = sum / float64(len(names))
	return rec
}

// PickPreferred resolves two candidates for one logical field: the higher
// trust tier wins, then the higher confidence, then the first seen.
func PickPreferred(first, second model.FieldValue) model.FieldValue {
	if second.Source.Rank() > first.Source.Rank() {
		return second
	}
	if second.Source.Rank() == first.Source.Rank() && second.Confidence > first.Confidence {
		return second
	}
	return first
}

func displayValue(name string, value any) string {
	if isMonetaryName(name) {
		if f, ok := numericValue(value); ok {
			return fmt.Sprintf("$%.2f", f)
		}
	}
	return fmt.Sprint(value)
}

func isMonetaryName(name string) bool {
	return containsAnyHint(name, monetaryHints) && !isSensitiveName(name)
}

func isSensitiveName(name string) bool {
	return containsAnyHint(name, sensitiveHints)
}

func containsAnyHint(name string, hints []string) bool {
	lower := strings.ToLower(name)
	for _, hint := range hints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// unmaskedIdentifier reports whether the value looks like a full
// identifier with no masking characters: nine or more digits and no
// mask glyphs.
func unmaskedIdentifier(value any) (string, bool) {
	s := fmt.Sprint(value)
	if strings.ContainsAny(s, "*Xx#") {
		return s, false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return s, digits >= 9
}

// maskIdentifier keeps only the last four digits visible.
func maskIdentifier(s string) string {
	digits := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return "****"
	}
	return "***-**-" + string(digits[len(digits)-4:])
}

func sortedFieldNames(fields map[string]model.FieldValue) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
