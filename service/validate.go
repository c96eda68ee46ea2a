package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

// Arithmetic identities hold to the cent; a near-miss inside the warning
// band is reported without failing the check. The epsilon absorbs float
// noise so an exactly-one-cent discrepancy sits inside the band
// (100.01 - 100 is not 0.01 in float64).
const (
	amountErrTolerance  = 0.01
	amountWarnTolerance = 1.00
	amountEpsilon       = 1e-9
)

// Rates used by the payroll cross-checks.
const (
	socialSecurityRate = 0.062
	medicareRate       = 0.0145
)

// FieldLookup resolves a canonical field name to its numeric value.
// The second return is false when the field is absent or non-numeric,
// which makes the check skip rather than fail.
type FieldLookup func(name string) (float64, bool)

// CheckFunc runs one domain cross-check. A nil outcome means the check
// passed or was skipped for missing inputs; both produce no annotation.
type CheckFunc func(get FieldLookup) *CheckOutcome

// CheckOutcome is a single non-fatal validation finding.
type CheckOutcome struct {
	Message string
	IsError bool
}

type namedCheck struct {
	name string
	run  CheckFunc
}

// Validator runs the domain cross-checks registered for a document type.
// Checks are independent: adding a type never touches existing ones.
type Validator struct {
	checks map[string][]namedCheck
}

func NewValidator() *Validator {
	v := &Validator{checks: make(map[string][]namedCheck)}
	v.registerBuiltins()
	return v
}

// Register adds a check for a document type.
func (v *Validator) Register(docType, name string, fn CheckFunc) {
	key := canonicalDocType(docType)
	v.checks[key] = append(v.checks[key], namedCheck{name: name, run: fn})
}

// Validate runs every check registered for the document type. Findings
// annotate the document; they never abort it.
func (v *Validator) Validate(docType string, fields map[string]model.FieldValue) model.Validation {
	var result model.Validation

	get := func(name string) (float64, bool) {
		fv, ok := fields[name]
		if !ok {
			return 0, false
		}
		return numericValue(fv.Value)
	}

	for _, check := range v.checks[canonicalDocType(docType)] {
		outcome := check.run(get)
		if outcome == nil {
			continue
		}
		msg := check.name + ": " + outcome.Message
		if outcome.IsError {
			result.Errors = append(result.Errors, msg)
		} else {
			result.Warnings = append(result.Warnings, msg)
		}
	}

	return result
}

func (v *Validator) registerBuiltins() {
	v.Register("W-2", "social-security-tax", func(get FieldLookup) *CheckOutcome {
		wages, ok := get("social_security_wages")
		if !ok {
			return nil
		}
		tax, ok := get("social_security_tax")
		if !ok {
			return nil
		}
		return compareAmounts("social security tax", wages*socialSecurityRate, tax)
	})

	v.Register("W-2", "medicare-tax", func(get FieldLookup) *CheckOutcome {
		wages, ok := get("medicare_wages")
		if !ok {
			return nil
		}
		tax, ok := get("medicare_tax_withheld")
		if !ok {
			return nil
		}
		return compareAmounts("medicare tax", wages*medicareRate, tax)
	})

	v.Register("W-2", "withholding-within-wages", func(get FieldLookup) *CheckOutcome {
		wages, ok := get("wages")
		if !ok {
			return nil
		}
		withheld, ok := get("federal_tax_withheld")
		if !ok {
			return nil
		}
		if withheld > wages+amountErrTolerance+amountEpsilon {
			return &CheckOutcome{
				Message: fmt.Sprintf("federal withholding %.2f exceeds wages %.2f", withheld, wages),
				IsError: true,
			}
		}
		return nil
	})

	v.Register("1099", "net-payments", func(get FieldLookup) *CheckOutcome {
		total, ok := get("total_payments")
		if !ok {
			return nil
		}
		withheld, ok := get("federal_tax_withheld")
		if !ok {
			return nil
		}
		net, ok := get("net_amount")
		if !ok {
			return nil
		}
		return compareAmounts("net amount", total-withheld, net)
	})

	v.Register("invoice", "line-total", func(get FieldLookup) *CheckOutcome {
		subtotal, ok := get("subtotal")
		if !ok {
			return nil
		}
		total, ok := get("total")
		if !ok {
			return nil
		}
		tax, _ := get("tax")
		discount, _ := get("discount")
		return compareAmounts("total", subtotal+tax-discount, total)
	})
}

// compareAmounts grades |expected - actual| against the tolerance bands.
func compareAmounts(what string, expected, actual float64) *CheckOutcome {
	diff := math.Abs(expected - actual)
	switch {
	case diff <= amountErrTolerance+amountEpsilon:
		return nil
	case diff <= amountWarnTolerance+amountEpsilon:
		return &CheckOutcome{
			Message: fmt.Sprintf("%s %.2f is off expected %.2f by %.2f", what, actual, expected, diff),
		}
	default:
		return &CheckOutcome{
			Message: fmt.Sprintf("%s %.2f does not match expected %.2f (off by %.2f)", what, actual, expected, diff),
			IsError: true,
		}
	}
}

// canonicalDocType collapses the spelling variants of a classified type:
// "W2", "w-2" and "W-2" are one family, as is anything 1099-prefixed.
func canonicalDocType(docType string) string {
	t := strings.ToUpper(strings.TrimSpace(docType))
	t = strings.ReplaceAll(t, " ", "")
	if t == "W2" {
		return "W-2"
	}
	if strings.HasPrefix(t, "1099") {
		return "1099"
	}
	if strings.Contains(strings.ToLower(docType), "invoice") || strings.Contains(strings.ToLower(docType), "receipt") {
		return "invoice"
	}
	return t
}
