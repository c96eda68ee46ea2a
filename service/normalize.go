package service

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

// documentSchema is the minimal shape every completed result must satisfy
// before it is accepted as a Document. A payload failing this is treated
// as a processing failure, never as a success.
var documentSchema = jsonschema.MustCompileString("document.json", `{
	"type": "object",
	"required": ["document_type", "fields"],
	"properties": {
		"document_type": {"type": "string", "minLength": 1},
		"classification_confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"fields": {"type": "object"}
	}
}`)

// fieldAliases maps the duck-typed key spellings the extraction layers
// emit (Textract-style, snake_case, camelCase) onto canonical field
// names. Lookup happens on the lowercased key.
var fieldAliases = map[string]string{
	"box1_wages":                 "wages",
	"wages_box1":                 "wages",
	"employeewages":              "wages",
	"wages_tips_compensation":    "wages",
	"box2_federal_tax":           "federal_tax_withheld",
	"federal_income_tax":         "federal_tax_withheld",
	"federalincometaxwithheld":   "federal_tax_withheld",
	"box3_ss_wages":              "social_security_wages",
	"socialsecuritywages":        "social_security_wages",
	"box4_ss_tax":                "social_security_tax",
	"socialsecuritytaxwithheld":  "social_security_tax",
	"box5_medicare_wages":        "medicare_wages",
	"medicarewagesandtips":       "medicare_wages",
	"box6_medicare_tax":          "medicare_tax_withheld",
	"medicaretaxwithheld":        "medicare_tax_withheld",
	"employee_ssn":               "ssn",
	"employeessn":                "ssn",
	"social_security_number":     "ssn",
	"employer_ein":               "ein",
	"employeridnumber":           "ein",
	"employername":               "employer_name",
	"employee_name":              "employee_name",
	"recipientname":              "employee_name",
	"nonemployee_compensation":   "total_payments",
	"nonemployeecompensation":    "total_payments",
	"payments_total":             "total_payments",
	"gross_amount":               "total_payments",
	"totalamount":                "total",
	"amount_due":                 "total",
	"invoice_total":              "total",
	"tax_amount":                 "tax",
	"salestax":                   "tax",
	"sub_total":                  "subtotal",
	"refundamount":               "refund_amount",
	"amount_owed":                "amount_owed",
}

// Companion metadata key suffixes. These carry provenance, not content,
// and are folded into the owning field's FieldValue.
const (
	suffixSource         = "_source"
	suffixConfidence     = "_confidence"
	suffixCrossValidated = "_cross_validated"
)

// reservedKeys are envelope keys that never become document fields.
var reservedKeys = map[string]bool{
	"status":                    true,
	"error":                     true,
	"id":                        true,
	"document_id":               true,
	"batch_id":                  true,
	"document_type":             true,
	"documenttype":              true,
	"doc_type":                  true,
	"classification_confidence": true,
	"classificationconfidence":  true,
	"processed_at":              true,
	"processing_time_ms":        true,
}

// NormalizeDocument converts a raw remote payload into the canonical
// Document model: duck-typed key spellings collapse through the alias
// table, companion metadata keys fold into their field's provenance, and
// the result is checked against the document schema. Values whose source
// or confidence is missing default to the lowest-trust tier and
// confidence 0.
//
// When aliasing makes two raw keys collide on one canonical field, the
// higher trust tier wins, then the higher confidence, then the first key
// in lexicographic order. Keys are always walked in sorted order so the
// outcome is deterministic for identical input.
func NormalizeDocument(payload map[string]any) (*model.Document, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty result payload")
	}

	docType := firstString(payload, "document_type", "documentType", "doc_type")
	confidence := clampConfidence(firstNumber(payload, "classification_confidence", "classificationConfidence"))

	raw, err := rawFieldMap(payload)
	if err != nil {
		return nil, err
	}
	content, meta := splitMetadata(raw)

	// Validate the canonical shape before building model values.
	canonical := map[string]any{
		"document_type":             docType,
		"classification_confidence": confidence,
		"fields":                    content,
	}
	if err := documentSchema.Validate(canonical); err != nil {
		return nil, fmt.Errorf("malformed document payload: %w", err)
	}

	fields := make(map[string]model.FieldValue, len(content))
	for _, key := range sortedKeys(content) {
		fv := parseFieldValue(content[key])
		applyMetadata(&fv, meta[strings.ToLower(key)])

		name := canonicalFieldName(key)
		if existing, ok := fields[name]; ok {
			fv = PickPreferred(existing, fv)
		}
		fields[name] = fv
	}

	return &model.Document{
		DocumentType:             docType,
		Fields:                   fields,
		ClassificationConfidence: confidence,
	}, nil
}

// rawFieldMap returns the nested fields object when present, otherwise
// every non-envelope top-level key (flat-style backends). A fields key
// holding anything other than an object is malformed, not flat.
func rawFieldMap(payload map[string]any) (map[string]any, error) {
	if v, present := payload["fields"]; present {
		nested, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("malformed document payload: fields is %T, not an object", v)
		}
		return nested, nil
	}

	flat := make(map[string]any)
	for k, v := range payload {
		if reservedKeys[strings.ToLower(k)] {
			continue
		}
		flat[k] = v
	}
	return flat, nil
}

type fieldMetadata struct {
	source         string
	confidence     *float64
	crossValidated *bool
}

// splitMetadata separates content keys from companion metadata keys.
// Metadata is keyed by the lowercased name of the field it annotates.
func splitMetadata(raw map[string]any) (map[string]any, map[string]fieldMetadata) {
	content := make(map[string]any)
	meta := make(map[string]fieldMetadata)

	update := func(base string, fn func(*fieldMetadata)) {
		m := meta[base]
		fn(&m)
		meta[base] = m
	}

	for k, v := range raw {
		lower := strings.ToLower(k)
		switch {
		case strings.HasSuffix(lower, suffixCrossValidated):
			base := strings.TrimSuffix(lower, suffixCrossValidated)
			if b, ok := v.(bool); ok {
				update(base, func(m *fieldMetadata) { m.crossValidated = &b })
			}
		case strings.HasSuffix(lower, suffixConfidence):
			base := strings.TrimSuffix(lower, suffixConfidence)
			if f, ok := numericValue(v); ok {
				c := clampConfidence(f)
				update(base, func(m *fieldMetadata) { m.confidence = &c })
			}
		case strings.HasSuffix(lower, suffixSource):
			base := strings.TrimSuffix(lower, suffixSource)
			if s, ok := v.(string); ok {
				update(base, func(m *fieldMetadata) { m.source = s })
			}
		default:
			content[k] = v
		}
	}

	return content, meta
}

// parseFieldValue accepts either an object form {value, source,
// confidence, cross_validated} or a bare scalar.
func parseFieldValue(v any) model.FieldValue {
	fv := model.FieldValue{
		Value:  v,
		Source: model.SourcePatternFallback,
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return fv
	}

	fv.Value = obj["value"]
	if s, ok := obj["source"].(string); ok {
		fv.Source = parseSourceTier(s)
	}
	if f, ok := numericValue(obj["confidence"]); ok {
		fv.Confidence = clampConfidence(f)
	}
	if b, ok := obj["cross_validated"].(bool); ok {
		fv.CrossValidated = b
	}
	return fv
}

func applyMetadata(fv *model.FieldValue, meta fieldMetadata) {
	if meta.source != "" {
		fv.Source = parseSourceTier(meta.source)
	}
	if meta.confidence != nil {
		fv.Confidence = *meta.confidence
	}
	if meta.crossValidated != nil {
		fv.CrossValidated = *meta.crossValidated
	}
}

// parseSourceTier maps the spellings the extraction layers use onto the
// three canonical tiers. Anything unrecognized defaults to the
// lowest-trust tier.
func parseSourceTier(s string) model.SourceTier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary-ocr", "primary_ocr", "ocr", "textract":
		return model.SourcePrimaryOCR
	case "ai-enhanced", "ai_enhanced", "ai", "llm":
		return model.SourceAIEnhanced
	default:
		return model.SourcePatternFallback
	}
}

// canonicalFieldName lowercases the key, resolves it through the alias
// table, and sanitizes whatever remains.
func canonicalFieldName(key string) string {
	lower := strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := fieldAliases[lower]; ok {
		return canonical
	}
	return strings.ReplaceAll(strings.ReplaceAll(lower, " ", "_"), "-", "_")
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(payload map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if f, ok := numericValue(payload[k]); ok {
			return f
		}
	}
	return 0
}

// numericValue extracts a float from the types a decoded JSON value (or a
// numeric string) can carry.
func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(t, "$"), ",", ""))
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func clampConfidence(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
