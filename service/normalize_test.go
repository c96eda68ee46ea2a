package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

func TestNormalizeNestedFields(t *testing.T) {
	doc, err := NormalizeDocument(map[string]any{
		"document_type":             "W-2",
		"classification_confidence": 0.92,
		"fields": map[string]any{
			"wages": map[string]any{
				"value":           50000.0,
				"source":          "primary-ocr",
				"confidence":      0.95,
				"cross_validated": true,
			},
			"employer_name": "Acme Corp",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "W-2", doc.DocumentType)
	assert.Equal(t, 0.92, doc.ClassificationConfidence)

	wages := doc.Fields["wages"]
	assert.Equal(t, 50000.0, wages.Value)
	assert.Equal(t, model.SourcePrimaryOCR, wages.Source)
	assert.Equal(t, 0.95, wages.Confidence)
	assert.True(t, wages.CrossValidated)

	// Bare scalars default to the lowest-trust tier and confidence 0.
	employer := doc.Fields["employer_name"]
	assert.Equal(t, "Acme Corp", employer.Value)
	assert.Equal(t, model.SourcePatternFallback, employer.Source)
	assert.Zero(t, employer.Confidence)
	assert.False(t, employer.CrossValidated)
}

func TestNormalizeFlatPayloadWithMetadataKeys(t *testing.T) {
	doc, err := NormalizeDocument(map[string]any{
		"status":                 "Completed",
		"document_type":          "W-2",
		"wages":                  48000.0,
		"wages_source":           "llm",
		"wages_confidence":       0.7,
		"wages_cross_validated":  true,
		"employee_ssn":           "***-**-6789",
		"employee_ssn_source":    "textract",
		"employee_ssn_confidence": 0.99,
	})
	require.NoError(t, err)

	wages := doc.Fields["wages"]
	assert.Equal(t, 48000.0, wages.Value)
	assert.Equal(t, model.SourceAIEnhanced, wages.Source)
	assert.Equal(t, 0.7, wages.Confidence)
	assert.True(t, wages.CrossValidated)

	ssn := doc.Fields["ssn"]
	assert.Equal(t, "***-**-6789", ssn.Value)
	assert.Equal(t, model.SourcePrimaryOCR, ssn.Source)
	assert.Equal(t, 0.99, ssn.Confidence)

	// Envelope keys never become fields.
	_, hasStatus := doc.Fields["status"]
	assert.False(t, hasStatus)
}

func TestNormalizeAliasCollision(t *testing.T) {
	// Two spellings of the wages field; the higher trust tier must win
	// even though its confidence is lower.
	doc, err := NormalizeDocument(map[string]any{
		"document_type": "W-2",
		"fields": map[string]any{
			"Box1_Wages": map[string]any{"value": 50000.0, "source": "textract", "confidence": 0.6},
			"wages_box1": map[string]any{"value": 49000.0, "source": "regex", "confidence": 0.9},
		},
	})
	require.NoError(t, err)

	require.Len(t, doc.Fields, 1)
	wages := doc.Fields["wages"]
	assert.Equal(t, 50000.0, wages.Value)
	assert.Equal(t, model.SourcePrimaryOCR, wages.Source)
}

func TestNormalizeCollisionConfidenceTieBreak(t *testing.T) {
	doc, err := NormalizeDocument(map[string]any{
		"document_type": "W-2",
		"fields": map[string]any{
			"Box1_Wages": map[string]any{"value": 50000.0, "source": "textract", "confidence": 0.6},
			"wages":      map[string]any{"value": 49000.0, "source": "ocr", "confidence": 0.9},
		},
	})
	require.NoError(t, err)

	// Same tier: higher confidence wins.
	assert.Equal(t, 49000.0, doc.Fields["wages"].Value)
}

func TestNormalizeDeterministic(t *testing.T) {
	payload := func() map[string]any {
		return map[string]any{
			"document_type": "W-2",
			"fields": map[string]any{
				"Box1_Wages":   map[string]any{"value": 1.0, "source": "ocr", "confidence": 0.5},
				"wages_box1":   map[string]any{"value": 2.0, "source": "ocr", "confidence": 0.5},
				"EmployeeWages": map[string]any{"value": 3.0, "source": "ocr", "confidence": 0.5},
			},
		}
	}

	first, err := NormalizeDocument(payload())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := NormalizeDocument(payload())
		require.NoError(t, err)
		assert.Equal(t, first.Fields["wages"].Value, again.Fields["wages"].Value)
	}

	// Full tie: the lexicographically first raw key is kept.
	assert.Equal(t, 1.0, first.Fields["wages"].Value)
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"empty payload", map[string]any{}},
		{"missing document type", map[string]any{"fields": map[string]any{"wages": 1.0}}},
		{"string fields", map[string]any{"document_type": "W-2", "fields": "oops"}},
		{"array fields", map[string]any{"document_type": "W-2", "fields": []any{"wages"}}},
		{"null fields", map[string]any{"document_type": "W-2", "fields": nil}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeDocument(tc.payload)
			assert.Error(t, err)
		})
	}
}

func TestNormalizeConfidenceClamped(t *testing.T) {
	doc, err := NormalizeDocument(map[string]any{
		"document_type": "W-2",
		"fields": map[string]any{
			"wages": map[string]any{"value": 1.0, "confidence": 1.7},
			"tips":  map[string]any{"value": 2.0, "confidence": -0.3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, doc.Fields["wages"].Confidence)
	assert.Equal(t, 0.0, doc.Fields["tips"].Confidence)
}

func TestParseSourceTierSpellings(t *testing.T) {
	cases := map[string]model.SourceTier{
		"primary-ocr": model.SourcePrimaryOCR,
		"Textract":    model.SourcePrimaryOCR,
		"ocr":         model.SourcePrimaryOCR,
		"ai-enhanced": model.SourceAIEnhanced,
		"LLM":         model.SourceAIEnhanced,
		"regex":       model.SourcePatternFallback,
		"":            model.SourcePatternFallback,
		"whatever":    model.SourcePatternFallback,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseSourceTier(in), "spelling %q", in)
	}
}

func TestNumericValueParsesCurrencyStrings(t *testing.T) {
	f, ok := numericValue("$1,234.56")
	require.True(t, ok)
	assert.Equal(t, 1234.56, f)

	_, ok = numericValue("not a number")
	assert.False(t, ok)
}
