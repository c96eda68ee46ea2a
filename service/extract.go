package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

// Remote status markers reported by the extraction service.
const (
	RemoteStatusProcessing = "Processing"
	RemoteStatusCompleted  = "Completed"
	RemoteStatusFailed     = "Failed"
)

// ExtractClient talks to the external document-extraction service. It is
// the only place this codebase touches the network.
type ExtractClient struct {
	config     *config.ExtractConfig
	httpClient *http.Client
}

func NewExtractClient(cfg *config.ExtractConfig) *ExtractClient {
	return &ExtractClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type processDocumentRequest struct {
	Filename    string `json:"filename"`
	FileContent string `json:"file_content"`
}

// BatchFile is one member of a batch submission. ID is assigned by the
// caller and echoed back in batch results.
type BatchFile struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Content  string `json:"file_content"`
}

type processBatchRequest struct {
	Files []BatchFile `json:"files"`
}

// Submission is the outcome of a submit call. Asynchronous backends hand
// back a job handle; synchronous ones return the terminal document
// directly, in which case Document is non-nil and JobID is empty.
type Submission struct {
	JobID    string
	Document *model.Document
}

// ResultResponse is a single status-check response for one job.
type ResultResponse struct {
	Status       string
	ErrorMessage string
	// Payload is the full response body, normalized later once the
	// status is terminal.
	Payload map[string]any
}

// BatchSubmission is the outcome of a batch submit call. Asynchronous
// backends hand back a batch handle; synchronous ones return per-item
// results inline.
type BatchSubmission struct {
	BatchID string
	Results []map[string]any
}

// BatchStatusResponse is an aggregate status-check response for a batch.
type BatchStatusResponse struct {
	Status         string
	ProcessedFiles int
	TotalFiles     int
	Results        []map[string]any
}

// SubmitDocument sends one encoded document for processing.
func (c *ExtractClient) SubmitDocument(ctx context.Context, filename, content string) (*Submission, error) {
	payload, err := c.post(ctx, "/process-document", processDocumentRequest{
		Filename:    filename,
		FileContent: content,
	})
	if err != nil {
		return nil, err
	}

	if id, ok := payload["document_id"].(string); ok && id != "" {
		return &Submission{JobID: id}, nil
	}

	// Synchronous-style backend: the response body is the terminal document.
	doc, err := NormalizeDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("synchronous response: %w", err)
	}
	return &Submission{Document: doc}, nil
}

// GetResult queries the status of a single job.
func (c *ExtractClient) GetResult(ctx context.Context, jobID string) (*ResultResponse, error) {
	payload, err := c.get(ctx, "/result/"+jobID)
	if err != nil {
		return nil, err
	}

	return &ResultResponse{
		Status:       stringField(payload, "status"),
		ErrorMessage: stringField(payload, "error"),
		Payload:      payload,
	}, nil
}

// SubmitBatch sends a set of encoded documents in one call.
func (c *ExtractClient) SubmitBatch(ctx context.Context, files []BatchFile) (*BatchSubmission, error) {
	payload, err := c.post(ctx, "/process-batch", processBatchRequest{Files: files})
	if err != nil {
		return nil, err
	}

	sub := &BatchSubmission{
		BatchID: stringField(payload, "batch_id"),
		Results: sliceOfMaps(payload["results"]),
	}
	if sub.BatchID == "" && sub.Results == nil {
		return nil, fmt.Errorf("batch response carries neither batch_id nor results")
	}
	return sub, nil
}

// GetBatchStatus queries the aggregate status of a batch.
func (c *ExtractClient) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatusResponse, error) {
	payload, err := c.get(ctx, "/batch-status/"+batchID)
	if err != nil {
		return nil, err
	}

	return &BatchStatusResponse{
		Status:         stringField(payload, "status"),
		ProcessedFiles: intField(payload, "processed_files"),
		TotalFiles:     intField(payload, "total_files"),
		Results:        sliceOfMaps(payload["results"]),
	}, nil
}

func (c *ExtractClient) post(ctx context.Context, path string, body any) (map[string]any, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The error body is surfaced verbatim as the job's error reason.
		return nil, &model.SubmissionError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(respBody))
	}
	return payload, nil
}

func (c *ExtractClient) get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status check returned %d: %s", resp.StatusCode, errorMessage(respBody))
	}

	var payload map[string]any
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return payload, nil
}

func (c *ExtractClient) authorize(req *http.Request) {
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}
}

// errorMessage extracts the {error} body of a non-2xx response, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(bytes.TrimSpace(body))
}

func stringField(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func intField(payload map[string]any, key string) int {
	if f, ok := payload[key].(float64); ok {
		return int(f)
	}
	return 0
}

func sliceOfMaps(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
