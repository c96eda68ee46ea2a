package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

func newTestClient(url string) *ExtractClient {
	return NewExtractClient(&config.ExtractConfig{
		APIURL:         url,
		APIToken:       "test-token",
		TimeoutSeconds: 5,
	})
}

func TestSubmitDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/process-document" {
			t.Errorf("Expected /process-document, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("Expected Authorization header")
		}

		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["filename"] != "w2.pdf" {
			t.Errorf("Expected filename w2.pdf, got %s", req["filename"])
		}
		if req["file_content"] == "" {
			t.Error("Expected file_content to be set")
		}

		json.NewEncoder(w).Encode(map[string]string{"document_id": "doc-123"})
	}))
	defer server.Close()

	sub, err := newTestClient(server.URL).SubmitDocument(context.Background(), "w2.pdf", "ZmFrZQ==")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sub.JobID != "doc-123" {
		t.Errorf("Expected job ID doc-123, got %s", sub.JobID)
	}
	if sub.Document != nil {
		t.Error("Expected no inline document for asynchronous backend")
	}
}

func TestSubmitDocumentSynchronousBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"document_type": "W-2",
			"fields": map[string]any{
				"wages": map[string]any{"value": 50000.0, "source": "primary-ocr", "confidence": 0.95},
			},
		})
	}))
	defer server.Close()

	sub, err := newTestClient(server.URL).SubmitDocument(context.Background(), "w2.pdf", "ZmFrZQ==")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sub.Document == nil {
		t.Fatal("Expected inline document for synchronous backend")
	}
	if sub.Document.DocumentType != "W-2" {
		t.Errorf("Expected document type W-2, got %s", sub.Document.DocumentType)
	}
}

func TestSubmitDocumentError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "extraction backend unavailable"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).SubmitDocument(context.Background(), "w2.pdf", "ZmFrZQ==")
	if err == nil {
		t.Fatal("Expected error for non-2xx response")
	}

	var subErr *model.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("Expected SubmissionError, got %T", err)
	}
	if subErr.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", subErr.StatusCode)
	}
	// The remote error body is surfaced verbatim
	if subErr.Message != "extraction backend unavailable" {
		t.Errorf("Expected verbatim error message, got %q", subErr.Message)
	}
}

func TestGetResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/result/doc-123" {
			t.Errorf("Expected /result/doc-123, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "Processing"})
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).GetResult(context.Background(), "doc-123")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Status != RemoteStatusProcessing {
		t.Errorf("Expected status Processing, got %s", res.Status)
	}
}

func TestGetResultNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "try again"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetResult(context.Background(), "doc-123")
	if err == nil {
		t.Fatal("Expected error for non-2xx status check")
	}
}

func TestSubmitBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process-batch" {
			t.Errorf("Expected /process-batch, got %s", r.URL.Path)
		}

		var req struct {
			Files []BatchFile `json:"files"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Files) != 2 {
			t.Errorf("Expected 2 files, got %d", len(req.Files))
		}

		json.NewEncoder(w).Encode(map[string]string{"batch_id": "batch-9"})
	}))
	defer server.Close()

	sub, err := newTestClient(server.URL).SubmitBatch(context.Background(), []BatchFile{
		{ID: "a", Filename: "one.pdf", Content: "YQ=="},
		{ID: "b", Filename: "two.pdf", Content: "Yg=="},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sub.BatchID != "batch-9" {
		t.Errorf("Expected batch ID batch-9, got %s", sub.BatchID)
	}
}

func TestSubmitBatchInlineResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "a", "status": "Completed", "document_type": "W-2", "fields": map[string]any{"wages": 50000.0}},
			},
		})
	}))
	defer server.Close()

	sub, err := newTestClient(server.URL).SubmitBatch(context.Background(), []BatchFile{
		{ID: "a", Filename: "one.pdf", Content: "YQ=="},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sub.BatchID != "" {
		t.Errorf("Expected no batch ID for inline results, got %s", sub.BatchID)
	}
	if len(sub.Results) != 1 {
		t.Fatalf("Expected 1 inline result, got %d", len(sub.Results))
	}
}

func TestSubmitBatchMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).SubmitBatch(context.Background(), []BatchFile{
		{ID: "a", Filename: "one.pdf", Content: "YQ=="},
	})
	if err == nil {
		t.Fatal("Expected error when response has neither batch_id nor results")
	}
}

func TestGetBatchStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/batch-status/batch-9" {
			t.Errorf("Expected /batch-status/batch-9, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":          "Completed",
			"processed_files": 2,
			"total_files":     2,
			"results": []map[string]any{
				{"id": "a", "status": "Completed", "document_type": "W-2", "fields": map[string]any{"wages": 1.0}},
				{"id": "b", "status": "Failed", "error": "unreadable scan"},
			},
		})
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).GetBatchStatus(context.Background(), "batch-9")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Status != RemoteStatusCompleted {
		t.Errorf("Expected status Completed, got %s", res.Status)
	}
	if res.ProcessedFiles != 2 || res.TotalFiles != 2 {
		t.Errorf("Expected 2/2 files, got %d/%d", res.ProcessedFiles, res.TotalFiles)
	}
	if len(res.Results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(res.Results))
	}
}
