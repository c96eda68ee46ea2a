package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/service"
)

func newTestBatchHandler(extractURL string) *BatchHandler {
	cfg := testConfig(extractURL)
	cfg.Batch = config.BatchConfig{Mode: "fanout", Concurrency: 4}

	store := service.NewDocumentStore(&cfg.Store)
	coordinator := service.NewCoordinator(
		service.NewExtractClient(&cfg.Extract),
		service.NewEncoder(&cfg.Encoder),
		store,
		service.NewReconciler(&cfg.Reconcile),
		service.NewValidator(),
		cfg,
	)
	coordinator.Clock = fastClock{}
	return NewBatchHandler(coordinator, store)
}

func batchRequest(t *testing.T, filenames ...string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range filenames {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		part.Write([]byte("content of " + name))
	}
	writer.Close()

	req := httptest.NewRequest("POST", "/batches", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func batchRouter(h *BatchHandler, clientID string) *gin.Engine {
	router := gin.New()
	router.POST("/batches", func(c *gin.Context) {
		c.Set("client_id", clientID)
		h.Create(c)
	})
	router.GET("/batches/:id", func(c *gin.Context) {
		c.Set("client_id", clientID)
		h.Get(c)
	})
	return router
}

func waitForBatch(t *testing.T, store *service.DocumentStore, batchID string) *model.BatchResult {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		batch := store.GetBatch(batchID)
		if batch != nil && batch.State == model.BatchCompleted {
			return batch
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Batch %s never completed", batchID)
	return nil
}

func TestBatchCreateAndComplete(t *testing.T) {
	extract := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"document_type": "W-2",
			"fields": map[string]any{
				"wages": map[string]any{"value": 50000.0, "source": "textract", "confidence": 0.95},
			},
		})
	}))
	defer extract.Close()

	h := newTestBatchHandler(extract.URL)
	router := batchRouter(h, "client-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, batchRequest(t, "a.pdf", "b.pdf", "c.pdf"))

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]any
	json.Unmarshal(w.Body.Bytes(), &response)
	batchID, _ := response["batch_id"].(string)
	if batchID == "" {
		t.Fatal("Expected batch id in response")
	}
	if response["total_files"] != float64(3) {
		t.Errorf("Expected 3 total files, got %v", response["total_files"])
	}

	batch := waitForBatch(t, h.store, batchID)
	if batch.Successful != 3 || batch.Failed != 0 {
		t.Errorf("Expected 3 successful / 0 failed, got %d/%d", batch.Successful, batch.Failed)
	}

	// Fetch through the API and check the members came along.
	gw := httptest.NewRecorder()
	router.ServeHTTP(gw, httptest.NewRequest("GET", "/batches/"+batchID, nil))
	if gw.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", gw.Code)
	}

	var fetched model.BatchResult
	if err := json.Unmarshal(gw.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("Failed to parse batch: %v", err)
	}
	if len(fetched.Items) != 3 {
		t.Errorf("Expected 3 items, got %d", len(fetched.Items))
	}
}

func TestBatchCreateNoFiles(t *testing.T) {
	h := newTestBatchHandler("http://unused")
	router := batchRouter(h, "client-1")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.Close()

	req := httptest.NewRequest("POST", "/batches", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestBatchCreateTooManyFiles(t *testing.T) {
	h := newTestBatchHandler("http://unused")
	router := batchRouter(h, "client-1")

	names := make([]string, maxBatchFiles+1)
	for i := range names {
		names[i] = "file.pdf"
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, batchRequest(t, names...))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestBatchGetWrongClient(t *testing.T) {
	h := newTestBatchHandler("http://unused")
	h.store.SaveBatch(model.NewBatchResult("batch-1", "client-1", 1))

	router := batchRouter(h, "client-2")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/batches/batch-1", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another client's batch, got %d", w.Code)
	}
}

func TestBatchGetNotFound(t *testing.T) {
	h := newTestBatchHandler("http://unused")
	router := batchRouter(h, "client-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/batches/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
