package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/middleware"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/service"
)

// maxBatchFiles caps how many files one batch request may carry.
const maxBatchFiles = 20

type BatchHandler struct {
	coordinator *service.Coordinator
	store       *service.DocumentStore
}

func NewBatchHandler(coordinator *service.Coordinator, store *service.DocumentStore) *BatchHandler {
	return &BatchHandler{coordinator: coordinator, store: store}
}

// Create accepts a multipart set of files and starts processing them as
// one batch. The response returns immediately with the batch handle;
// progress is visible through Get as members reach terminal states.
func (h *BatchHandler) Create(c *gin.Context) {
	clientID := middleware.GetClientID(c)

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		return
	}
	if len(files) > maxBatchFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many files in one batch"})
		return
	}

	inputs := make([]service.BatchFileInput, 0, len(files))
	for _, header := range files {
		input := service.BatchFileInput{Filename: header.Filename}
		if file, err := header.Open(); err == nil {
			// A read failure leaves Data empty; the member fails on
			// encode instead of sinking the whole batch.
			input.Data, _ = io.ReadAll(file)
			file.Close()
		}
		inputs = append(inputs, input)
	}

	batch := model.NewBatchResult(uuid.New().String(), clientID, len(inputs))
	h.store.SaveBatch(batch)

	// Capture the response before the coordinator starts mutating the batch.
	accepted := gin.H{
		"batch_id":    batch.BatchID,
		"total_files": batch.TotalFiles,
		"state":       batch.State,
	}
	go h.coordinator.Run(context.Background(), batch, inputs)

	c.JSON(http.StatusAccepted, accepted)
}

// Get returns the batch with its per-member outcomes.
func (h *BatchHandler) Get(c *gin.Context) {
	clientID := middleware.GetClientID(c)
	id := c.Param("id")

	batch := h.store.GetBatch(id)
	if batch == nil || batch.ClientID != clientID {
		c.JSON(http.StatusNotFound, gin.H{"error": model.ErrBatchNotFound.Error()})
		return
	}

	c.JSON(http.StatusOK, batch)
}
