package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/middleware"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/service"
)

// allowedExtensions lists the upload types the extraction service accepts.
var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

type DocumentHandler struct {
	client     *service.ExtractClient
	encoder    *service.Encoder
	store      *service.DocumentStore
	reconciler *service.Reconciler
	validator  *service.Validator
	archive    *service.ArchiveService
	polling    config.PollingConfig

	// Clock paces the background pollers; tests swap it out.
	Clock service.Clock

	// polls tracks the in-flight poll of each job so DELETE can abandon
	// it and wait for the loop to stop.
	mu    sync.Mutex
	polls map[string]*pollHandle
}

type pollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDocumentHandler(
	client *service.ExtractClient,
	encoder *service.Encoder,
	store *service.DocumentStore,
	reconciler *service.Reconciler,
	validator *service.Validator,
	archive *service.ArchiveService,
	cfg *config.Config,
) *DocumentHandler {
	return &DocumentHandler{
		client:     client,
		encoder:    encoder,
		store:      store,
		reconciler: reconciler,
		validator:  validator,
		archive:    archive,
		polling:    cfg.Polling,
		polls:      make(map[string]*pollHandle),
	}
}

// Upload accepts a document file, submits it for extraction, and starts
// tracking the job. Asynchronous backends get a background poller; a
// synchronous response completes the job in place.
func (h *DocumentHandler) Upload(c *gin.Context) {
	clientID := middleware.GetClientID(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF, PNG and JPEG files are allowed"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}

	content, err := h.encoder.Encode(header.Filename, data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, model.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	job := model.NewJob(uuid.New().String(), clientID, header.Filename)
	h.store.SaveJob(job)

	if h.archive != nil {
		url, err := h.archive.StoreOriginal(c.Request.Context(), clientID, job.ID, header.Filename, contentType, data)
		if err != nil {
			// Archiving is best-effort; the job proceeds without it.
			slog.Warn("failed to archive original", "job_id", job.ID, "error", err.Error())
		} else {
			job.ArchiveURL = url
			h.store.SaveJob(job)
		}
	}

	sub, err := h.client.SubmitDocument(c.Request.Context(), header.Filename, content)
	if err != nil {
		job.Transition(model.StateFailed)
		job.ErrorReason = err.Error()
		h.store.SaveJob(job)

		var subErr *model.SubmissionError
		if errors.As(err, &subErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": subErr.Message, "id": job.ID})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to submit document", "id": job.ID})
		return
	}

	if sub.Document != nil {
		// Synchronous backend: the document came back with the submit.
		job.Result = sub.Document
		job.Transition(model.StatePolling)
		job.Transition(model.StateCompleted)
		h.annotate(job)
		h.store.SaveJob(job)

		c.JSON(http.StatusOK, job)
		return
	}

	job.RemoteID = sub.JobID
	h.store.SaveJob(job)

	// Capture the response before the poller starts mutating the job.
	accepted := gin.H{
		"id":       job.ID,
		"filename": job.Filename,
		"state":    job.State,
	}
	h.startPolling(job)

	c.JSON(http.StatusAccepted, accepted)
}

// startPolling launches the background poll loop for an async job.
func (h *DocumentHandler) startPolling(job *model.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &pollHandle{cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	h.polls[job.ID] = handle
	h.mu.Unlock()

	poller := service.NewPoller(h.client, &h.polling)
	if h.Clock != nil {
		poller.Clock = h.Clock
	}
	poller.OnUpdate = func(j *model.Job) {
		// Annotate before the completed state becomes visible so readers
		// never see a completed job without its reconciled view.
		if j.State == model.StateCompleted {
			h.annotate(j)
		}
		h.store.SaveJob(j)
	}

	go func() {
		defer close(handle.done)
		defer h.releasePoll(job.ID)
		poller.Poll(ctx, job)
	}()
}

// stopPolling cancels the job's poll loop, if any, and waits for it to
// finish so nothing writes the job afterwards.
func (h *DocumentHandler) stopPolling(jobID string) {
	h.mu.Lock()
	handle, ok := h.polls[jobID]
	h.mu.Unlock()
	if !ok {
		return
	}

	handle.cancel()
	<-handle.done
}

func (h *DocumentHandler) releasePoll(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if handle, ok := h.polls[jobID]; ok {
		handle.cancel()
		delete(h.polls, jobID)
	}
}

// annotate attaches the reconciled view and validation findings to a
// completed job.
func (h *DocumentHandler) annotate(job *model.Job) {
	if job.Result == nil {
		return
	}
	job.Reconciled = h.reconciler.Reconcile(job.Result)
	validation := h.validator.Validate(job.Result.DocumentType, job.Reconciled.Fields)
	job.Validation = &validation
}

// List returns the client's jobs, newest first, without result payloads.
func (h *DocumentHandler) List(c *gin.Context) {
	clientID := middleware.GetClientID(c)
	jobs := h.store.ListJobs(clientID)

	result := make([]gin.H, len(jobs))
	for i, job := range jobs {
		result[i] = gin.H{
			"id":         job.ID,
			"filename":   job.Filename,
			"state":      job.State,
			"created_at": job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at": job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"documents": result})
}

// Get returns a single job with its result, reconciled view and
// validation findings.
func (h *DocumentHandler) Get(c *gin.Context) {
	job := h.clientJob(c)
	if job == nil {
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetStatus returns only the lifecycle state of a job.
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	job := h.clientJob(c)
	if job == nil {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           job.ID,
		"state":        job.State,
		"attempts":     job.Attempts,
		"error_reason": job.ErrorReason,
	})
}

// Delete removes a job, cancelling its poll loop if one is running.
func (h *DocumentHandler) Delete(c *gin.Context) {
	job := h.clientJob(c)
	if job == nil {
		return
	}

	h.stopPolling(job.ID)
	h.store.DeleteJob(job.ID)

	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}

// clientJob fetches the job in the path, scoped to the caller's client
// id. On a miss it writes the 404 and returns nil.
func (h *DocumentHandler) clientJob(c *gin.Context) *model.Job {
	clientID := middleware.GetClientID(c)
	id := c.Param("id")

	job := h.store.GetJob(id)
	if job == nil || job.ClientID != clientID {
		c.JSON(http.StatusNotFound, gin.H{"error": model.ErrJobNotFound.Error()})
		return nil
	}
	return job
}
