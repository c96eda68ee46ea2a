package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

// BatchFileInput is one uploaded file headed into a batch.
type BatchFileInput struct {
	Filename string
	Data     []byte
}

// BatchSource is the slice of the extract client the coordinator needs.
type BatchSource interface {
	JobResultSource
	SubmitDocument(ctx context.Context, filename, content string) (*Submission, error)
	SubmitBatch(ctx context.Context, files []BatchFile) (*BatchSubmission, error)
	GetBatchStatus(ctx context.Context, batchID string) (*BatchStatusResponse, error)
}

// Coordinator fans a set of files out into jobs and aggregates their
// terminal states into one BatchResult. One failing member never aborts
// its siblings, and the batch is terminal only when every member is.
//
// Two modes: "fanout" runs one submit+poll pipeline per file with bounded
// concurrency; "remote" makes a single batch submission and polls the
// aggregate status.
type Coordinator struct {
	client      BatchSource
	encoder     *Encoder
	store       *DocumentStore
	reconciler  *Reconciler
	validator   *Validator
	polling     config.PollingConfig
	mode        string
	concurrency int

	// Clock paces the aggregate poll in remote mode and every per-job
	// poller in fanout mode.
	Clock Clock
}

func NewCoordinator(
	client BatchSource,
	encoder *Encoder,
	store *DocumentStore,
	reconciler *Reconciler,
	validator *Validator,
	cfg *config.Config,
) *Coordinator {
	return &Coordinator{
		client:      client,
		encoder:     encoder,
		store:       store,
		reconciler:  reconciler,
		validator:   validator,
		polling:     cfg.Polling,
		mode:        cfg.Batch.Mode,
		concurrency: cfg.Batch.Concurrency,
		Clock:       realClock{},
	}
}

// Run processes the batch to completion, mutating and persisting batch as
// items reach terminal states. It blocks until every member is terminal.
func (c *Coordinator) Run(ctx context.Context, batch *model.BatchResult, files []BatchFileInput) {
	slog.Info("batch started",
		"batch_id", batch.BatchID,
		"total_files", batch.TotalFiles,
		"mode", c.mode,
	)

	agg := &batchAggregator{batch: batch, store: c.store}

	if c.mode == "remote" {
		c.runRemote(ctx, agg, files)
	} else {
		c.runFanout(ctx, agg, files)
	}

	agg.finish()

	slog.Info("batch finished",
		"batch_id", batch.BatchID,
		"successful", batch.Successful,
		"failed", batch.Failed,
	)
}

// batchAggregator serializes per-item updates into the shared BatchResult
// so concurrent members never clobber each other.
type batchAggregator struct {
	mu    sync.Mutex
	batch *model.BatchResult
	store *DocumentStore
}

func (a *batchAggregator) record(itemID string, item model.BatchItem) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.batch.Items[itemID] = item
	if item.State == model.StateCompleted {
		a.batch.Successful++
	} else {
		a.batch.Failed++
	}
	a.batch.UpdatedAt = time.Now()
	a.store.SaveBatch(a.batch)
}

func (a *batchAggregator) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.batch.State = model.BatchCompleted
	a.batch.UpdatedAt = time.Now()
	a.store.SaveBatch(a.batch)
}

// runFanout submits and polls every file as an independent job.
func (c *Coordinator) runFanout(ctx context.Context, agg *batchAggregator, files []BatchFileInput) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.concurrency)

	for _, f := range files {
		itemID := uuid.New().String()
		wg.Add(1)
		go func(itemID string, f BatchFileInput) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			agg.record(itemID, c.processOne(ctx, agg.batch.ClientID, itemID, f))
		}(itemID, f)
	}

	wg.Wait()
}

// processOne runs the full encode -> submit -> poll pipeline for one file.
func (c *Coordinator) processOne(ctx context.Context, clientID, itemID string, f BatchFileInput) model.BatchItem {
	content, err := c.encoder.Encode(f.Filename, f.Data)
	if err != nil {
		return model.BatchItem{Filename: f.Filename, State: model.StateFailed, Error: err.Error()}
	}

	job := model.NewJob(itemID, clientID, f.Filename)
	c.store.SaveJob(job)

	sub, err := c.client.SubmitDocument(ctx, f.Filename, content)
	if err != nil {
		job.Transition(model.StateFailed)
		job.ErrorReason = err.Error()
		c.store.SaveJob(job)
		return model.BatchItem{Filename: f.Filename, State: model.StateFailed, Error: err.Error()}
	}

	if sub.Document == nil {
		job.RemoteID = sub.JobID
		poller := NewPoller(c.client, &config.PollingConfig{
			IntervalSeconds: c.polling.IntervalSeconds,
			MaxAttempts:     c.polling.MaxAttempts,
		})
		poller.Clock = c.Clock
		poller.OnUpdate = func(j *model.Job) { c.store.SaveJob(j) }
		poller.Poll(ctx, job)
	} else {
		job.Result = sub.Document
		job.Transition(model.StatePolling)
		job.Transition(model.StateCompleted)
		c.store.SaveJob(job)
	}

	return c.itemFromJob(job, f.Filename)
}

func (c *Coordinator) itemFromJob(job *model.Job, filename string) model.BatchItem {
	item := model.BatchItem{Filename: filename, State: job.State}
	if job.State == model.StateCompleted && job.Result != nil {
		item.Document = job.Result
		c.annotate(&item)
	} else {
		item.Error = job.ErrorReason
	}
	return item
}

// annotate attaches the reconciled view and validation findings to a
// completed item.
func (c *Coordinator) annotate(item *model.BatchItem) {
	item.Reconciled = c.reconciler.Reconcile(item.Document)
	validation := c.validator.Validate(item.Document.DocumentType, item.Reconciled.Fields)
	item.Validation = &validation
}

// runRemote makes one batch submission and polls the aggregate status.
func (c *Coordinator) runRemote(ctx context.Context, agg *batchAggregator, files []BatchFileInput) {
	pending := make(map[string]string, len(files)) // item id -> filename
	var remote []BatchFile

	for _, f := range files {
		itemID := uuid.New().String()
		content, err := c.encoder.Encode(f.Filename, f.Data)
		if err != nil {
			agg.record(itemID, model.BatchItem{Filename: f.Filename, State: model.StateFailed, Error: err.Error()})
			continue
		}
		pending[itemID] = f.Filename
		remote = append(remote, BatchFile{ID: itemID, Filename: f.Filename, Content: content})
	}

	if len(remote) == 0 {
		return
	}

	sub, err := c.client.SubmitBatch(ctx, remote)
	if err != nil {
		c.failPending(agg, pending, model.StateFailed, err.Error())
		return
	}

	results := sub.Results
	if results == nil {
		var state model.JobState
		results, state, err = c.pollBatch(ctx, sub.BatchID)
		if err != nil {
			c.failPending(agg, pending, state, err.Error())
			return
		}
	}

	for _, result := range results {
		itemID := stringField(result, "id")
		filename, ok := pending[itemID]
		if !ok {
			continue
		}
		delete(pending, itemID)
		agg.record(itemID, c.itemFromResult(filename, result))
	}

	// Members the service never reported are failures, not limbo.
	c.failPending(agg, pending, model.StateFailed, "missing from batch response")
}

func (c *Coordinator) failPending(agg *batchAggregator, pending map[string]string, state model.JobState, reason string) {
	for itemID, filename := range pending {
		agg.record(itemID, model.BatchItem{Filename: filename, State: state, Error: reason})
		delete(pending, itemID)
	}
}

func (c *Coordinator) itemFromResult(filename string, result map[string]any) model.BatchItem {
	if status := stringField(result, "status"); status == RemoteStatusFailed {
		reason := stringField(result, "error")
		if reason == "" {
			reason = (&model.ProcessingFailure{}).Error()
		}
		return model.BatchItem{Filename: filename, State: model.StateFailed, Error: reason}
	}

	doc, err := NormalizeDocument(result)
	if err != nil {
		return model.BatchItem{Filename: filename, State: model.StateFailed, Error: err.Error()}
	}
	item := model.BatchItem{Filename: filename, State: model.StateCompleted, Document: doc}
	c.annotate(&item)
	return item
}

// pollBatch polls the aggregate batch status under the same attempt
// budget as per-job polling.
func (c *Coordinator) pollBatch(ctx context.Context, batchID string) ([]map[string]any, model.JobState, error) {
	interval := time.Duration(c.polling.IntervalSeconds) * time.Second

	for attempts := 0; attempts < c.polling.MaxAttempts; attempts++ {
		select {
		case <-ctx.Done():
			return nil, model.StateCancelled, ctx.Err()
		case <-c.Clock.After(interval):
		}

		res, err := c.client.GetBatchStatus(ctx, batchID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, model.StateCancelled, ctx.Err()
			}
			slog.Warn("batch status check failed",
				"batch_id", batchID,
				"attempt", attempts+1,
				"error", err.Error(),
			)
			continue
		}

		switch res.Status {
		case RemoteStatusCompleted:
			return res.Results, model.StateCompleted, nil
		case RemoteStatusFailed:
			return nil, model.StateFailed, fmt.Errorf("batch processing failed")
		}
	}

	return nil, model.StateTimedOut,
		fmt.Errorf("no terminal batch status after %d attempts", c.polling.MaxAttempts)
}
