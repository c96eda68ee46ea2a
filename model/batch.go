package model

import "time"

// BatchState is the lifecycle state of a batch as a whole. A batch is
// terminal only when every member job has reached a terminal state.
type BatchState string

const (
	BatchProcessing BatchState = "processing"
	BatchCompleted  BatchState = "completed"
)

// BatchItem is the outcome of a single member of a batch: either a
// document or a failure reason, never both.
type BatchItem struct {
	Filename string    `json:"filename"`
	State    JobState  `json:"state"`
	Document *Document `json:"document,omitempty"`
	Error    string    `json:"error,omitempty"`

	// Reconciled and Validation annotate a completed document.
	Reconciled *Reconciliation `json:"reconciled,omitempty"`
	Validation *Validation     `json:"validation,omitempty"`
}

// BatchResult aggregates the outcomes of a batch, keyed by the
// client-assigned item id. Successful + Failed == TotalFiles once the
// batch is terminal.
type BatchResult struct {
	BatchID    string               `json:"batch_id"`
	ClientID   string               `json:"client_id"`
	State      BatchState           `json:"state"`
	Items      map[string]BatchItem `json:"items"`
	TotalFiles int                  `json:"total_files"`
	Successful int                  `json:"successful"`
	Failed     int                  `json:"failed"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// NewBatchResult creates an empty batch in the processing state.
func NewBatchResult(batchID, clientID string, totalFiles int) *BatchResult {
	now := time.Now()
	return &BatchResult{
		BatchID:    batchID,
		ClientID:   clientID,
		State:      BatchProcessing,
		Items:      make(map[string]BatchItem, totalFiles),
		TotalFiles: totalFiles,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
