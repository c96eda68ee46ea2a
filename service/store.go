package service

import (
	"sort"
	"sync"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/model"
)

// DocumentStore is an in-memory store for job and batch records, scoped
// by client id. Jobs and documents live only as long as the requesting
// flow needs them; the store caps how many it keeps.
//
// Save and Get operate on snapshots, so concurrent pollers and handlers
// never share a mutable record.
type DocumentStore struct {
	mu         sync.RWMutex
	jobs       map[string]*model.Job
	batches    map[string]*model.BatchResult
	maxJobs    int
	maxBatches int
}

func NewDocumentStore(cfg *config.StoreConfig) *DocumentStore {
	return &DocumentStore{
		jobs:       make(map[string]*model.Job),
		batches:    make(map[string]*model.BatchResult),
		maxJobs:    cfg.MaxJobs,
		maxBatches: cfg.MaxBatches,
	}
}

// SaveJob stores a snapshot of the job.
func (s *DocumentStore) SaveJob(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := *job
	s.jobs[job.ID] = &snapshot

	if s.maxJobs > 0 && len(s.jobs) > s.maxJobs {
		s.evictOldestJob()
	}
}

// GetJob returns a snapshot of the job, or nil if unknown.
func (s *DocumentStore) GetJob(id string) *model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// ListJobs returns the client's jobs, newest first.
func (s *DocumentStore) ListJobs(clientID string) []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*model.Job
	for _, job := range s.jobs {
		if job.ClientID == clientID {
			snapshot := *job
			jobs = append(jobs, &snapshot)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// DeleteJob removes the job and reports whether it existed.
func (s *DocumentStore) DeleteJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// SaveBatch stores a snapshot of the batch, items included.
func (s *DocumentStore) SaveBatch(batch *model.BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches[batch.BatchID] = copyBatch(batch)

	if s.maxBatches > 0 && len(s.batches) > s.maxBatches {
		s.evictOldestBatch()
	}
}

// GetBatch returns a snapshot of the batch, or nil if unknown.
func (s *DocumentStore) GetBatch(id string) *model.BatchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil
	}
	return copyBatch(batch)
}

func copyBatch(batch *model.BatchResult) *model.BatchResult {
	snapshot := *batch
	snapshot.Items = make(map[string]model.BatchItem, len(batch.Items))
	for id, item := range batch.Items {
		snapshot.Items[id] = item
	}
	return &snapshot
}

// evictOldestJob drops the least recently updated job. Caller holds the lock.
func (s *DocumentStore) evictOldestJob() {
	var oldestID string
	for id, job := range s.jobs {
		if oldestID == "" || job.UpdatedAt.Before(s.jobs[oldestID].UpdatedAt) {
			oldestID = id
		}
	}
	if oldestID != "" {
		delete(s.jobs, oldestID)
	}
}

// evictOldestBatch drops the least recently updated batch. Caller holds the lock.
func (s *DocumentStore) evictOldestBatch() {
	var oldestID string
	for id, batch := range s.batches {
		if oldestID == "" || batch.UpdatedAt.Before(s.batches[oldestID].UpdatedAt) {
			oldestID = id
		}
	}
	if oldestID != "" {
		delete(s.batches, oldestID)
	}
}
