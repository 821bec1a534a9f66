package storage

import (
	"github.com/burrowd/burrow/pkg/types"
)

// Store defines the interface for durable daemon state.
// Implemented by the BoltDB-backed store; tests use the in-memory NullStore.
type Store interface {
	// Events
	AppendEvent(event *types.Event) error
	LoadEvents() ([]*types.Event, error)

	// Completion jobs
	PutJob(job *types.CompletionJob) error
	GetJob(requestID string) (*types.CompletionJob, error)
	ListJobs() ([]*types.CompletionJob, error)

	// Utility
	Close() error
}

// NullStore discards writes and loads nothing. Used by tests and by
// configurations that run the daemon fully in memory.
type NullStore struct{}

func (NullStore) AppendEvent(*types.Event) error                    { return nil }
func (NullStore) LoadEvents() ([]*types.Event, error)               { return nil, nil }
func (NullStore) PutJob(*types.CompletionJob) error                 { return nil }
func (NullStore) GetJob(string) (*types.CompletionJob, error)       { return nil, nil }
func (NullStore) ListJobs() ([]*types.CompletionJob, error)         { return nil, nil }
func (NullStore) Close() error                                      { return nil }
