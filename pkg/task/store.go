package task

import (
	"context"
	"encoding/json"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/gatefs/gatefs/pkg/fault"
)

// Store persists job records.
type Store interface {
	// Put inserts or replaces a job record.
	Put(ctx context.Context, job *Job) error

	// Get returns one job, fault.NotFound on miss.
	Get(ctx context.Context, id string) (*Job, error)

	// Delete removes a job, fault.NotFound on miss.
	Delete(ctx context.Context, id string) error

	// List returns every job, newest first.
	List(ctx context.Context) ([]*Job, error)

	Close() error
}

const jobKeyPrefix = "job/"

func keyJob(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

// BadgerStore implements Store on an embedded badger database with jobs
// stored as JSON under job/<id>.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the job database at path. An empty path opens an
// in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fault.Infrastructure("failed to open job database", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job == nil || job.ID == "" || job.Type == "" {
		return fault.Validation("job requires an id and a type")
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fault.Infrastructure("failed to encode job", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyJob(job.ID), data)
	})
	if err != nil {
		return fault.Infrastructure("failed to store job", err)
	}
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fault.Validation("job id is required")
	}

	var job *Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyJob(id))
		if err == badger.ErrKeyNotFound {
			return fault.NotFound("job %s not found", id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded Job
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fault.Infrastructure("failed to decode job", err)
			}
			job = &decoded
			return nil
		})
	})
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil, err
		}
		return nil, fault.Infrastructure("failed to load job", err)
	}
	return job, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fault.Validation("job id is required")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyJob(id)); err == badger.ErrKeyNotFound {
			return fault.NotFound("job %s not found", id)
		} else if err != nil {
			return err
		}
		return txn.Delete(keyJob(id))
	})
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return err
		}
		return fault.Infrastructure("failed to delete job", err)
	}
	return nil
}

func (s *BadgerStore) List(ctx context.Context) ([]*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var jobs []*Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var decoded Job
				if err := json.Unmarshal(val, &decoded); err != nil {
					return fault.Infrastructure("failed to decode job", err)
				}
				jobs = append(jobs, &decoded)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fault.Infrastructure("failed to list jobs", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// Ping verifies the database is open and readable. Used by the readiness
// probe.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(keyJob("ping"))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fault.Infrastructure("job database not readable", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
