package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/fault"
)

// GORMStore implements Store on a shared database handle.
type GORMStore struct {
	db      *gorm.DB
	dialect string
}

// NewGORMStore migrates the plain tables, applies the search DDL and
// returns the store.
func NewGORMStore(db *gorm.DB) (*GORMStore, error) {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate index schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &GORMStore{db: db, dialect: db.Dialector.Name()}, nil
}

func (s *GORMStore) UpsertEntries(ctx context.Context, entries []Entry, opts UpsertOptions) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.MountID == "" || e.FSPath == "" {
			return fault.Validation("entry requires mount_id and fs_path")
		}
		e.FSPath = normalizePath(e.FSPath)
		if e.Name == "" {
			e.Name = baseName(e.FSPath)
		}
		e.IndexRunID = opts.RunID
		e.UpdatedAt = now
		rows = append(rows, e)
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "mount_id"}, {Name: "fs_path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "is_dir", "size", "modified_ms", "mimetype",
			"index_run_id", "updated_at",
		}),
	}).CreateInBatches(rows, 500).Error
	if err != nil {
		return fault.Infrastructure("failed to upsert index entries", err)
	}
	return nil
}

func (s *GORMStore) GetEntry(ctx context.Context, mountID, fsPath string) (*Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("mount_id = ? AND fs_path = ?", mountID, normalizePath(fsPath)).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("no index entry for %s on mount %s", fsPath, mountID)
	}
	if err != nil {
		return nil, fault.Infrastructure("failed to load index entry", err)
	}
	return &entry, nil
}

func (s *GORMStore) DeleteEntry(ctx context.Context, mountID, fsPath string) error {
	err := s.db.WithContext(ctx).
		Where("mount_id = ? AND fs_path = ?", mountID, normalizePath(fsPath)).
		Delete(&Entry{}).Error
	if err != nil {
		return fault.Infrastructure("failed to delete index entry", err)
	}
	return nil
}

func (s *GORMStore) DeleteByPathPrefix(ctx context.Context, mountID, prefix string) error {
	if !strings.HasSuffix(prefix, "/") {
		return fault.Validation("path prefix must end with /, got %q", prefix)
	}

	marker := strings.TrimSuffix(prefix, "/")
	like := database.EscapeLike(prefix) + "%"

	query := s.db.WithContext(ctx).Where("mount_id = ?", mountID)
	if marker == "" {
		// "/" clears the whole mount
		err := query.Delete(&Entry{}).Error
		if err != nil {
			return fault.Infrastructure("failed to delete index subtree", err)
		}
		return nil
	}

	err := query.
		Where("fs_path = ? OR fs_path LIKE ? ESCAPE '\\'", marker, like).
		Delete(&Entry{}).Error
	if err != nil {
		return fault.Infrastructure("failed to delete index subtree", err)
	}
	return nil
}

func (s *GORMStore) CleanupMountByRunID(ctx context.Context, mountID, runID string) (int64, error) {
	if runID == "" {
		return 0, fault.Validation("run id is required for cleanup")
	}

	result := s.db.WithContext(ctx).
		Where("mount_id = ? AND (index_run_id IS NULL OR index_run_id <> ?)", mountID, runID).
		Delete(&Entry{})
	if result.Error != nil {
		return 0, fault.Infrastructure("failed to clean up stale entries", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GORMStore) CleanupPrefixByRunID(ctx context.Context, mountID, prefix, runID string) (int64, error) {
	if runID == "" {
		return 0, fault.Validation("run id is required for cleanup")
	}
	if !strings.HasSuffix(prefix, "/") {
		return 0, fault.Validation("path prefix must end with /, got %q", prefix)
	}

	marker := strings.TrimSuffix(prefix, "/")
	like := database.EscapeLike(prefix) + "%"

	result := s.db.WithContext(ctx).
		Where("mount_id = ? AND (fs_path = ? OR fs_path LIKE ? ESCAPE '\\') AND (index_run_id IS NULL OR index_run_id <> ?)",
			mountID, marker, like, runID).
		Delete(&Entry{})
	if result.Error != nil {
		return 0, fault.Infrastructure("failed to clean up stale subtree entries", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GORMStore) GetIndexStates(ctx context.Context, mountIDs []string) (map[string]MountState, error) {
	states := make(map[string]MountState, len(mountIDs))
	for _, id := range mountIDs {
		states[id] = MountState{MountID: id, Status: IndexStatusNotReady}
	}
	if len(mountIDs) == 0 {
		return states, nil
	}

	var rows []MountState
	err := s.db.WithContext(ctx).Where("mount_id IN ?", mountIDs).Find(&rows).Error
	if err != nil {
		return nil, fault.Infrastructure("failed to load index states", err)
	}
	for _, row := range rows {
		states[row.MountID] = row
	}
	return states, nil
}

func (s *GORMStore) MarkIndexing(ctx context.Context, mountID, jobID string) error {
	return s.upsertState(ctx, MountState{
		MountID: mountID,
		Status:  IndexStatusIndexing,
		JobID:   jobID,
	}, []string{"status", "job_id", "error_message", "updated_at"})
}

func (s *GORMStore) MarkReady(ctx context.Context, mountID, runID string, indexedAt time.Time) error {
	return s.upsertState(ctx, MountState{
		MountID:       mountID,
		Status:        IndexStatusReady,
		LastRunID:     runID,
		LastIndexedAt: &indexedAt,
	}, []string{"status", "last_run_id", "last_indexed_at", "error_message", "updated_at"})
}

func (s *GORMStore) MarkError(ctx context.Context, mountID, message string) error {
	return s.upsertState(ctx, MountState{
		MountID:      mountID,
		Status:       IndexStatusError,
		ErrorMessage: message,
	}, []string{"status", "error_message", "updated_at"})
}

func (s *GORMStore) upsertState(ctx context.Context, state MountState, columns []string) error {
	if state.MountID == "" {
		return fault.Validation("mount id is required")
	}
	state.UpdatedAt = time.Now()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mount_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&state).Error
	if err != nil {
		return fault.Infrastructure("failed to update index state", err)
	}
	return nil
}

func (s *GORMStore) UpsertDirty(ctx context.Context, item DirtyItem) error {
	if item.MountID == "" || item.FSPath == "" {
		return fault.Validation("dirty item requires mount_id and fs_path")
	}
	switch item.Op {
	case DirtyOpUpsert, DirtyOpDelete:
	default:
		return fault.Validation("unknown dirty op %q", item.Op)
	}

	item.FSPath = normalizePath(item.FSPath)
	item.DedupeKey = DedupeKey(item.MountID, item.FSPath, item.Op)
	item.CreatedAt = time.Now()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(&item).Error
	if err != nil {
		return fault.Infrastructure("failed to queue dirty item", err)
	}
	return nil
}

func (s *GORMStore) ListDirtyBatch(ctx context.Context, mountID string, take int) ([]DirtyItem, error) {
	if take <= 0 {
		take = 100
	}

	var items []DirtyItem
	err := s.db.WithContext(ctx).
		Where("mount_id = ?", mountID).
		Order("id ASC").
		Limit(take).
		Find(&items).Error
	if err != nil {
		return nil, fault.Infrastructure("failed to list dirty items", err)
	}
	return items, nil
}

func (s *GORMStore) DeleteDirtyByKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("dedupe_key IN ?", keys).
		Delete(&DirtyItem{}).Error
	if err != nil {
		return fault.Infrastructure("failed to delete dirty items", err)
	}
	return nil
}

func (s *GORMStore) CountDirty(ctx context.Context, mountID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&DirtyItem{}).
		Where("mount_id = ?", mountID).
		Count(&count).Error
	if err != nil {
		return 0, fault.Infrastructure("failed to count dirty items", err)
	}
	return count, nil
}

func (s *GORMStore) ClearDirtyByMount(ctx context.Context, mountID string) error {
	err := s.db.WithContext(ctx).
		Where("mount_id = ?", mountID).
		Delete(&DirtyItem{}).Error
	if err != nil {
		return fault.Infrastructure("failed to clear dirty queue", err)
	}
	return nil
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func baseName(p string) string {
	if p == "/" {
		return "/"
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
