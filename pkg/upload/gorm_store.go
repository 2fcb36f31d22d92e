package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/fault"
)

// GORMStore implements Store on a shared database handle.
type GORMStore struct {
	db *gorm.DB
}

// NewGORMStore migrates the session schema and returns the store.
func NewGORMStore(db *gorm.DB) (*GORMStore, error) {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate upload schema: %w", err)
	}
	return &GORMStore{db: db}, nil
}

func (s *GORMStore) CreateSession(ctx context.Context, session *Session) (string, error) {
	if err := validateNewSession(session); err != nil {
		return "", err
	}

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Fingerprint == "" {
		session.Fingerprint = Fingerprint(
			session.UserID, session.StorageConfigID, session.MountID,
			session.FSPath, session.FileName, session.FileSize,
		)
	}
	session.Status = StatusInitiated
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	// A foreign active session holding the same fingerprint means the
	// caller is trying to resume someone else's upload.
	var count int64
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("fingerprint = ? AND user_id <> ? AND status IN ?", session.Fingerprint, session.UserID, ActiveStatuses).
		Count(&count).Error
	if err != nil {
		return "", fault.Infrastructure("failed to check fingerprint", err)
	}
	if count > 0 {
		return "", fault.Conflict("fingerprint is claimed by an active session of another user")
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			return "", fault.Validation("session %s already exists", session.ID)
		}
		return "", fault.Infrastructure("failed to create session", err)
	}
	return session.ID, nil
}

func (s *GORMStore) FindSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, database.ConvertNotFound(err, fault.NotFound("upload session %s not found", id))
	}
	return &session, nil
}

func (s *GORMStore) FindSessionByFingerprint(ctx context.Context, userID, fingerprint string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint = ? AND status IN ?", userID, fingerprint, ActiveStatuses).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		return nil, database.ConvertNotFound(err, fault.NotFound("no active session for fingerprint"))
	}
	return &session, nil
}

func (s *GORMStore) ListActiveSessions(ctx context.Context, filter Filter) ([]*Session, error) {
	query := s.db.WithContext(ctx).Where("status IN ?", ActiveStatuses)

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.StorageType != "" {
		query = query.Where("storage_type = ?", filter.StorageType)
	}
	if filter.MountID != "" {
		query = query.Where("mount_id = ?", filter.MountID)
	}
	if filter.PathPrefix != "" {
		query = query.Where("fs_path LIKE ?", filter.PathPrefix+"%")
	}

	var sessions []*Session
	if err := query.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fault.Infrastructure("failed to list sessions", err)
	}
	return sessions, nil
}

func (s *GORMStore) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*Session, error) {
	query := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", ReapableStatuses, now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var sessions []*Session
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fault.Infrastructure("failed to list expired sessions", err)
	}
	return sessions, nil
}

func (s *GORMStore) UpdateSession(ctx context.Context, id string, patch Patch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session Session
		if err := tx.Where("id = ?", id).First(&session).Error; err != nil {
			return database.ConvertNotFound(err, fault.NotFound("upload session %s not found", id))
		}

		if session.Status.IsTerminal() {
			return fault.Validation("session %s is %s and cannot be modified", id, session.Status)
		}
		if patch.UploadedParts != nil && *patch.UploadedParts < session.UploadedParts {
			return fault.Validation("uploaded_parts cannot decrease from %d to %d", session.UploadedParts, *patch.UploadedParts)
		}
		if patch.BytesUploaded != nil && *patch.BytesUploaded < session.BytesUploaded {
			return fault.Validation("bytes_uploaded cannot decrease from %d to %d", session.BytesUploaded, *patch.BytesUploaded)
		}

		updates := map[string]any{"updated_at": time.Now()}
		if patch.Status != nil {
			updates["status"] = *patch.Status
		}
		if patch.BytesUploaded != nil {
			updates["bytes_uploaded"] = *patch.BytesUploaded
		}
		if patch.UploadedParts != nil {
			updates["uploaded_parts"] = *patch.UploadedParts
		}
		if patch.NextExpectedRange != nil {
			updates["next_expected_range"] = *patch.NextExpectedRange
		}
		if patch.ProviderUploadID != nil {
			updates["provider_upload_id"] = *patch.ProviderUploadID
		}
		if patch.ProviderMeta != nil {
			updates["provider_meta"] = *patch.ProviderMeta
		}
		if patch.ExpiresAt != nil {
			updates["expires_at"] = *patch.ExpiresAt
		}

		if err := tx.Model(&Session{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fault.Infrastructure("failed to update session", err)
		}
		return nil
	})
}

func (s *GORMStore) UpsertPart(ctx context.Context, part *Part) error {
	if part.UploadID == "" {
		return fault.Validation("part upload_id is required")
	}
	if part.PartNo < 1 {
		return fault.Validation("part_no must be >= 1, got %d", part.PartNo)
	}
	if part.Status == "" {
		return fault.Validation("part status is required")
	}

	part.UpdatedAt = time.Now()
	if part.CreatedAt.IsZero() {
		part.CreatedAt = part.UpdatedAt
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "upload_id"}, {Name: "part_no"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"byte_start", "byte_end", "size", "status",
			"provider_part_id", "provider_meta",
			"error_code", "error_message", "updated_at",
		}),
	}).Create(part).Error
	if err != nil {
		return fault.Infrastructure("failed to upsert part", err)
	}
	return nil
}

func (s *GORMStore) ClaimPart(ctx context.Context, part *Part) (bool, error) {
	if part.UploadID == "" {
		return false, fault.Validation("part upload_id is required")
	}
	if part.PartNo < 1 {
		return false, fault.Validation("part_no must be >= 1, got %d", part.PartNo)
	}

	part.Status = PartStatusUploading
	part.UpdatedAt = time.Now()
	if part.CreatedAt.IsZero() {
		part.CreatedAt = part.UpdatedAt
	}

	// The conflict update is gated on status so that a row already held in
	// uploading or uploaded state cannot be reclaimed, while pending and
	// error rows stay retryable. RowsAffected tells us who won.
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "upload_id"}, {Name: "part_no"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"byte_start", "byte_end", "size", "status",
			"error_code", "error_message", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("upload_parts.status NOT IN ?", []PartStatus{PartStatusUploading, PartStatusUploaded}),
		}},
	}).Create(part)
	if res.Error != nil {
		return false, fault.Infrastructure("failed to claim part", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GORMStore) GetPart(ctx context.Context, uploadID string, partNo int) (*Part, error) {
	var part Part
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND part_no = ?", uploadID, partNo).
		First(&part).Error
	if err != nil {
		return nil, database.ConvertNotFound(err, fault.NotFound("part %d of upload %s not found", partNo, uploadID))
	}
	return &part, nil
}

func (s *GORMStore) ListParts(ctx context.Context, uploadID string) ([]*Part, error) {
	var parts []*Part
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("part_no ASC").
		Find(&parts).Error
	if err != nil {
		return nil, fault.Infrastructure("failed to list parts", err)
	}
	return parts, nil
}

func (s *GORMStore) DeletePartsByUpload(ctx context.Context, uploadID string) error {
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Delete(&Part{}).Error
	if err != nil {
		return fault.Infrastructure("failed to delete parts", err)
	}
	return nil
}

func (s *GORMStore) UploadedStatsByUploadIDs(ctx context.Context, uploadIDs []string) (map[string]UploadedStats, error) {
	stats := make(map[string]UploadedStats, len(uploadIDs))
	for _, id := range uploadIDs {
		stats[id] = UploadedStats{}
	}
	if len(uploadIDs) == 0 {
		return stats, nil
	}

	var rows []struct {
		UploadID string
		Bytes    int64
		Parts    int
	}
	err := s.db.WithContext(ctx).Model(&Part{}).
		Select("upload_id, COALESCE(SUM(size), 0) AS bytes, COUNT(*) AS parts").
		Where("upload_id IN ? AND status = ?", uploadIDs, PartStatusUploaded).
		Group("upload_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fault.Infrastructure("failed to aggregate part stats", err)
	}

	for _, row := range rows {
		stats[row.UploadID] = UploadedStats{Bytes: row.Bytes, Parts: row.Parts}
	}
	return stats, nil
}

func validateNewSession(session *Session) error {
	if session == nil {
		return fault.Validation("session is required")
	}

	var missing []string
	if session.StorageType == "" {
		missing = append(missing, "storage_type")
	}
	if session.StorageConfigID == "" {
		missing = append(missing, "storage_config_id")
	}
	if session.MountID == "" {
		missing = append(missing, "mount_id")
	}
	if session.FSPath == "" {
		missing = append(missing, "fs_path")
	}
	if session.FileName == "" {
		missing = append(missing, "file_name")
	}
	if session.UserID == "" {
		missing = append(missing, "user_id")
	}
	if len(missing) > 0 {
		return fault.Validation("missing required session fields: %v", missing)
	}

	if session.FileSize <= 0 {
		return fault.Validation("file_size must be positive, got %d", session.FileSize)
	}
	switch session.Strategy {
	case StrategyPerPartURL, StrategySingleSession:
	default:
		return fault.Validation("unknown upload strategy %q", session.Strategy)
	}
	if session.ExpiresAt.IsZero() {
		return fault.Validation("expires_at is required")
	}
	return nil
}
