package index

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/fault"
)

// MinQueryLength is the shortest text filter the trigram indexes can
// serve. Shorter queries degrade to full scans, so they are rejected.
const MinQueryLength = 3

// cursor pins the position of the last returned row under the search
// ordering. It is opaque to callers.
type cursor struct {
	MountID string `json:"m"`
	IsDir   bool   `json:"d"`
	Name    string `json:"n"`
	FSPath  string `json:"p"`
}

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (cursor, error) {
	var c cursor
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fault.Validation("malformed search cursor")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fault.Validation("malformed search cursor")
	}
	return c, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

func (s *GORMStore) Search(ctx context.Context, q Query) (*Result, error) {
	text := strings.TrimSpace(q.Text)
	if text != "" && utf8.RuneCountInString(text) < MinQueryLength {
		return nil, fault.Validation("search query must be at least %d characters", MinQueryLength)
	}

	result := &Result{
		Entries:    []Entry{},
		IndexReady: true,
	}

	mountIDs, err := s.resolveScope(ctx, q, result)
	if err != nil {
		return nil, err
	}
	if len(mountIDs) == 0 {
		return result, nil
	}

	limit := clampLimit(q.Limit)

	base := s.db.WithContext(ctx).Model(&Entry{}).Where("mount_id IN ?", mountIDs)
	if q.Scope == ScopeDirectory {
		prefix := normalizePath(q.PathPrefix)
		if prefix != "/" {
			like := database.EscapeLike(prefix+"/") + "%"
			base = base.Where("fs_path LIKE ? ESCAPE '\\'", like)
		}
		result.PathRestricted = true
	}
	if text != "" {
		base = s.applyTextFilter(base, text)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fault.Infrastructure("failed to count search results", err)
	}
	result.Total = total

	page := base.Session(&gorm.Session{})
	if q.Cursor != "" {
		after, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		page = applyCursor(page, after)
	}

	var entries []Entry
	err = page.
		Order("mount_id ASC, is_dir DESC, name ASC, fs_path ASC").
		Limit(limit + 1).
		Find(&entries).Error
	if err != nil {
		return nil, fault.Infrastructure("search query failed", err)
	}

	if len(entries) > limit {
		entries = entries[:limit]
		result.HasMore = true
		last := entries[len(entries)-1]
		result.NextCursor = encodeCursor(cursor{
			MountID: last.MountID,
			IsDir:   last.IsDir,
			Name:    last.Name,
			FSPath:  last.FSPath,
		})
	}
	result.Entries = entries
	return result, nil
}

// resolveScope narrows the query to the mounts it may touch. Global
// scope silently drops mounts whose index is not ready and reports
// them; targeted scopes fail closed instead.
func (s *GORMStore) resolveScope(ctx context.Context, q Query, result *Result) ([]string, error) {
	allowed := make(map[string]bool, len(q.AllowedMountIDs))
	for _, id := range q.AllowedMountIDs {
		allowed[id] = true
	}

	switch q.Scope {
	case ScopeGlobal, "":
		if len(q.AllowedMountIDs) == 0 {
			return nil, nil
		}
		states, err := s.GetIndexStates(ctx, q.AllowedMountIDs)
		if err != nil {
			return nil, err
		}
		ready := make([]string, 0, len(states))
		skipped := make([]string, 0)
		for id, state := range states {
			if state.Status == IndexStatusReady {
				ready = append(ready, id)
			} else {
				skipped = append(skipped, id)
			}
		}
		sort.Strings(ready)
		sort.Strings(skipped)
		result.SkippedMounts = skipped
		return ready, nil

	case ScopeMount, ScopeDirectory:
		if q.MountID == "" {
			return nil, fault.Validation("scoped search requires a mount id")
		}
		if !allowed[q.MountID] {
			return nil, fault.Authorization("mount %q is not accessible", q.MountID)
		}
		if q.Scope == ScopeDirectory && q.PathPrefix == "" {
			return nil, fault.Validation("directory search requires a path prefix")
		}
		states, err := s.GetIndexStates(ctx, []string{q.MountID})
		if err != nil {
			return nil, err
		}
		if states[q.MountID].Status != IndexStatusReady {
			result.IndexReady = false
			if q.Scope == ScopeDirectory {
				result.PathRestricted = true
			}
			return nil, nil
		}
		return []string{q.MountID}, nil

	default:
		return nil, fault.Validation("unknown search scope %q", q.Scope)
	}
}

// applyTextFilter matches entries against the query text. SQLite goes
// through the trigram FTS shadow table; Postgres leans on the pg_trgm
// GIN indexes behind plain ILIKE.
func (s *GORMStore) applyTextFilter(tx *gorm.DB, text string) *gorm.DB {
	if s.dialect == "sqlite" {
		phrase := `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
		return tx.Where(
			"rowid IN (SELECT rowid FROM fs_index_fts WHERE fs_index_fts MATCH ?)",
			phrase,
		)
	}
	pattern := "%" + database.EscapeLike(text) + "%"
	return tx.Where(
		"(name ILIKE ? ESCAPE '\\' OR fs_path ILIKE ? ESCAPE '\\')",
		pattern, pattern,
	)
}

// applyCursor resumes after the cursor row under the ordering
// (mount_id ASC, is_dir DESC, name ASC, fs_path ASC). Directories sort
// before files, so is_dir moves in the opposite direction.
func applyCursor(tx *gorm.DB, after cursor) *gorm.DB {
	return tx.Where(
		"(mount_id > ?)"+
			" OR (mount_id = ? AND is_dir < ?)"+
			" OR (mount_id = ? AND is_dir = ? AND name > ?)"+
			" OR (mount_id = ? AND is_dir = ? AND name = ? AND fs_path > ?)",
		after.MountID,
		after.MountID, after.IsDir,
		after.MountID, after.IsDir, after.Name,
		after.MountID, after.IsDir, after.Name, after.FSPath,
	)
}
