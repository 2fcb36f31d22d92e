package vindex

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

// Store persists virtual nodes. All tree mutations run in transactions
// because renames and copies rewrite whole subtrees.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the node schema and returns the store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Node{}); err != nil {
		return nil, fmt.Errorf("failed to migrate vindex schema: %w", err)
	}
	return &Store{db: db}, nil
}

// PutFile upserts a file node, creating missing parent directories.
func (s *Store) PutFile(ctx context.Context, node *Node) error {
	if node == nil || node.StorageConfigID == "" {
		return fault.Validation("storage config id is required")
	}
	node.FSPath = Normalize(node.FSPath)
	if node.FSPath == "/" {
		return fault.Validation("cannot write a file at the root")
	}
	node.ParentPath = Parent(node.FSPath)
	node.Name = BaseName(node.FSPath)
	node.IsDir = false
	if node.ModifiedAt.IsZero() {
		node.ModifiedAt = time.Now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Node
		err := tx.Where("storage_config_id = ? AND fs_path = ?", node.StorageConfigID, node.FSPath).
			First(&existing).Error
		if err == nil && existing.IsDir {
			return fault.Conflict("%s is a directory", node.FSPath)
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fault.Infrastructure("failed to check node", err)
		}

		if err := s.ensureParents(tx, node.StorageConfigID, node.FSPath, node.ModifiedAt); err != nil {
			return err
		}

		node.UpdatedAt = time.Now()
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "storage_config_id"}, {Name: "fs_path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"parent_path", "name", "is_dir", "size", "mime_type",
				"modified_at", "content_ref", "updated_at",
			}),
		}).Create(node).Error
		if err != nil {
			return fault.Infrastructure("failed to write node", err)
		}
		return nil
	})
}

// Mkdir creates a directory node (and missing parents). Creating an
// existing directory is a no-op returning the current node.
func (s *Store) Mkdir(ctx context.Context, storageConfigID, fsPath string) (*Node, error) {
	if storageConfigID == "" {
		return nil, fault.Validation("storage config id is required")
	}
	fsPath = Normalize(fsPath)
	if fsPath == "/" {
		return nil, fault.Validation("root directory always exists")
	}

	var created Node
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Node
		err := tx.Where("storage_config_id = ? AND fs_path = ?", storageConfigID, fsPath).
			First(&existing).Error
		if err == nil {
			if !existing.IsDir {
				return fault.Conflict("%s exists and is not a directory", fsPath)
			}
			created = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fault.Infrastructure("failed to check directory", err)
		}

		now := time.Now()
		if err := s.ensureParents(tx, storageConfigID, fsPath, now); err != nil {
			return err
		}

		created = Node{
			StorageConfigID: storageConfigID,
			FSPath:          fsPath,
			ParentPath:      Parent(fsPath),
			Name:            BaseName(fsPath),
			IsDir:           true,
			ModifiedAt:      now,
		}
		if err := tx.Create(&created).Error; err != nil {
			if database.IsUniqueConstraintError(err) {
				return fault.Conflict("%s was just created", fsPath)
			}
			return fault.Infrastructure("failed to create directory", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Stat loads one node. The root is synthetic and always present.
func (s *Store) Stat(ctx context.Context, storageConfigID, fsPath string) (*Node, error) {
	fsPath = Normalize(fsPath)
	if fsPath == "/" {
		return rootNode(storageConfigID), nil
	}

	var node Node
	err := s.db.WithContext(ctx).
		Where("storage_config_id = ? AND fs_path = ?", storageConfigID, fsPath).
		First(&node).Error
	if err != nil {
		return nil, database.ConvertNotFound(err, fault.NotFound("%s not found", fsPath))
	}
	return &node, nil
}

// List returns the direct children of a directory, directories first,
// then by name.
func (s *Store) List(ctx context.Context, storageConfigID, dirPath string) ([]Node, error) {
	dirPath = Normalize(dirPath)
	if dirPath != "/" {
		dir, err := s.Stat(ctx, storageConfigID, dirPath)
		if err != nil {
			return nil, err
		}
		if !dir.IsDir {
			return nil, fault.Validation("%s is not a directory", dirPath)
		}
	}

	var children []Node
	err := s.db.WithContext(ctx).
		Where("storage_config_id = ? AND parent_path = ?", storageConfigID, dirPath).
		Order("is_dir DESC, name ASC").
		Find(&children).Error
	if err != nil {
		return nil, fault.Infrastructure("failed to list directory", err)
	}
	return children, nil
}

// Rename moves a node; directories move with their whole subtree.
func (s *Store) Rename(ctx context.Context, storageConfigID, oldPath, newPath string) error {
	oldPath = Normalize(oldPath)
	newPath = Normalize(newPath)
	if oldPath == "/" || newPath == "/" {
		return fault.Validation("cannot rename the root")
	}
	if oldPath == newPath {
		return nil
	}
	if strings.HasPrefix(newPath, oldPath+"/") {
		return fault.Validation("cannot move %s inside itself", oldPath)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nodes, err := s.subtree(tx, storageConfigID, oldPath)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			return fault.NotFound("%s not found", oldPath)
		}

		var count int64
		err = tx.Model(&Node{}).
			Where("storage_config_id = ? AND fs_path = ?", storageConfigID, newPath).
			Count(&count).Error
		if err != nil {
			return fault.Infrastructure("failed to check destination", err)
		}
		if count > 0 {
			return fault.Conflict("%s already exists", newPath)
		}

		now := time.Now()
		if err := s.ensureParents(tx, storageConfigID, newPath, now); err != nil {
			return err
		}

		if err := s.deleteSubtree(tx, storageConfigID, oldPath); err != nil {
			return err
		}

		moved := rewriteSubtree(nodes, oldPath, newPath, now, false)
		if err := tx.CreateInBatches(moved, 200).Error; err != nil {
			return fault.Infrastructure("failed to write renamed nodes", err)
		}
		return nil
	})
}

// Copy duplicates a node; directories copy their whole subtree.
func (s *Store) Copy(ctx context.Context, storageConfigID, srcPath, dstPath string) error {
	srcPath = Normalize(srcPath)
	dstPath = Normalize(dstPath)
	if srcPath == "/" || dstPath == "/" {
		return fault.Validation("cannot copy the root")
	}
	if srcPath == dstPath || strings.HasPrefix(dstPath, srcPath+"/") {
		return fault.Validation("cannot copy %s into itself", srcPath)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nodes, err := s.subtree(tx, storageConfigID, srcPath)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			return fault.NotFound("%s not found", srcPath)
		}

		var count int64
		err = tx.Model(&Node{}).
			Where("storage_config_id = ? AND fs_path = ?", storageConfigID, dstPath).
			Count(&count).Error
		if err != nil {
			return fault.Infrastructure("failed to check destination", err)
		}
		if count > 0 {
			return fault.Conflict("%s already exists", dstPath)
		}

		now := time.Now()
		if err := s.ensureParents(tx, storageConfigID, dstPath, now); err != nil {
			return err
		}

		copies := rewriteSubtree(nodes, srcPath, dstPath, now, true)
		if err := tx.CreateInBatches(copies, 200).Error; err != nil {
			return fault.Infrastructure("failed to write copied nodes", err)
		}
		return nil
	})
}

// RemoveBatch deletes each path independently; directories take their
// subtree with them. Per-path failures land in the outcomes, not the error.
func (s *Store) RemoveBatch(ctx context.Context, storageConfigID string, paths []string) ([]RemoveOutcome, error) {
	outcomes := make([]RemoveOutcome, 0, len(paths))

	for _, p := range paths {
		fsPath := Normalize(p)
		outcome := RemoveOutcome{Path: fsPath}

		if fsPath == "/" {
			outcome.Err = fault.Validation("cannot remove the root")
			outcomes = append(outcomes, outcome)
			continue
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var node Node
			err := tx.Where("storage_config_id = ? AND fs_path = ?", storageConfigID, fsPath).
				First(&node).Error
			if err != nil {
				return database.ConvertNotFound(err, fault.NotFound("%s not found", fsPath))
			}
			if node.IsDir {
				return s.deleteSubtree(tx, storageConfigID, fsPath)
			}
			if err := tx.Delete(&node).Error; err != nil {
				return fault.Infrastructure("failed to delete node", err)
			}
			return nil
		})
		outcome.Err = err
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// ensureParents creates every missing ancestor directory of fsPath.
func (s *Store) ensureParents(tx *gorm.DB, storageConfigID, fsPath string, modifiedAt time.Time) error {
	var missing []string
	for dir := Parent(fsPath); dir != "/"; dir = Parent(dir) {
		missing = append(missing, dir)
	}

	// walk top-down so parents exist before children
	for i := len(missing) - 1; i >= 0; i-- {
		dir := missing[i]

		var existing Node
		err := tx.Where("storage_config_id = ? AND fs_path = ?", storageConfigID, dir).
			First(&existing).Error
		if err == nil {
			if !existing.IsDir {
				return fault.Conflict("parent %s is a file", dir)
			}
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fault.Infrastructure("failed to check parent", err)
		}

		parent := Node{
			StorageConfigID: storageConfigID,
			FSPath:          dir,
			ParentPath:      Parent(dir),
			Name:            BaseName(dir),
			IsDir:           true,
			ModifiedAt:      modifiedAt,
		}
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&parent).Error
		if err != nil {
			return fault.Infrastructure("failed to create parent", err)
		}
	}
	return nil
}

// subtree loads a node and all its descendants.
func (s *Store) subtree(tx *gorm.DB, storageConfigID, fsPath string) ([]Node, error) {
	prefix := database.EscapeLike(fsPath) + "/%"

	var nodes []Node
	err := tx.
		Where("storage_config_id = ? AND (fs_path = ? OR fs_path LIKE ? ESCAPE '\\')", storageConfigID, fsPath, prefix).
		Order("fs_path ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, fault.Infrastructure("failed to load subtree", err)
	}
	return nodes, nil
}

func (s *Store) deleteSubtree(tx *gorm.DB, storageConfigID, fsPath string) error {
	prefix := database.EscapeLike(fsPath) + "/%"

	err := tx.
		Where("storage_config_id = ? AND (fs_path = ? OR fs_path LIKE ? ESCAPE '\\')", storageConfigID, fsPath, prefix).
		Delete(&Node{}).Error
	if err != nil {
		return fault.Infrastructure("failed to delete subtree", err)
	}
	return nil
}

// rewriteSubtree rebases loaded nodes from oldRoot onto newRoot. Copies get
// fresh timestamps, moves keep their content timestamps.
func rewriteSubtree(nodes []Node, oldRoot, newRoot string, now time.Time, isCopy bool) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		moved := n
		moved.FSPath = newRoot + strings.TrimPrefix(n.FSPath, oldRoot)
		moved.ParentPath = Parent(moved.FSPath)
		moved.Name = BaseName(moved.FSPath)
		moved.UpdatedAt = now
		if isCopy {
			moved.CreatedAt = now
			moved.ModifiedAt = now
		}
		out = append(out, moved)
	}
	return out
}
