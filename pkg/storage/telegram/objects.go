package telegram

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/vindex"
)

func nodeInfo(node *vindex.Node) *storage.ItemInfo {
	return &storage.ItemInfo{
		Name:       node.Name,
		Path:       node.FSPath,
		IsDir:      node.IsDir,
		Size:       node.Size,
		MimeType:   node.MimeType,
		ModifiedAt: node.ModifiedAt,
	}
}

// Exists implements storage.Driver.
func (d *Driver) Exists(ctx context.Context, fsPath string) (bool, error) {
	_, err := d.nodes.Stat(ctx, d.configID, fsPath)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat implements storage.Driver.
func (d *Driver) Stat(ctx context.Context, fsPath string) (*storage.ItemInfo, error) {
	node, err := d.nodes.Stat(ctx, d.configID, fsPath)
	if err != nil {
		return nil, err
	}
	return nodeInfo(node), nil
}

// ListDirectory implements storage.Driver.
func (d *Driver) ListDirectory(ctx context.Context, fsPath string) ([]storage.ItemInfo, error) {
	children, err := d.nodes.List(ctx, d.configID, fsPath)
	if err != nil {
		return nil, err
	}
	entries := make([]storage.ItemInfo, 0, len(children))
	for i := range children {
		entries = append(entries, *nodeInfo(&children[i]))
	}
	return entries, nil
}

// CreateDirectory implements storage.Driver.
func (d *Driver) CreateDirectory(ctx context.Context, fsPath string) error {
	_, err := d.nodes.Mkdir(ctx, d.configID, fsPath)
	return err
}

// Rename implements storage.Driver. Attachments never move; only the tree
// rows do.
func (d *Driver) Rename(ctx context.Context, oldPath, newPath string) error {
	return d.nodes.Rename(ctx, d.configID, oldPath, newPath)
}

// Copy implements storage.Driver. Copies share the source attachments:
// stored files are immutable, so manifest sharing is safe.
func (d *Driver) Copy(ctx context.Context, srcPath, dstPath string) error {
	return d.nodes.Copy(ctx, d.configID, srcPath, dstPath)
}

// RemoveBatch implements storage.Driver. File attachments are deleted from
// the chat best-effort after the node goes; directory subtrees drop their
// rows only, message cleanup for those runs through the chat's own history
// tools.
func (d *Driver) RemoveBatch(ctx context.Context, paths []string) (results []storage.RemoveResult, err error) {
	start := time.Now()
	defer func() { d.observe("RemoveBatch", start, err) }()

	manifests := make(map[string]*Manifest, len(paths))
	for _, p := range paths {
		node, statErr := d.nodes.Stat(ctx, d.configID, p)
		if statErr != nil || node.IsDir || node.ContentRef == "" {
			continue
		}
		if m, mErr := parseManifest(node.ContentRef); mErr == nil {
			manifests[vindex.Normalize(p)] = m
		}
	}

	outcomes, err := d.nodes.RemoveBatch(ctx, d.configID, paths)
	if err != nil {
		return nil, err
	}

	results = make([]storage.RemoveResult, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, storage.RemoveResult{Path: o.Path, Err: o.Err})
		if o.Err != nil {
			continue
		}
		if m, ok := manifests[o.Path]; ok {
			d.deleteManifestMessages(ctx, o.Path, m)
		}
	}
	return results, nil
}

func (d *Driver) deleteManifestMessages(ctx context.Context, fsPath string, m *Manifest) {
	for _, part := range m.Parts {
		var chatID int64
		if err := json.Unmarshal([]byte(part.ChatID), &chatID); err != nil {
			continue
		}
		if err := d.bot.DeleteMessage(ctx, chatID, part.MessageID); err != nil {
			logger.Debug("failed to delete removed file message",
				logger.Path(fsPath), logger.PartNo(part.PartNo), logger.Err(err))
		}
	}
}

// Upload implements storage.Driver: the single-call path for files that fit
// one attachment. Larger files go through multipart.
func (d *Driver) Upload(ctx context.Context, fsPath string, body io.Reader, size int64, mimeType string) (err error) {
	start := time.Now()
	defer func() {
		d.observe("Upload", start, err)
		if err == nil && d.metrics != nil {
			d.metrics.RecordBytes("Upload", size)
		}
	}()

	if size > storage.MaxPartSizeChat {
		return fault.Validation("file size %d exceeds the single-call limit %d, use a multipart upload", size, storage.MaxPartSizeChat)
	}

	spool, err := os.CreateTemp(d.spoolDir, "gatefs-upload-*")
	if err != nil {
		return fault.Infrastructure("failed to create upload spool", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	copied, err := io.Copy(spool, body)
	if err != nil {
		return fault.Infrastructure("failed to spool upload body", err)
	}
	if size >= 0 && copied != size {
		return fault.Validation("upload body carries %d bytes, declared size is %d", copied, size)
	}

	msg, err := d.bot.SendDocument(ctx, d.chatID, vindex.BaseName(fsPath), spool)
	if err != nil {
		return err
	}

	meta := partProviderMeta{ChatID: msg.Chat.ID, MessageID: msg.MessageID}
	if msg.Document != nil {
		meta.FileID = msg.Document.FileID
		meta.FileUniqueID = msg.Document.FileUniqueID
	}
	manifest := &Manifest{
		Kind:         ManifestKind,
		StorageType:  "TELEGRAM",
		TargetChatID: manifestChatID(d.chatID),
		Parts: []ManifestPart{{
			PartNo:       1,
			Size:         copied,
			FileID:       meta.FileID,
			FileUniqueID: meta.FileUniqueID,
			MessageID:    meta.MessageID,
			ChatID:       manifestChatID(msg.Chat.ID),
		}},
	}
	contentRef, err := manifest.Encode()
	if err != nil {
		return err
	}

	return d.nodes.PutFile(ctx, &vindex.Node{
		StorageConfigID: d.configID,
		FSPath:          fsPath,
		Size:            copied,
		MimeType:        mimeType,
		ModifiedAt:      time.Now(),
		ContentRef:      contentRef,
	})
}

// Update implements storage.Driver. Stored attachments are immutable, so an
// update is a fresh upload that replaces the node's manifest; the old
// messages are deleted best-effort.
func (d *Driver) Update(ctx context.Context, fsPath string, body io.Reader, size int64, mimeType string) error {
	var old *Manifest
	if node, err := d.nodes.Stat(ctx, d.configID, fsPath); err == nil && !node.IsDir && node.ContentRef != "" {
		old, _ = parseManifest(node.ContentRef)
	}

	if err := d.Upload(ctx, fsPath, body, size, mimeType); err != nil {
		return err
	}
	if old != nil {
		d.deleteManifestMessages(ctx, vindex.Normalize(fsPath), old)
	}
	return nil
}

// Download implements storage.Driver. The file is the in-order
// concatenation of its manifest parts; OpenRange maps byte windows onto the
// covering parts and discards the lead-in of the first one.
func (d *Driver) Download(ctx context.Context, fsPath string) (dl *storage.Download, err error) {
	start := time.Now()
	defer func() { d.observe("Download", start, err) }()

	node, err := d.nodes.Stat(ctx, d.configID, fsPath)
	if err != nil {
		return nil, err
	}
	if node.IsDir {
		return nil, fault.Validation("path %s is a directory", fsPath)
	}

	manifest, err := parseManifest(node.ContentRef)
	if err != nil {
		return nil, err
	}

	size := node.Size
	if size == 0 {
		size = manifest.TotalSize()
	}

	return &storage.Download{
		Size:          size,
		ContentType:   node.MimeType,
		LastModified:  node.ModifiedAt,
		SupportsRange: true,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return newManifestReader(ctx, d.bot, manifest.Parts, 0, size), nil
		},
		OpenRange: func(ctx context.Context, rangeStart, rangeEnd int64) (io.ReadCloser, error) {
			if rangeStart < 0 || rangeStart >= size || rangeEnd < rangeStart {
				return nil, fault.Validation("requested range is not satisfiable")
			}
			if rangeEnd >= size {
				rangeEnd = size - 1
			}
			return newManifestReader(ctx, d.bot, manifest.Parts, rangeStart, rangeEnd-rangeStart+1), nil
		},
	}, nil
}

func manifestChatID(chatID int64) string {
	data, _ := json.Marshal(chatID)
	return string(data)
}

// manifestReader streams a byte window of a manifest, opening each covering
// part lazily and discarding the lead-in of the first.
type manifestReader struct {
	ctx   context.Context
	bot   *BotClient
	parts []ManifestPart

	offset    int64 // absolute file offset of the next byte to deliver
	remaining int64
	idx       int
	current   io.ReadCloser
	skipped   int64 // absolute offset where parts[idx] starts
}

func newManifestReader(ctx context.Context, bot *BotClient, parts []ManifestPart, offset, length int64) *manifestReader {
	return &manifestReader{
		ctx:       ctx,
		bot:       bot,
		parts:     parts,
		offset:    offset,
		remaining: length,
	}
}

func (r *manifestReader) Read(p []byte) (int, error) {
	for {
		if r.remaining <= 0 {
			return 0, io.EOF
		}

		if r.current == nil {
			if err := r.openNext(); err != nil {
				return 0, err
			}
		}

		if int64(len(p)) > r.remaining {
			p = p[:r.remaining]
		}
		n, err := r.current.Read(p)
		r.offset += int64(n)
		r.remaining -= int64(n)

		if err == io.EOF {
			_ = r.current.Close()
			r.current = nil
			r.idx++
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// openNext opens the part covering r.offset, skipping parts that end before
// it and discarding the lead-in within the part.
func (r *manifestReader) openNext() error {
	for r.idx < len(r.parts) {
		part := r.parts[r.idx]
		partStart := r.skipped
		partEnd := partStart + part.Size

		if r.offset >= partEnd {
			r.skipped = partEnd
			r.idx++
			continue
		}

		file, err := r.bot.GetFile(r.ctx, part.FileID)
		if err != nil {
			return err
		}
		rc, err := r.bot.OpenFile(r.ctx, file.FilePath)
		if err != nil {
			return err
		}

		if lead := r.offset - partStart; lead > 0 {
			if _, err := io.CopyN(io.Discard, rc, lead); err != nil {
				_ = rc.Close()
				return fault.Upstream("failed to seek within stored part", err, true)
			}
		}

		r.current = rc
		r.skipped = partEnd
		return nil
	}
	return io.ErrUnexpectedEOF
}

func (r *manifestReader) Close() error {
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}
