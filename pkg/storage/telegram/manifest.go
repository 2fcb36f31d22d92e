package telegram

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/upload"
)

// ManifestKind tags the content_ref format this driver writes.
const ManifestKind = "telegram_manifest_v1"

// ManifestPart maps one part onto its message attachment.
type ManifestPart struct {
	PartNo       int    `json:"partNo"`
	Size         int64  `json:"size"`
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	MessageID    int64  `json:"message_id"`
	ChatID       string `json:"chat_id"`
}

// Manifest is the content_ref of a completed file: the ordered list of
// attachments whose concatenation is the file.
type Manifest struct {
	Kind         string         `json:"kind"`
	StorageType  string         `json:"storage_type"`
	TargetChatID string         `json:"target_chat_id"`
	Parts        []ManifestPart `json:"parts"`
}

// partProviderMeta is what ProxyChunk stores per part row; the manifest is
// assembled from these at complete time.
type partProviderMeta struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	MessageID    int64  `json:"message_id"`
	ChatID       int64  `json:"chat_id"`
}

// buildManifest assembles the manifest from uploaded part rows, ascending.
func buildManifest(chatID int64, parts []*upload.Part) (*Manifest, error) {
	manifest := &Manifest{
		Kind:         ManifestKind,
		StorageType:  "TELEGRAM",
		TargetChatID: strconv.FormatInt(chatID, 10),
		Parts:        make([]ManifestPart, 0, len(parts)),
	}

	for _, p := range parts {
		var meta partProviderMeta
		if err := json.Unmarshal([]byte(p.ProviderMeta), &meta); err != nil {
			return nil, fault.Infrastructure("part "+strconv.Itoa(p.PartNo)+" carries unreadable provider meta", err)
		}
		manifest.Parts = append(manifest.Parts, ManifestPart{
			PartNo:       p.PartNo,
			Size:         p.Size,
			FileID:       meta.FileID,
			FileUniqueID: meta.FileUniqueID,
			MessageID:    meta.MessageID,
			ChatID:       strconv.FormatInt(meta.ChatID, 10),
		})
	}

	sort.Slice(manifest.Parts, func(i, j int) bool {
		return manifest.Parts[i].PartNo < manifest.Parts[j].PartNo
	})
	return manifest, nil
}

// parseManifest decodes a node content_ref.
func parseManifest(contentRef string) (*Manifest, error) {
	if contentRef == "" {
		return nil, fault.Infrastructure("file node has no content manifest", nil)
	}
	var manifest Manifest
	if err := json.Unmarshal([]byte(contentRef), &manifest); err != nil {
		return nil, fault.Infrastructure("file node carries an unreadable manifest", err)
	}
	if manifest.Kind != ManifestKind {
		return nil, fault.Infrastructure("unsupported manifest kind "+strconv.Quote(manifest.Kind), nil)
	}
	return &manifest, nil
}

// Encode renders the manifest for storage as a content_ref.
func (m *Manifest) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fault.Infrastructure("failed to encode manifest", err)
	}
	return string(data), nil
}

// TotalSize sums the part sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, p := range m.Parts {
		total += p.Size
	}
	return total
}
