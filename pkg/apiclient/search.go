package apiclient

import (
	"net/url"
	"strconv"
)

// SearchQuery is one index search. Zero values for Scope, MountID, Path,
// Limit and Cursor take the server defaults.
type SearchQuery struct {
	Query   string
	Scope   string // global, mount or directory
	MountID string
	Path    string
	Limit   int
	Cursor  string
}

// SearchEntry is one indexed file or directory.
type SearchEntry struct {
	MountID    string `json:"mountId"`
	FSPath     string `json:"fsPath"`
	Name       string `json:"name"`
	IsDir      bool   `json:"isDir"`
	Size       int64  `json:"size"`
	ModifiedMs int64  `json:"modifiedMs"`
	Mimetype   string `json:"mimetype,omitempty"`
}

// SearchResult is one result page.
type SearchResult struct {
	Entries        []SearchEntry `json:"results"`
	Total          int64         `json:"total"`
	HasMore        bool          `json:"hasMore"`
	NextCursor     string        `json:"nextCursor,omitempty"`
	IndexReady     bool          `json:"indexReady"`
	SkippedMounts  []string      `json:"skippedMounts,omitempty"`
	PathRestricted bool          `json:"pathRestricted,omitempty"`

	IndexNotReadyMountIDs []string `json:"indexNotReadyMountIds,omitempty"`
}

// Search runs an index query against the server.
func (c *Client) Search(q SearchQuery) (*SearchResult, error) {
	params := url.Values{}
	params.Set("query", q.Query)
	if q.Scope != "" {
		params.Set("scope", q.Scope)
	}
	if q.MountID != "" {
		params.Set("mount_id", q.MountID)
	}
	if q.Path != "" {
		params.Set("path", q.Path)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}

	return getResource[SearchResult](c, "/api/v1/search?"+params.Encode())
}
