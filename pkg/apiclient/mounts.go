package apiclient

import "time"

// MountIndexState is the search index state of one mount.
type MountIndexState struct {
	MountID       string     `json:"mountId"`
	Status        string     `json:"status"`
	LastRunID     string     `json:"lastRunId,omitempty"`
	LastIndexedAt *time.Time `json:"lastIndexedAt,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	JobID         string     `json:"jobId,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Mount describes one registered mount.
type Mount struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	StorageType       string           `json:"storageType"`
	PasswordProtected bool             `json:"passwordProtected,omitempty"`
	Capabilities      []string         `json:"capabilities"`
	IndexState        *MountIndexState `json:"indexState,omitempty"`
}

type listMountsResponse struct {
	Mounts []Mount `json:"mounts"`
}

// ListMounts returns the mounts visible to the caller, with their index
// states.
func (c *Client) ListMounts() ([]Mount, error) {
	resp, err := getResource[listMountsResponse](c, "/api/v1/mounts")
	if err != nil {
		return nil, err
	}
	return resp.Mounts, nil
}
