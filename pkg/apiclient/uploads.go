package apiclient

import "time"

// UploadSession is one multipart upload session as stored by the server.
type UploadSession struct {
	ID          string `json:"id"`
	StorageType string `json:"storage_type"`
	MountID     string `json:"mount_id"`
	FSPath      string `json:"fs_path"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	MimeType    string `json:"mime_type,omitempty"`

	Strategy   string `json:"strategy"`
	PartSize   int64  `json:"part_size"`
	TotalParts int    `json:"total_parts"`

	BytesUploaded     int64  `json:"bytes_uploaded"`
	UploadedParts     int    `json:"uploaded_parts"`
	NextExpectedRange string `json:"next_expected_range,omitempty"`

	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint"`
	UserID      string `json:"user_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type listSessionsResponse struct {
	Sessions []UploadSession `json:"sessions"`
}

type abortUploadRequest struct {
	UploadID string `json:"uploadId"`
	Reason   string `json:"reason,omitempty"`
}

type abortUploadResponse struct {
	Success bool `json:"success"`
}

// ListUploadSessions returns the caller's active multipart upload
// sessions.
func (c *Client) ListUploadSessions() ([]UploadSession, error) {
	resp, err := getResource[listSessionsResponse](c, "/api/v1/multipart/sessions")
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// AbortUpload marks a session aborted and releases provider-side state.
func (c *Client) AbortUpload(uploadID, reason string) error {
	req := abortUploadRequest{UploadID: uploadID, Reason: reason}
	_, err := createResource[abortUploadResponse](c, "/api/v1/multipart/abort", req)
	return err
}
