package handlers

import (
	"net/http"

	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/index"
)

// MountsHandler lists the configured mounts and their index states.
type MountsHandler struct {
	mounts *fs.Registry
	store  index.Store
}

// NewMountsHandler creates a new MountsHandler.
func NewMountsHandler(mounts *fs.Registry, store index.Store) *MountsHandler {
	return &MountsHandler{mounts: mounts, store: store}
}

// MountInfo is the wire form of one mount. The password hash never
// leaves the server; only its presence does.
type MountInfo struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	StorageType       string            `json:"storageType"`
	PasswordProtected bool              `json:"passwordProtected,omitempty"`
	Capabilities      []string          `json:"capabilities"`
	IndexState        *index.MountState `json:"indexState,omitempty"`
}

// ListMountsResponse is the response body for GET /api/v1/mounts.
type ListMountsResponse struct {
	Mounts []MountInfo `json:"mounts"`
}

// List handles GET /api/v1/mounts.
func (h *MountsHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}

	mounts := h.mounts.List()
	states, err := h.store.GetIndexStates(r.Context(), h.mounts.IDs())
	if err != nil {
		WriteError(w, r, err)
		return
	}

	resp := ListMountsResponse{Mounts: make([]MountInfo, 0, len(mounts))}
	for _, m := range mounts {
		info := MountInfo{
			ID:                m.ID,
			Name:              m.Name,
			StorageType:       m.StorageType,
			PasswordProtected: m.PathPasswordHash != "",
			Capabilities:      m.Driver.Capabilities().Names(),
		}
		if state, ok := states[m.ID]; ok {
			s := state
			info.IndexState = &s
		}
		resp.Mounts = append(resp.Mounts, info)
	}
	WriteJSONOK(w, resp)
}
