package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/storage/memory"
)

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "gatefs" {
		t.Errorf("Expected service 'gatefs', got '%s'", data["service"])
	}
}

func TestReadiness_NoRegistry_Returns503(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got '%s'", resp.Status)
	}

	if resp.Error != "mount registry not initialized" {
		t.Errorf("Expected error 'mount registry not initialized', got '%s'", resp.Error)
	}
}

func TestReadiness_EmptyRegistry_ReturnsOK(t *testing.T) {
	// Zero mounts is a valid deployment; only a missing registry is fatal.
	handler := NewHealthHandler(fs.NewRegistry())
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if mounts, ok := data["mounts"].(float64); !ok || mounts != 0 {
		t.Errorf("Expected 0 mounts, got %v", data["mounts"])
	}
}

func TestReadiness_WithMountsAndChecks_ReturnsOK(t *testing.T) {
	registry := fs.NewRegistry()
	if err := registry.Add(&fs.Mount{
		ID:              "documents",
		StorageType:     "memory",
		StorageConfigID: "mem-1",
		Driver:          memory.New(),
	}); err != nil {
		t.Fatalf("Failed to add mount: %v", err)
	}

	handler := NewHealthHandler(registry, Check{
		Name: "database",
		Fn:   func(ctx context.Context) error { return nil },
	})
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data := resp.Data.(map[string]interface{})
	if mounts, ok := data["mounts"].(float64); !ok || mounts != 1 {
		t.Errorf("Expected 1 mount, got %v", data["mounts"])
	}
}

func TestReadiness_FailingCheck_Returns503(t *testing.T) {
	handler := NewHealthHandler(fs.NewRegistry(), Check{
		Name: "database",
		Fn:   func(ctx context.Context) error { return errors.New("connection refused") },
	})
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got '%s'", resp.Status)
	}

	data := resp.Data.(map[string]interface{})
	checks, ok := data["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected checks map, got %T", data["checks"])
	}
	if checks["database"] != "unhealthy: connection refused" {
		t.Errorf("Unexpected check detail: %v", checks["database"])
	}
}

// Guard against the memory driver silently losing its read capability,
// which would break the readiness fixtures above.
func TestMemoryDriverIsReadable(t *testing.T) {
	d := memory.New()
	if !d.Capabilities().Has(storage.CapReader) {
		t.Fatal("memory driver lost CapReader")
	}
}
