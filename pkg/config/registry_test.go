package config

import (
	"context"
	"strings"
	"testing"
)

func TestBuildRegistry_MemoryMounts(t *testing.T) {
	cfg := &Config{
		Storages: []StorageConfig{
			{ID: "mem", Type: "memory"},
		},
		Mounts: []MountConfig{
			{ID: "scratch", Name: "Scratch", Storage: "mem"},
			{ID: "tmp", Storage: "mem"},
		},
	}
	ApplyDefaults(cfg)

	reg, err := BuildRegistry(context.Background(), cfg, RegistryDeps{})
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	if got := len(reg.IDs()); got != 2 {
		t.Fatalf("Expected 2 mounts, got %d", got)
	}

	m, err := reg.Get("scratch")
	if err != nil {
		t.Fatalf("Get scratch failed: %v", err)
	}
	if m.StorageType != "memory" {
		t.Errorf("Expected storage type 'memory', got %q", m.StorageType)
	}
	if m.StorageConfigID != "mem" {
		t.Errorf("Expected storage config id 'mem', got %q", m.StorageConfigID)
	}
	if m.Name != "Scratch" {
		t.Errorf("Expected explicit name 'Scratch', got %q", m.Name)
	}

	// Both mounts share the single driver built for the storage config
	other, err := reg.Get("tmp")
	if err != nil {
		t.Fatalf("Get tmp failed: %v", err)
	}
	if other.Driver != m.Driver {
		t.Error("Expected mounts on the same storage to share one driver")
	}
}

func TestBuildRegistry_Empty(t *testing.T) {
	// A fresh install has no storages or mounts yet; the gateway must
	// still come up.
	cfg := GetDefaultConfig()

	reg, err := BuildRegistry(context.Background(), cfg, RegistryDeps{})
	if err != nil {
		t.Fatalf("BuildRegistry failed on empty config: %v", err)
	}
	if got := len(reg.IDs()); got != 0 {
		t.Errorf("Expected empty registry, got %d mounts", got)
	}
}

func TestBuildRegistry_UnknownStorage(t *testing.T) {
	cfg := &Config{
		Storages: []StorageConfig{{ID: "mem", Type: "memory"}},
		Mounts:   []MountConfig{{ID: "scratch", Storage: "nope"}},
	}
	ApplyDefaults(cfg)

	_, err := BuildRegistry(context.Background(), cfg, RegistryDeps{})
	if err == nil {
		t.Fatal("Expected error for unknown storage reference")
	}
	if !strings.Contains(err.Error(), "unknown storage") {
		t.Errorf("Expected 'unknown storage' error, got: %v", err)
	}
}

func TestBuildRegistry_DuplicateStorageID(t *testing.T) {
	cfg := &Config{
		Storages: []StorageConfig{
			{ID: "mem", Type: "memory"},
			{ID: "mem", Type: "memory"},
		},
	}
	ApplyDefaults(cfg)

	_, err := BuildRegistry(context.Background(), cfg, RegistryDeps{})
	if err == nil {
		t.Fatal("Expected error for duplicate storage id")
	}
	if !strings.Contains(err.Error(), "duplicate storage id") {
		t.Errorf("Expected 'duplicate storage id' error, got: %v", err)
	}
}

func TestBuildRegistry_DuplicateMountID(t *testing.T) {
	cfg := &Config{
		Storages: []StorageConfig{{ID: "mem", Type: "memory"}},
		Mounts: []MountConfig{
			{ID: "scratch", Storage: "mem"},
			{ID: "scratch", Storage: "mem"},
		},
	}
	ApplyDefaults(cfg)

	_, err := BuildRegistry(context.Background(), cfg, RegistryDeps{})
	if err == nil {
		t.Fatal("Expected error for duplicate mount id")
	}
	if !strings.Contains(err.Error(), "duplicate mount id") {
		t.Errorf("Expected 'duplicate mount id' error, got: %v", err)
	}
}

func TestBuildRegistry_S3RequiresBucket(t *testing.T) {
	cfg := &Config{
		Storages: []StorageConfig{{ID: "archive", Type: "s3"}},
	}
	ApplyDefaults(cfg)

	_, err := BuildRegistry(context.Background(), cfg, RegistryDeps{})
	if err == nil {
		t.Fatal("Expected error for s3 storage without bucket")
	}
	if !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("Expected 'bucket is required' error, got: %v", err)
	}
}

func TestBuildRegistry_TelegramRequiresToken(t *testing.T) {
	cfg := &Config{
		Storages: []StorageConfig{
			{ID: "chat", Type: "telegram", Telegram: TelegramStorageConfig{ChatID: -100}},
		},
	}
	ApplyDefaults(cfg)

	_, err := BuildRegistry(context.Background(), cfg, RegistryDeps{})
	if err == nil {
		t.Fatal("Expected error for telegram storage without bot token")
	}
	if !strings.Contains(err.Error(), "bot_token is required") {
		t.Errorf("Expected 'bot_token is required' error, got: %v", err)
	}
}

func TestBuildRegistry_TelegramRequiresStores(t *testing.T) {
	cfg := &Config{
		Storages: []StorageConfig{
			{ID: "chat", Type: "telegram", Telegram: TelegramStorageConfig{BotToken: "123:ABC", ChatID: -100}},
		},
	}
	ApplyDefaults(cfg)

	// No Nodes/Parts stores wired
	_, err := BuildRegistry(context.Background(), cfg, RegistryDeps{})
	if err == nil {
		t.Fatal("Expected error for telegram storage without backing stores")
	}
	if !strings.Contains(err.Error(), "virtual index store") {
		t.Errorf("Expected 'virtual index store' error, got: %v", err)
	}
}
