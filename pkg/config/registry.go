package config

import (
	"context"
	"fmt"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/semaphore"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/storage/memory"
	"github.com/gatefs/gatefs/pkg/storage/s3"
	"github.com/gatefs/gatefs/pkg/storage/telegram"
	"github.com/gatefs/gatefs/pkg/upload"
	"github.com/gatefs/gatefs/pkg/vindex"
)

// RegistryDeps carries the shared stores and observers drivers are built
// with. The store fields are required only when a storage of the matching
// type is configured; metrics fields are optional and nil disables
// collection.
type RegistryDeps struct {
	// Nodes is the virtual directory index chat-backed drivers keep their
	// trees in.
	Nodes *vindex.Store

	// Parts is the upload ledger chat-backed drivers record chunk
	// outcomes in.
	Parts upload.Store

	// S3Metrics observes S3 driver operations.
	S3Metrics s3.Metrics

	// TelegramMetrics observes chat driver operations.
	TelegramMetrics telegram.Metrics

	// BotMetrics observes raw Bot API calls and retries.
	BotMetrics telegram.BotMetrics
}

// BuildRegistry creates a fully configured mount registry from the provided
// configuration.
//
// This function orchestrates the complete initialization process:
//  1. Validates storage and mount cross-references
//  2. Builds one driver per storage config; mounts sharing a storage share
//     the driver instance (and with it the backend's call budget)
//  3. Registers all mounts
//
// An empty configuration is valid: a gateway without mounts still serves
// health, auth and jobs, which is exactly the state `gatefs init` leaves a
// fresh install in.
//
// Parameters:
//   - ctx: Context for AWS config resolution
//   - cfg: Complete configuration loaded from config file
//   - deps: Shared stores and metric observers
//
// Returns:
//   - *fs.Registry: Fully initialized mount registry
//   - error: If validation or driver construction fails
func BuildRegistry(ctx context.Context, cfg *Config, deps RegistryDeps) (*fs.Registry, error) {
	logger.Debug("Building mount registry from configuration")

	if err := validateMountConfig(cfg); err != nil {
		return nil, err
	}

	drivers, err := buildDrivers(ctx, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage drivers: %w", err)
	}
	logger.Info("Built storage drivers", "count", len(drivers))

	reg := fs.NewRegistry()
	for _, mc := range cfg.Mounts {
		drv := drivers[mc.Storage]

		mount := &fs.Mount{
			ID:               mc.ID,
			Name:             mc.Name,
			StorageType:      drv.Type(),
			StorageConfigID:  mc.Storage,
			Driver:           drv,
			PathPasswordHash: mc.PathPasswordHash,
		}

		if err := reg.Add(mount); err != nil {
			return nil, fmt.Errorf("failed to register mount %q: %w", mc.ID, err)
		}

		logger.Debug("Mount registered",
			"mount", mc.ID,
			"storage", mc.Storage,
			"type", drv.Type(),
			"password_protected", mc.PathPasswordHash != "")
	}
	logger.Info("Registered mounts", "count", len(cfg.Mounts))

	return reg, nil
}

// validateMountConfig checks the cross-references struct tags cannot:
// unique IDs, resolvable storage references and per-type required fields.
func validateMountConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	storages := make(map[string]bool, len(cfg.Storages))
	for i, sc := range cfg.Storages {
		if storages[sc.ID] {
			return fmt.Errorf("storage #%d: duplicate storage id %q", i+1, sc.ID)
		}
		storages[sc.ID] = true

		switch sc.Type {
		case "s3":
			if sc.S3.Bucket == "" {
				return fmt.Errorf("s3 storage %q: bucket is required", sc.ID)
			}
		case "telegram":
			if sc.Telegram.BotToken == "" {
				return fmt.Errorf("telegram storage %q: bot_token is required", sc.ID)
			}
			if sc.Telegram.ChatID == 0 {
				return fmt.Errorf("telegram storage %q: chat_id is required", sc.ID)
			}
		}
	}

	mounts := make(map[string]bool, len(cfg.Mounts))
	for i, mc := range cfg.Mounts {
		if mounts[mc.ID] {
			return fmt.Errorf("mount #%d: duplicate mount id %q", i+1, mc.ID)
		}
		mounts[mc.ID] = true

		if !storages[mc.Storage] {
			return fmt.Errorf("mount %q: unknown storage %q", mc.ID, mc.Storage)
		}
	}

	return nil
}

// buildDrivers creates one driver per storage config.
func buildDrivers(ctx context.Context, cfg *Config, deps RegistryDeps) (map[string]storage.Driver, error) {
	drivers := make(map[string]storage.Driver, len(cfg.Storages))

	for _, sc := range cfg.Storages {
		logger.Debug("Creating storage driver", "storage", sc.ID, "type", sc.Type)

		var (
			drv storage.Driver
			err error
		)
		switch sc.Type {
		case "memory":
			drv = memory.New()
		case "s3":
			drv, err = buildS3Driver(ctx, sc, deps)
		case "telegram":
			drv, err = buildTelegramDriver(sc, deps)
		default:
			err = fmt.Errorf("unknown storage type: %q", sc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("storage %q: %w", sc.ID, err)
		}

		drivers[sc.ID] = drv
	}

	return drivers, nil
}

// buildS3Driver builds the AWS client pair and the driver on top of it.
func buildS3Driver(ctx context.Context, sc StorageConfig, deps RegistryDeps) (storage.Driver, error) {
	client, err := s3.NewClientFromConfig(ctx,
		sc.S3.Endpoint,
		sc.S3.Region,
		sc.S3.AccessKeyID,
		sc.S3.SecretAccessKey,
		sc.S3.ForcePathStyle,
	)
	if err != nil {
		return nil, err
	}

	return s3.New(s3.Config{
		Client:               client,
		Presigner:            awss3.NewPresignClient(client),
		Bucket:               sc.S3.Bucket,
		KeyPrefix:            sc.S3.KeyPrefix,
		StorageConfigID:      sc.ID,
		MultipartConcurrency: sc.S3.MaxPartsPerRequest,
		URLTTL:               sc.S3.URLTTL,
		Metrics:              deps.S3Metrics,
	})
}

// buildTelegramDriver builds the shared bot client and the driver on top of
// it. All mounts referencing this storage share the bot's call budget.
func buildTelegramDriver(sc StorageConfig, deps RegistryDeps) (storage.Driver, error) {
	if deps.Nodes == nil {
		return nil, fmt.Errorf("telegram storage requires the virtual index store")
	}
	if deps.Parts == nil {
		return nil, fmt.Errorf("telegram storage requires the upload part store")
	}

	weight := sc.Telegram.MaxConcurrentCalls
	if weight <= 0 {
		weight = storage.DefaultBackendConcurrency
	}

	bot, err := telegram.NewBotClient(telegram.BotConfig{
		Token:     sc.Telegram.BotToken,
		BaseURL:   sc.Telegram.APIBaseURL,
		Semaphore: semaphore.NewWeighted(weight),
		Metrics:   deps.BotMetrics,
	})
	if err != nil {
		return nil, err
	}

	return telegram.New(telegram.Config{
		Bot:             bot,
		ChatID:          sc.Telegram.ChatID,
		StorageConfigID: sc.ID,
		Nodes:           deps.Nodes,
		Parts:           deps.Parts,
		SessionTTL:      sc.Telegram.SessionTTL,
		SpoolDir:        sc.Telegram.SpoolDir,
		Metrics:         deps.TelegramMetrics,
	})
}
