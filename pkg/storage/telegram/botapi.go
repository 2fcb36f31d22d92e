package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/internal/retry"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
)

// DefaultAPIBaseURL is the production Bot API endpoint.
const DefaultAPIBaseURL = "https://api.telegram.org"

// Message is the subset of a Bot API message the driver reads back.
type Message struct {
	MessageID int64     `json:"message_id"`
	Chat      Chat      `json:"chat"`
	Document  *Document `json:"document,omitempty"`
}

// Chat identifies the chat a message landed in.
type Chat struct {
	ID int64 `json:"id"`
}

// Document is an attachment descriptor.
type Document struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
}

// File is the getFile answer; FilePath feeds the download URL.
type File struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
}

type responseParameters struct {
	RetryAfter      int   `json:"retry_after,omitempty"`
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
}

// apiResponse is the Bot API envelope every call comes back in.
type apiResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

// APIError is a Bot API refusal.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("bot api error %d: %s (retry after %s)", e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("bot api error %d: %s", e.Code, e.Description)
}

// isRateLimited reports whether the error is an HTTP 429 envelope, the only
// class of Bot API error the client retries.
func isRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}

// BotMetrics observes Bot API traffic. Nil disables collection.
type BotMetrics interface {
	ObserveCall(method string, duration time.Duration, err error)
	RecordRetry(method string)
}

// BotConfig configures a BotClient.
type BotConfig struct {
	// Token is the bot token ("123456:ABC-...").
	Token string

	// BaseURL overrides the Bot API endpoint, for tests and local servers.
	BaseURL string

	// HTTPClient is optional; the default carries no timeout because
	// document uploads can legitimately take minutes.
	HTTPClient *http.Client

	// Semaphore gates concurrent calls. All drivers sharing one storage
	// config must share one semaphore.
	Semaphore *semaphore.Weighted

	// Retry bounds the 429 retry loop.
	Retry retry.Config

	// Metrics is optional.
	Metrics BotMetrics
}

// BotClient talks to one bot. Every call holds the config semaphore for its
// duration, 429 answers are retried honoring retry_after, everything else
// fails the call on the spot.
type BotClient struct {
	httpClient *http.Client
	apiBase    string
	fileBase   string
	sem        *semaphore.Weighted
	retry      retry.Config
	metrics    BotMetrics

	fileInfo *storage.InfoCache[*File]
}

// NewBotClient validates the config and returns the client.
func NewBotClient(cfg BotConfig) (*BotClient, error) {
	if cfg.Token == "" {
		return nil, fault.Validation("bot token is required")
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	sem := cfg.Semaphore
	if sem == nil {
		sem = semaphore.NewWeighted(storage.DefaultBackendConcurrency)
	}
	retryCfg := cfg.Retry
	if retryCfg.InitialBackoff == 0 {
		retryCfg = retry.DefaultConfig()
	}

	return &BotClient{
		httpClient: httpClient,
		apiBase:    base + "/bot" + cfg.Token,
		fileBase:   base + "/file/bot" + cfg.Token,
		sem:        sem,
		retry:      retryCfg,
		metrics:    cfg.Metrics,
		fileInfo:   storage.NewInfoCache[*File](storage.DefaultInfoCacheTTL, storage.DefaultInfoCacheCapacity),
	}, nil
}

// SendDocument uploads one attachment to the chat. The body must be
// re-readable because a 429 answer replays the whole request.
func (c *BotClient) SendDocument(ctx context.Context, chatID int64, filename string, body io.ReadSeeker) (*Message, error) {
	var msg Message
	err := c.invoke(ctx, "sendDocument", &msg, func(ctx context.Context) (*http.Request, error) {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind document body: %w", err)
		}

		pr, pw := io.Pipe()
		form := multipart.NewWriter(pw)
		go func() {
			err := form.WriteField("chat_id", strconv.FormatInt(chatID, 10))
			if err == nil {
				var part io.Writer
				if part, err = form.CreateFormFile("document", filename); err == nil {
					if _, err = io.Copy(part, body); err == nil {
						err = form.Close()
					}
				}
			}
			pw.CloseWithError(err)
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/sendDocument", pr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", form.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetFile resolves a file id into a downloadable path. Answers are memoized;
// stored files never change, only their download paths age out.
func (c *BotClient) GetFile(ctx context.Context, fileID string) (*File, error) {
	if file, ok := c.fileInfo.Get(fileID); ok {
		return file, nil
	}

	var file File
	err := c.invoke(ctx, "getFile", &file, func(ctx context.Context) (*http.Request, error) {
		form := url.Values{"file_id": {fileID}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.apiBase+"/getFile", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	c.fileInfo.Put(fileID, &file)
	return &file, nil
}

// DeleteMessage removes a message from the chat. Used for best-effort
// cleanup of aborted uploads and removed files.
func (c *BotClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	var deleted bool
	return c.invoke(ctx, "deleteMessage", &deleted, func(ctx context.Context) (*http.Request, error) {
		form := url.Values{
			"chat_id":    {strconv.FormatInt(chatID, 10)},
			"message_id": {strconv.FormatInt(messageID, 10)},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.apiBase+"/deleteMessage", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// OpenFile streams the bytes behind a getFile path.
func (c *BotClient) OpenFile(ctx context.Context, filePath string) (io.ReadCloser, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileBase+"/"+filePath, nil)
	if err != nil {
		c.sem.Release(1)
		return nil, fault.Infrastructure("failed to build file download request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.sem.Release(1)
		return nil, classifyTransport("file download failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		c.sem.Release(1)
		if resp.StatusCode == http.StatusNotFound {
			return nil, fault.NotFound("stored file path %s has expired, resolve the file id again", filePath)
		}
		return nil, fault.Upstream(fmt.Sprintf("file download returned status %d", resp.StatusCode), nil, false)
	}

	// the semaphore stays held until the stream closes
	return &semaphoreReadCloser{ReadCloser: resp.Body, sem: c.sem}, nil
}

type semaphoreReadCloser struct {
	io.ReadCloser
	sem    *semaphore.Weighted
	closed bool
}

func (s *semaphoreReadCloser) Close() error {
	err := s.ReadCloser.Close()
	if !s.closed {
		s.closed = true
		s.sem.Release(1)
	}
	return err
}

// invoke runs one Bot API method under the semaphore, retrying only 429.
func (c *BotClient) invoke(ctx context.Context, method string, result any, build func(ctx context.Context) (*http.Request, error)) (err error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveCall(method, time.Since(start), err)
		}
	}()

	attempt := 0
	err = retry.Do(ctx, c.retry, isRateLimited, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if c.metrics != nil {
				c.metrics.RecordRetry(method)
			}
			logger.Debug("retrying rate-limited bot api call", "method", method, logger.Attempt(attempt))
		}
		return c.doOnce(ctx, method, result, build)
	})
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return fault.Upstream("chat backend is rate limiting uploads", apiErr, true)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fault.Upstream("chat backend rejected the bot credentials", apiErr, false)
		case http.StatusNotFound:
			return fault.NotFound("chat backend has no such file")
		default:
			return fault.Upstream("chat backend refused the call", apiErr, false)
		}
	}
	return err
}

func (c *BotClient) doOnce(ctx context.Context, method string, result any, build func(ctx context.Context) (*http.Request, error)) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	req, err := build(ctx)
	if err != nil {
		return fault.Infrastructure("failed to build bot api request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(method+" failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransport("failed to read bot api response", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fault.Upstream(fmt.Sprintf("bot api returned unparseable response (status %d)", resp.StatusCode), err, false)
	}

	if !envelope.OK {
		apiErr := &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
			return retry.WithDelay(apiErr, apiErr.RetryAfter)
		}
		return apiErr
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fault.Upstream("bot api result did not match the expected shape", err, false)
		}
	}
	return nil
}

// classifyTransport maps HTTP transport failures. Cancellation passes
// through so fault.KindOf folds it.
func classifyTransport(message string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fault.Upstream(message, err, false)
}
