package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatefs/gatefs/internal/retry"
	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/upload"
	"github.com/gatefs/gatefs/pkg/vindex"
)

const (
	testToken  = "42:TEST"
	testChatID = int64(-1001234567)
)

// botStub is an in-process Bot API. sendDocument answers can be primed with
// 429s to exercise the retry path.
type botStub struct {
	t *testing.T

	mu          sync.Mutex
	nextID      int64
	files       map[string][]byte // file_id -> stored bytes
	filenames   map[string]string // file_id -> sent filename
	sendCalls   int
	getCalls    int
	deleted     []int64
	rateLimits  int // pending 429 answers for sendDocument
	retryAfterS int // retry_after seconds attached to those answers
}

func (b *botStub) handleSendDocument(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.sendCalls++
	if b.rateLimits > 0 {
		b.rateLimits--
		resp := apiResponse{OK: false, ErrorCode: http.StatusTooManyRequests, Description: "Too Many Requests"}
		if b.retryAfterS > 0 {
			resp.Parameters = &responseParameters{RetryAfter: b.retryAfterS}
		}
		b.mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	b.mu.Unlock()

	require.NoError(b.t, r.ParseMultipartForm(256<<20))
	file, header, err := r.FormFile("document")
	require.NoError(b.t, err)
	defer func() { _ = file.Close() }()
	body, err := io.ReadAll(file)
	require.NoError(b.t, err)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	fileID := fmt.Sprintf("doc-%d", id)
	b.files[fileID] = body
	b.filenames[fileID] = header.Filename
	b.mu.Unlock()

	b.writeOK(w, Message{
		MessageID: id,
		Chat:      Chat{ID: testChatID},
		Document: &Document{
			FileID:       fileID,
			FileUniqueID: "uniq-" + fileID,
			FileName:     header.Filename,
			FileSize:     int64(len(body)),
		},
	})
}

func (b *botStub) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.FormValue("file_id")

	b.mu.Lock()
	b.getCalls++
	_, known := b.files[fileID]
	b.mu.Unlock()

	if !known {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(apiResponse{OK: false, ErrorCode: http.StatusNotFound, Description: "Bad Request: file not found"})
		return
	}
	b.writeOK(w, File{FileID: fileID, FilePath: "documents/" + fileID})
}

func (b *botStub) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	var msgID int64
	_, err := fmt.Sscan(r.FormValue("message_id"), &msgID)
	require.NoError(b.t, err)

	b.mu.Lock()
	b.deleted = append(b.deleted, msgID)
	b.mu.Unlock()

	b.writeOK(w, true)
}

func (b *botStub) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/documents/")

	b.mu.Lock()
	body, ok := b.files[fileID]
	b.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = w.Write(body)
}

func (b *botStub) writeOK(w http.ResponseWriter, result any) {
	raw, err := json.Marshal(result)
	require.NoError(b.t, err)
	_ = json.NewEncoder(w).Encode(apiResponse{OK: true, Result: raw})
}

func (b *botStub) sends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendCalls
}

func (b *botStub) getFileCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getCalls
}

func (b *botStub) deletedIDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.deleted...)
}

func (b *botStub) storedFile(fileID string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files[fileID]
}

func (b *botStub) sentFilename(fileID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filenames[fileID]
}

func (b *botStub) primeRateLimit(count, retryAfterSeconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rateLimits = count
	b.retryAfterS = retryAfterSeconds
}

func newBotStub(t *testing.T) (*botStub, *BotClient) {
	t.Helper()

	stub := &botStub{
		t:         t,
		files:     make(map[string][]byte),
		filenames: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+testToken+"/sendDocument", stub.handleSendDocument)
	mux.HandleFunc("/bot"+testToken+"/getFile", stub.handleGetFile)
	mux.HandleFunc("/bot"+testToken+"/deleteMessage", stub.handleDeleteMessage)
	mux.HandleFunc("/file/bot"+testToken+"/documents/", stub.handleDownload)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	bot, err := NewBotClient(BotConfig{
		Token:   testToken,
		BaseURL: server.URL,
		Retry:   retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1},
	})
	require.NoError(t, err)
	return stub, bot
}

type chatFixture struct {
	stub   *botStub
	driver *Driver
	nodes  *vindex.Store
	parts  upload.Store
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()

	stub, bot := newBotStub(t)

	db, err := database.Open(&database.Config{
		Type:   database.TypeSQLite,
		SQLite: database.SQLiteConfig{Path: database.MemoryPath},
	})
	require.NoError(t, err)
	nodes, err := vindex.NewStore(db)
	require.NoError(t, err)
	parts, err := upload.NewGORMStore(db)
	require.NoError(t, err)

	d, err := New(Config{
		Bot:             bot,
		ChatID:          testChatID,
		StorageConfigID: "cfg-tg",
		Nodes:           nodes,
		Parts:           parts,
		SpoolDir:        t.TempDir(),
	})
	require.NoError(t, err)

	return &chatFixture{stub: stub, driver: d, nodes: nodes, parts: parts}
}

// newChunkSession persists a session and primes the single-session fields the
// coordinator would normally carry over from init.
func (f *chatFixture) newChunkSession(t *testing.T, fileSize, partSize int64) *upload.Session {
	t.Helper()

	sess := &upload.Session{
		StorageType:     DriverType,
		StorageConfigID: "cfg-tg",
		MountID:         "chat",
		FSPath:          "/media/clip.bin",
		FileName:        "clip.bin",
		FileSize:        fileSize,
		MimeType:        "application/octet-stream",
		UserID:          "u-1",
		Strategy:        upload.StrategySingleSession,
		PartSize:        partSize,
		TotalParts:      storage.PartsFor(fileSize, partSize),
		ExpiresAt:       time.Now().Add(DefaultSessionTTL),
	}
	_, err := f.parts.CreateSession(context.Background(), sess)
	require.NoError(t, err)
	return sess
}

func chunk(start, end, total int64) upload.ContentRange {
	return upload.ContentRange{Start: start, End: end, Total: total}
}

func TestInitMultipartSingleSession(t *testing.T) {
	f := newChatFixture(t)

	sess := &upload.Session{
		ID:       "sess-chat-1",
		FileName: "backup.tar",
		FileSize: 250 << 20,
	}
	out, err := f.driver.InitMultipart(context.Background(), &storage.InitMultipartInput{Session: sess})
	require.NoError(t, err)

	assert.Equal(t, storage.SigningModeSingleSession, out.Policy.SigningMode)
	assert.Equal(t, storage.LedgerServerRecords, out.Policy.PartsLedgerPolicy)
	assert.Equal(t, 1, out.Policy.MaxPartsPerRequest)
	assert.Equal(t, storage.ChunkUploadURL("sess-chat-1"), out.UploadChunkURL)

	assert.Equal(t, upload.StrategySingleSession, sess.Strategy)
	assert.Equal(t, storage.MinPartSize, sess.PartSize)
	assert.Equal(t, 50, sess.TotalParts)
	assert.Equal(t, "0-", sess.NextExpectedRange)
	assert.True(t, sess.ExpiresAt.After(time.Now()))

	meta, err := sess.Meta()
	require.NoError(t, err)
	assert.EqualValues(t, testChatID, meta["chatId"])

	// the chat knows nothing until the first chunk
	assert.Equal(t, 0, f.stub.sends())
}

func TestInitMultipartValidation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.driver.InitMultipart(ctx, &storage.InitMultipartInput{
		Session:  &upload.Session{FileName: "a.bin", FileSize: 10 << 20},
		PartSize: 1 << 20,
	})
	assert.True(t, fault.IsKind(err, fault.KindValidation), "undersized part: %v", err)

	_, err = f.driver.InitMultipart(ctx, &storage.InitMultipartInput{
		Session: &upload.Session{FileName: "a.bin", FileSize: storage.MaxObjectSize(storage.MaxPartSizeChat) + 1},
	})
	assert.True(t, fault.IsKind(err, fault.KindValidation), "oversized object: %v", err)

	_, err = f.driver.InitMultipart(ctx, &storage.InitMultipartInput{
		Session:  &upload.Session{FileName: "a.bin", FileSize: int64(storage.MaxParts)*storage.MinPartSize + 1},
		PartSize: storage.MinPartSize,
	})
	assert.True(t, fault.IsKind(err, fault.KindValidation), "too many parts: %v", err)
}

func TestSignPartsRejected(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.driver.SignParts(context.Background(), &upload.Session{}, []int{1})
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestProxyChunkUploadsPart(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)

	res, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.PartNo)
	assert.False(t, res.Skipped)
	assert.EqualValues(t, 4, res.BytesUploaded)
	assert.Equal(t, 1, res.UploadedParts)
	assert.Equal(t, "4-", res.NextExpectedRange)

	assert.Equal(t, []byte("abcd"), f.stub.storedFile("doc-1"))
	assert.Equal(t, "clip.bin.part00001", f.stub.sentFilename("doc-1"))

	part, err := f.parts.GetPart(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, upload.PartStatusUploaded, part.Status)
	assert.Equal(t, "doc-1", part.ProviderPartID)

	var meta partProviderMeta
	require.NoError(t, json.Unmarshal([]byte(part.ProviderMeta), &meta))
	assert.Equal(t, testChatID, meta.ChatID)
	assert.EqualValues(t, 1, meta.MessageID)

	// the session row tracks the ledger
	stored, err := f.parts.FindSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusInProgress, stored.Status)
	assert.EqualValues(t, 4, stored.BytesUploaded)

	res, err = f.driver.ProxyChunk(ctx, sess, chunk(4, 6, 7), strings.NewReader("efg"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.PartNo)
	assert.Equal(t, 2, res.UploadedParts)
	assert.Equal(t, "", res.NextExpectedRange)
}

func TestProxyChunkValidation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)

	// total disagrees with the session
	_, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 99), strings.NewReader("abcd"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	// start not aligned to the part size
	_, err = f.driver.ProxyChunk(ctx, sess, chunk(1, 4, 7), strings.NewReader("bcde"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	// beyond the last part
	_, err = f.driver.ProxyChunk(ctx, sess, chunk(8, 10, 7), strings.NewReader("xyz"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	// part 1 must carry exactly partSize bytes
	_, err = f.driver.ProxyChunk(ctx, sess, chunk(0, 2, 7), strings.NewReader("abc"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	// wrong strategy
	perPart := f.newChunkSession(t, 7, 4)
	perPart.Strategy = upload.StrategyPerPartURL
	_, err = f.driver.ProxyChunk(ctx, perPart, chunk(0, 3, 7), strings.NewReader("abcd"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	assert.Equal(t, 0, f.stub.sends(), "validation failures must not reach the backend")
}

func TestProxyChunkShortBodyStampsError(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)

	_, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("ab"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	assert.Equal(t, 0, f.stub.sends())

	part, err := f.parts.GetPart(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, upload.PartStatusError, part.Status)
	assert.NotEmpty(t, part.ErrorMessage)
}

func TestProxyChunkDuplicateSkipped(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)

	_, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	require.NoError(t, err)
	require.Equal(t, 1, f.stub.sends())

	// the redelivery carries the same range; the confirmed part short-circuits
	res, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, res.UploadedParts)
	assert.Equal(t, 1, f.stub.sends(), "duplicate must not send a second document")
}

// gatedPartStore holds the first two ledger reads at a barrier so two
// deliveries of the same chunk race into the claim together.
type gatedPartStore struct {
	upload.Store
	gate  sync.WaitGroup
	reads atomic.Int32
}

func (s *gatedPartStore) GetPart(ctx context.Context, uploadID string, partNo int) (*upload.Part, error) {
	if s.reads.Add(1) <= 2 {
		s.gate.Done()
		s.gate.Wait()
	}
	return s.Store.GetPart(ctx, uploadID, partNo)
}

func TestProxyChunkConcurrentDuplicateSendsOnce(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	gated := &gatedPartStore{Store: f.parts}
	gated.gate.Add(2)
	drv, err := New(Config{
		Bot:             f.driver.bot,
		ChatID:          testChatID,
		StorageConfigID: "cfg-tg",
		Nodes:           f.nodes,
		Parts:           gated,
		SpoolDir:        t.TempDir(),
	})
	require.NoError(t, err)

	sess := f.newChunkSession(t, 7, 4)

	type outcome struct {
		res *storage.ChunkResult
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := drv.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
			results <- outcome{res, err}
		}()
	}

	skipped := 0
	for i := 0; i < 2; i++ {
		out := <-results
		require.NoError(t, out.err)
		if out.res.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, f.stub.sends(), "twin deliveries must produce one document")
	assert.Equal(t, 1, skipped, "exactly one delivery defers to its twin")
}

func TestProxyChunkConflictingRangeRejected(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)

	require.NoError(t, f.parts.UpsertPart(ctx, &upload.Part{
		UploadID:  sess.ID,
		PartNo:    1,
		ByteStart: 0,
		ByteEnd:   99,
		Size:      100,
		Status:    upload.PartStatusUploaded,
	}))

	_, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestProxyChunkAwaitsInflightTwin(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)

	// a twin claimed the part and is mid-send
	require.NoError(t, f.parts.UpsertPart(ctx, &upload.Part{
		UploadID:  sess.ID,
		PartNo:    1,
		ByteStart: 0,
		ByteEnd:   3,
		Size:      4,
		Status:    upload.PartStatusUploading,
	}))

	metaJSON, err := json.Marshal(partProviderMeta{ChatID: testChatID, MessageID: 777, FileID: "doc-777"})
	require.NoError(t, err)
	go func() {
		time.Sleep(700 * time.Millisecond)
		_ = f.parts.UpsertPart(context.Background(), &upload.Part{
			UploadID:       sess.ID,
			PartNo:         1,
			ByteStart:      0,
			ByteEnd:        3,
			Size:           4,
			Status:         upload.PartStatusUploaded,
			ProviderPartID: "doc-777",
			ProviderMeta:   string(metaJSON),
		})
	}()

	res, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, f.stub.sends(), "the waiter must adopt the twin's upload")
}

func TestProxyChunkRetriesRateLimit(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)
	f.stub.primeRateLimit(1, 1)

	start := time.Now()
	res, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	// the server-directed delay outranks the configured millisecond backoff
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, 2, f.stub.sends())

	part, err := f.parts.GetPart(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, upload.PartStatusUploaded, part.Status)
}

func TestProxyChunkRateLimitExhausted(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)
	f.stub.primeRateLimit(10, 0)

	_, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUpstream))
	assert.True(t, fault.IsRetryable(err))
	assert.Contains(t, fault.MessageOf(err), "rate limiting")

	// MaxRetries 2 means three attempts total
	assert.Equal(t, 3, f.stub.sends())

	part, err := f.parts.GetPart(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, upload.PartStatusError, part.Status)
}

func TestCompleteMultipartBuildsManifest(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)
	_, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	require.NoError(t, err)
	_, err = f.driver.ProxyChunk(ctx, sess, chunk(4, 6, 7), strings.NewReader("efg"))
	require.NoError(t, err)

	out, err := f.driver.CompleteMultipart(ctx, sess, nil)
	require.NoError(t, err)
	assert.Equal(t, sess.FSPath, out.Location)
	assert.Equal(t, 2, out.Parts)

	node, err := f.nodes.Stat(ctx, "cfg-tg", sess.FSPath)
	require.NoError(t, err)
	assert.False(t, node.IsDir)
	assert.EqualValues(t, 7, node.Size)
	assert.Equal(t, "application/octet-stream", node.MimeType)

	manifest, err := parseManifest(node.ContentRef)
	require.NoError(t, err)
	assert.Equal(t, ManifestKind, manifest.Kind)
	assert.Equal(t, "-1001234567", manifest.TargetChatID)
	require.Len(t, manifest.Parts, 2)
	assert.Equal(t, 1, manifest.Parts[0].PartNo)
	assert.EqualValues(t, 4, manifest.Parts[0].Size)
	assert.Equal(t, "doc-1", manifest.Parts[0].FileID)
	assert.Equal(t, 2, manifest.Parts[1].PartNo)
	assert.EqualValues(t, 3, manifest.Parts[1].Size)
	assert.EqualValues(t, 7, manifest.TotalSize())

	// the ledger is purged once the manifest is durable
	rows, err := f.parts.ListParts(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCompleteMultipartMissingPart(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)
	_, err := f.driver.ProxyChunk(ctx, sess, chunk(4, 6, 7), strings.NewReader("efg"))
	require.NoError(t, err)

	_, err = f.driver.CompleteMultipart(ctx, sess, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
	assert.Contains(t, fault.MessageOf(err), "missing part 1")
}

func TestAbortMultipartDeletesMessages(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	sess := f.newChunkSession(t, 7, 4)
	_, err := f.driver.ProxyChunk(ctx, sess, chunk(0, 3, 7), strings.NewReader("abcd"))
	require.NoError(t, err)
	_, err = f.driver.ProxyChunk(ctx, sess, chunk(4, 6, 7), strings.NewReader("efg"))
	require.NoError(t, err)

	require.NoError(t, f.driver.AbortMultipart(ctx, sess))

	assert.ElementsMatch(t, []int64{1, 2}, f.stub.deletedIDs())

	rows, err := f.parts.ListParts(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDriverCapabilities(t *testing.T) {
	f := newChatFixture(t)

	caps := f.driver.Capabilities()
	assert.True(t, caps.Has(storage.CapMultipart))
	assert.True(t, caps.Has(storage.CapProxy))
	assert.False(t, caps.Has(storage.CapPresigned))
	assert.Equal(t, DriverType, f.driver.Type())
}
