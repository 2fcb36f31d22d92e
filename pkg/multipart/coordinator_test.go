package multipart

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/storage"
	"github.com/gatefs/gatefs/pkg/storage/memory"
	"github.com/gatefs/gatefs/pkg/upload"
)

// fakeDriver is a batched-signing multipart backend with call counters.
type fakeDriver struct {
	*memory.Driver

	mu            sync.Mutex
	initCalls     int
	signCalls     int
	completeCalls int
	abortCalls    int

	failComplete error
	uploaded     []storage.UploadedPart
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{Driver: memory.New()}
}

func (d *fakeDriver) Type() string { return "fake" }

func (d *fakeDriver) Capabilities() storage.CapabilitySet {
	return storage.NewCapabilitySet(
		storage.CapReader, storage.CapWriter, storage.CapMultipart, storage.CapPresigned)
}

func (d *fakeDriver) InitMultipart(_ context.Context, in *storage.InitMultipartInput) (*storage.InitMultipartOutput, error) {
	d.mu.Lock()
	d.initCalls++
	d.mu.Unlock()

	sess := in.Session
	if in.PartSize > 0 && in.PartSize < storage.MinPartSize {
		return nil, fault.Validation("part size must be at least %d bytes", storage.MinPartSize)
	}
	partSize := storage.ClampPartSize(in.PartSize, storage.MinPartSize, storage.MaxPartSizeS3)
	totalParts := storage.PartsFor(sess.FileSize, partSize)
	if totalParts > storage.MaxParts {
		return nil, fault.Validation("file needs %d parts, limit is %d", totalParts, storage.MaxParts)
	}

	sess.Strategy = upload.StrategyPerPartURL
	sess.PartSize = partSize
	sess.TotalParts = totalParts
	sess.ProviderUploadID = "upload-1"
	sess.ExpiresAt = time.Now().Add(15 * time.Minute)
	if err := sess.SetMeta(map[string]any{"urlTtlSeconds": 900, "maxPartsPerRequest": 4}); err != nil {
		return nil, err
	}

	return &storage.InitMultipartOutput{
		URLs: []storage.SignedPartURL{{PartNo: 1, URL: "https://backend/part/1"}},
		Policy: storage.Policy{
			SigningMode:        storage.SigningModeBatched,
			RefreshPolicy:      "server_decides",
			PartsLedgerPolicy:  storage.LedgerServerCanList,
			MaxPartsPerRequest: 4,
			URLTTLSeconds:      900,
			RetryPolicy:        storage.RetryPolicy{MaxAttempts: 3},
		},
	}, nil
}

func (d *fakeDriver) SignParts(_ context.Context, _ *upload.Session, partNumbers []int) (*storage.SignPartsOutput, error) {
	d.mu.Lock()
	d.signCalls++
	d.mu.Unlock()

	urls := make([]storage.SignedPartURL, 0, len(partNumbers))
	for _, n := range partNumbers {
		urls = append(urls, storage.SignedPartURL{
			PartNo:    n,
			URL:       fmt.Sprintf("https://backend/part/%d", n),
			ExpiresAt: time.Now().Add(15 * time.Minute),
		})
	}
	return &storage.SignPartsOutput{URLs: urls, ExpiresIn: 15 * time.Minute}, nil
}

func (d *fakeDriver) ListUploadedParts(_ context.Context, _ *upload.Session) (*storage.ListUploadedPartsOutput, error) {
	return &storage.ListUploadedPartsOutput{Parts: d.uploaded}, nil
}

func (d *fakeDriver) CompleteMultipart(_ context.Context, sess *upload.Session, _ []storage.CompletedPart) (*storage.CompleteMultipartOutput, error) {
	d.mu.Lock()
	d.completeCalls++
	d.mu.Unlock()

	if d.failComplete != nil {
		return nil, d.failComplete
	}
	return &storage.CompleteMultipartOutput{ETag: "etag-1", Location: sess.FSPath, Parts: sess.TotalParts}, nil
}

func (d *fakeDriver) AbortMultipart(_ context.Context, _ *upload.Session) error {
	d.mu.Lock()
	d.abortCalls++
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) aborts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.abortCalls
}

// fakeChunkDriver is a single_session backend that records proxied chunks.
type fakeChunkDriver struct {
	*fakeDriver
	chunkCalls int
}

func newFakeChunkDriver() *fakeChunkDriver {
	return &fakeChunkDriver{fakeDriver: newFakeDriver()}
}

func (d *fakeChunkDriver) Capabilities() storage.CapabilitySet {
	return storage.NewCapabilitySet(
		storage.CapReader, storage.CapWriter, storage.CapMultipart, storage.CapProxy)
}

func (d *fakeChunkDriver) InitMultipart(ctx context.Context, in *storage.InitMultipartInput) (*storage.InitMultipartOutput, error) {
	out, err := d.fakeDriver.InitMultipart(ctx, in)
	if err != nil {
		return nil, err
	}
	in.Session.Strategy = upload.StrategySingleSession
	in.Session.NextExpectedRange = "0-"
	out.URLs = nil
	out.UploadChunkURL = storage.ChunkUploadURL(in.Session.ID)
	out.Policy.SigningMode = storage.SigningModeSingleSession
	out.Policy.PartsLedgerPolicy = storage.LedgerServerRecords
	out.Policy.MaxPartsPerRequest = 1
	return out, nil
}

func (d *fakeChunkDriver) ProxyChunk(_ context.Context, sess *upload.Session, cr upload.ContentRange, body io.Reader) (*storage.ChunkResult, error) {
	d.mu.Lock()
	d.chunkCalls++
	d.mu.Unlock()

	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, err
	}
	partNo, err := cr.PartNo(sess.PartSize)
	if err != nil {
		return nil, fault.Validation("%v", err)
	}
	return &storage.ChunkResult{
		PartNo:        partNo,
		BytesUploaded: cr.Size(),
		UploadedParts: 1,
	}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []fs.Event
}

func (r *recordingSink) Apply(_ context.Context, ev fs.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newSessionStore(t *testing.T) upload.Store {
	t.Helper()

	db, err := database.Open(&database.Config{
		Type:   database.TypeSQLite,
		SQLite: database.SQLiteConfig{Path: database.MemoryPath},
	})
	require.NoError(t, err)

	store, err := upload.NewGORMStore(db)
	require.NoError(t, err)
	return store
}

type coordinatorFixture struct {
	coordinator *Coordinator
	sessions    upload.Store
	driver      *fakeDriver
	chunkDriver *fakeChunkDriver
	sink        *recordingSink
}

func newFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	sessions := newSessionStore(t)
	driver := newFakeDriver()
	chunkDriver := newFakeChunkDriver()

	reg := fs.NewRegistry()
	require.NoError(t, reg.Add(&fs.Mount{ID: "m1", StorageConfigID: "cfg-1", Driver: driver}))
	require.NoError(t, reg.Add(&fs.Mount{ID: "chat", StorageConfigID: "cfg-2", Driver: chunkDriver}))
	require.NoError(t, reg.Add(&fs.Mount{ID: "plain", StorageConfigID: "cfg-3", Driver: memory.New()}))

	sink := &recordingSink{}
	coordinator, err := New(Config{
		Sessions: sessions,
		Registry: reg,
		Notifier: fs.NewNotifier(sink),
	})
	require.NoError(t, err)

	return &coordinatorFixture{
		coordinator: coordinator,
		sessions:    sessions,
		driver:      driver,
		chunkDriver: chunkDriver,
		sink:        sink,
	}
}

var alice = Actor{UserID: "alice"}

func initInput(mountID string) InitializeInput {
	return InitializeInput{
		MountID:  mountID,
		FSPath:   "/docs/archive.bin",
		FileName: "archive.bin",
		FileSize: 64 << 20,
		MimeType: "application/octet-stream",
	}
}

func TestInitializeCreatesSession(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.coordinator.Initialize(context.Background(), alice, initInput("m1"))
	require.NoError(t, err)

	assert.False(t, out.Resumed)
	assert.NotEmpty(t, out.Session.ID)
	assert.Equal(t, upload.StrategyPerPartURL, out.Session.Strategy)
	assert.Equal(t, storage.SigningModeBatched, out.Policy.SigningMode)
	assert.Equal(t, storage.LedgerServerCanList, out.Policy.PartsLedgerPolicy)
	assert.NotEmpty(t, out.URLs)

	stored, err := fx.sessions.FindSession(context.Background(), out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusInitiated, stored.Status)
	assert.Equal(t, "alice", stored.UserID)
}

func TestInitializeResumesSameTarget(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	second, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, 1, fx.driver.initCalls)

	// the resumed policy is rebuilt from session meta
	assert.Equal(t, storage.SigningModeBatched, second.Policy.SigningMode)
	assert.Equal(t, 4, second.Policy.MaxPartsPerRequest)
	assert.Equal(t, 900, second.Policy.URLTTLSeconds)
}

func TestInitializeForeignFingerprintConflict(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	in := initInput("m1")
	in.Fingerprint = first.Session.Fingerprint
	_, err = fx.coordinator.Initialize(ctx, Actor{UserID: "bob"}, in)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConflict))
}

func TestInitializeValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	in := initInput("m1")
	in.FileSize = 0
	_, err := fx.coordinator.Initialize(ctx, alice, in)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	_, err = fx.coordinator.Initialize(ctx, alice, initInput("ghost"))
	assert.True(t, fault.IsKind(err, fault.KindNotFound))

	_, err = fx.coordinator.Initialize(ctx, alice, initInput("plain"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	in = initInput("m1")
	in.PartSize = storage.MinPartSize - 1
	_, err = fx.coordinator.Initialize(ctx, alice, in)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	_, err = fx.coordinator.Initialize(ctx, Actor{}, initInput("m1"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestSignExtendsSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)
	before := out.Session.ExpiresAt

	signed, err := fx.coordinator.Sign(ctx, alice, out.Session.ID, []int{2, 3})
	require.NoError(t, err)
	assert.Len(t, signed.URLs, 2)
	assert.Equal(t, out.Session.PartSize, signed.PartSize)
	assert.Equal(t, out.Session.TotalParts, signed.TotalParts)

	stored, err := fx.sessions.FindSession(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusInProgress, stored.Status)
	assert.True(t, stored.ExpiresAt.After(before) || stored.ExpiresAt.Equal(before))
}

func TestSignAuthorization(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	_, err = fx.coordinator.Sign(ctx, Actor{UserID: "bob"}, out.Session.ID, []int{1})
	assert.True(t, fault.IsKind(err, fault.KindAuthorization))

	// admins may sign anyone's session
	_, err = fx.coordinator.Sign(ctx, Actor{UserID: "root", Admin: true}, out.Session.ID, []int{1})
	assert.NoError(t, err)
}

func TestSignExpiredSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, fx.sessions.UpdateSession(ctx, out.Session.ID, upload.Patch{ExpiresAt: &past}))

	_, err = fx.coordinator.Sign(ctx, alice, out.Session.ID, []int{1})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindExpired))
}

func TestListPartsDelegates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	fx.driver.uploaded = []storage.UploadedPart{{PartNumber: 1, Size: 8 << 20, ETag: "e1"}}

	parts, err := fx.coordinator.ListParts(ctx, alice, out.Session.ID)
	require.NoError(t, err)
	require.Len(t, parts.Parts, 1)
	assert.Equal(t, 1, parts.Parts[0].PartNumber)
	assert.Equal(t, storage.SigningModeBatched, parts.Policy.SigningMode)
}

func TestCompleteFinishesSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	completed, err := fx.coordinator.Complete(ctx, alice, out.Session.ID, []storage.CompletedPart{{PartNumber: 1, ETag: "e1"}})
	require.NoError(t, err)
	assert.Equal(t, "/docs/archive.bin", completed.StoragePath)
	assert.Equal(t, "etag-1", completed.ETag)

	stored, err := fx.sessions.FindSession(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusCompleted, stored.Status)
	assert.Equal(t, stored.FileSize, stored.BytesUploaded)

	// the new file invalidates caches and the search index
	assert.Equal(t, 1, fx.sink.count())

	_, err = fx.coordinator.Complete(ctx, alice, out.Session.ID, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConflict))
}

func TestCompleteFailureKeepsSessionResumable(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	fx.driver.failComplete = fault.Validation("missing part 3/8, resume required")

	_, err = fx.coordinator.Complete(ctx, alice, out.Session.ID, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	stored, err := fx.sessions.FindSession(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.False(t, stored.Status.IsTerminal())
	assert.Zero(t, fx.sink.count())
}

func TestAbortStampsReason(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	require.NoError(t, fx.coordinator.Abort(ctx, alice, out.Session.ID, ""))
	assert.Equal(t, 1, fx.driver.aborts())

	stored, err := fx.sessions.FindSession(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusAborted, stored.Status)

	meta, err := stored.Meta()
	require.NoError(t, err)
	assert.Equal(t, AbortReasonClient, meta["abort_reason"])

	// aborting twice is idempotent
	require.NoError(t, fx.coordinator.Abort(ctx, alice, out.Session.ID, ""))
	assert.Equal(t, 1, fx.driver.aborts())
}

func TestAbortCompletedSessionFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)
	_, err = fx.coordinator.Complete(ctx, alice, out.Session.ID, nil)
	require.NoError(t, err)

	err = fx.coordinator.Abort(ctx, alice, out.Session.ID, "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestProxyChunk(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	in := initInput("chat")
	in.FileSize = 12 << 20
	in.PartSize = 8 << 20
	out, err := fx.coordinator.Initialize(ctx, alice, in)
	require.NoError(t, err)
	require.Equal(t, upload.StrategySingleSession, out.Session.Strategy)
	assert.Equal(t, storage.ChunkUploadURL(out.Session.ID), out.UploadChunkURL)

	body := strings.NewReader(strings.Repeat("x", 16))
	res, err := fx.coordinator.ProxyChunk(ctx, alice, out.Session.ID,
		fmt.Sprintf("bytes 0-%d/%d", (8<<20)-1, 12<<20), body)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PartNo)
	assert.Equal(t, 1, fx.chunkDriver.chunkCalls)
}

func TestProxyChunkValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	_, err = fx.coordinator.ProxyChunk(ctx, alice, out.Session.ID, "not-a-range", strings.NewReader("x"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))

	// per_part_url sessions do not take gateway chunks
	_, err = fx.coordinator.ProxyChunk(ctx, alice, out.Session.ID,
		fmt.Sprintf("bytes 0-%d/%d", (8<<20)-1, 64<<20), strings.NewReader("x"))
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestListActiveScopesToCaller(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	bobIn := initInput("m1")
	bobIn.FSPath = "/docs/other.bin"
	_, err = fx.coordinator.Initialize(ctx, Actor{UserID: "bob"}, bobIn)
	require.NoError(t, err)

	mine, err := fx.coordinator.ListActive(ctx, alice, upload.Filter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "alice", mine[0].UserID)

	all, err := fx.coordinator.ListActive(ctx, Actor{UserID: "root", Admin: true}, upload.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListActiveOverlaysPartStats(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.coordinator.Initialize(ctx, alice, initInput("m1"))
	require.NoError(t, err)

	require.NoError(t, fx.sessions.UpsertPart(ctx, &upload.Part{
		UploadID: out.Session.ID,
		PartNo:   1,
		ByteEnd:  (8 << 20) - 1,
		Size:     8 << 20,
		Status:   upload.PartStatusUploaded,
	}))

	sessions, err := fx.coordinator.ListActive(ctx, alice, upload.Filter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(8<<20), sessions[0].BytesUploaded)
	assert.Equal(t, 1, sessions[0].UploadedParts)
}
