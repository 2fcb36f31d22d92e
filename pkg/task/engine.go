package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/internal/telemetry"
	"github.com/gatefs/gatefs/pkg/fault"
)

// Engine defaults. Retention applies to terminal jobs only.
const (
	DefaultWorkers       = 2
	DefaultQueueSize     = 64
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Metrics is the optional job observer. Nil disables collection.
type Metrics interface {
	JobEnqueued(taskType string)
	JobFinished(taskType string, status Status, duration time.Duration)
}

// Config assembles an Engine.
type Config struct {
	Store    Store
	Registry *Registry
	Catalog  *Catalog

	// Workers is the number of concurrent job runners.
	Workers int

	// QueueSize bounds the pending backlog; a full queue fails Submit.
	QueueSize int

	// Retention is how long terminal jobs are kept before the sweep
	// deletes them.
	Retention time.Duration

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration

	// Metrics is optional.
	Metrics Metrics
}

// Filter narrows List. Zero fields are ignored.
type Filter struct {
	Type   string
	Status Status
}

// Engine owns the job lifecycle: submission, a bounded queue, N workers,
// cooperative cancellation, progress fan-out and retention. Job rows
// survive restarts in the store; in-flight jobs found at startup are
// failed, pending ones re-queued.
type Engine struct {
	store         Store
	registry      *Registry
	catalog       *Catalog
	workers       int
	retention     time.Duration
	sweepInterval time.Duration
	metrics       Metrics

	queue chan string

	mu          sync.Mutex
	started     bool
	cancelled   map[string]struct{}
	inflight    map[string]struct{}
	running     map[string]context.CancelFunc
	subscribers map[string]map[int]chan *Job
	nextSubID   int

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewEngine validates the config and checks that the registry and the
// catalog cover the same task types; a mismatch is a startup failure.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fault.Validation("job store is required")
	}
	if cfg.Registry == nil || cfg.Catalog == nil {
		return nil, fault.Validation("task registry and catalog are required")
	}
	if err := checkConsistency(cfg.Registry, cfg.Catalog); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	return &Engine{
		store:         cfg.Store,
		registry:      cfg.Registry,
		catalog:       cfg.Catalog,
		workers:       workers,
		retention:     retention,
		sweepInterval: sweepInterval,
		metrics:       cfg.Metrics,
		queue:         make(chan string, queueSize),
		cancelled:     make(map[string]struct{}),
		inflight:      make(map[string]struct{}),
		running:       make(map[string]context.CancelFunc),
		subscribers:   make(map[string]map[int]chan *Job),
	}, nil
}

func checkConsistency(registry *Registry, catalog *Catalog) error {
	regTypes := registry.Types()
	catTypes := catalog.Types()

	catSet := make(map[string]struct{}, len(catTypes))
	for _, t := range catTypes {
		catSet[t] = struct{}{}
	}
	for _, t := range regTypes {
		if _, ok := catSet[t]; !ok {
			return fault.Validation("task type %s has a handler but no catalog entry", t)
		}
		delete(catSet, t)
	}
	for t := range catSet {
		return fault.Validation("task type %s has a catalog entry but no handler", t)
	}
	return nil
}

// Start recovers orphaned jobs and launches the workers and the
// retention sweeper. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	if err := e.recoverOrphans(ctx); err != nil {
		return err
	}

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.wg.Add(1)
	go e.sweeper()

	logger.Info("task engine started",
		"workers", e.workers,
		"queue_size", cap(e.queue),
		"types", len(e.registry.Types()))
	return nil
}

// Stop cancels running jobs and waits for the workers to drain, bounded
// by timeout.
func (e *Engine) Stop(timeout time.Duration) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.baseCancel
	e.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("task engine stopped")
	case <-time.After(timeout):
		logger.Warn("task engine did not drain in time", "timeout", timeout.String())
	}
}

// recoverOrphans handles rows left by a previous process: running jobs
// are failed (their goroutines are gone), pending ones re-queued.
func (e *Engine) recoverOrphans(ctx context.Context) error {
	jobs, err := e.store.List(ctx)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		switch job.Status {
		case StatusRunning:
			now := time.Now()
			job.Status = StatusFailed
			job.Error = "interrupted by gateway restart"
			job.FinishedAt = &now
			if err := e.store.Put(ctx, job); err != nil {
				return err
			}
			logger.Warn("failed orphaned job from previous run",
				logger.JobID(job.ID), logger.JobType(job.Type))
		case StatusPending:
			select {
			case e.queue <- job.ID:
			default:
				now := time.Now()
				job.Status = StatusFailed
				job.Error = "job queue full during recovery"
				job.FinishedAt = &now
				if err := e.store.Put(ctx, job); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Submit validates, persists and enqueues a new job.
func (e *Engine) Submit(ctx context.Context, actor Actor, taskType string, payload json.RawMessage, trigger Trigger) (*Job, error) {
	if actor.UserID == "" {
		return nil, fault.Validation("jobs require a submitting user")
	}
	if trigger == "" {
		trigger = TriggerManual
	}

	def, err := e.catalog.Get(taskType)
	if err != nil {
		return nil, err
	}
	if !e.catalog.CanCreate(actor, taskType) {
		return nil, fault.Authorization("task type %s is not available to user %s", taskType, actor.UserID)
	}
	handler, err := e.registry.Get(taskType)
	if err != nil {
		return nil, err
	}

	var typed any
	if handler.ValidatePayload != nil {
		typed, err = handler.ValidatePayload(payload)
		if err != nil {
			return nil, err
		}
	}

	job := &Job{
		ID:        uuid.NewString(),
		Type:      taskType,
		Status:    StatusPending,
		Payload:   payload,
		UserID:    actor.UserID,
		UserType:  userTypeOf(actor),
		Trigger:   trigger,
		CreatedAt: time.Now(),
	}
	if handler.NewStats != nil {
		if stats := handler.NewStats(typed); stats != nil {
			data, err := json.Marshal(stats)
			if err != nil {
				return nil, fault.Infrastructure("failed to encode job stats", err)
			}
			job.Stats = data
		}
	}

	// the single-flight scan and the insert must not interleave with a
	// concurrent submit of the same type
	e.mu.Lock()
	defer e.mu.Unlock()

	if def.CreatePolicy == CreateSingleFlight {
		active, err := e.findActiveLocked(ctx, taskType)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, fault.Conflict("a %s job is already active (%s)", taskType, active.ID)
		}
	}

	if err := e.store.Put(ctx, job); err != nil {
		return nil, err
	}

	select {
	case e.queue <- job.ID:
	default:
		if err := e.store.Delete(ctx, job.ID); err != nil {
			logger.Warn("failed to remove unqueued job", logger.JobID(job.ID), logger.Err(err))
		}
		return nil, fault.New(fault.KindInfrastructure, "job queue is full")
	}

	if e.metrics != nil {
		e.metrics.JobEnqueued(taskType)
	}
	logger.InfoCtx(ctx, "job submitted",
		logger.JobID(job.ID),
		logger.JobType(taskType),
		logger.UserID(actor.UserID),
		"trigger", string(trigger))
	return job.Clone(), nil
}

func (e *Engine) findActiveLocked(ctx context.Context, taskType string) (*Job, error) {
	jobs, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Type == taskType && !job.Status.IsTerminal() {
			return job, nil
		}
	}
	return nil, nil
}

// Get returns one job the actor may see.
func (e *Engine) Get(ctx context.Context, actor Actor, id string) (*Job, error) {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.catalog.CanView(actor, job) {
		return nil, fault.Authorization("job %s is not visible to user %s", id, actor.UserID)
	}
	return job, nil
}

// List returns the jobs visible to the actor, newest first.
func (e *Engine) List(ctx context.Context, actor Actor, filter Filter) ([]*Job, error) {
	jobs, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		if !e.catalog.CanView(actor, job) {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		visible = append(visible, job)
	}
	return visible, nil
}

// Cancel requests cooperative cancellation. Pending jobs finalize
// immediately; running ones finalize when their handler yields.
func (e *Engine) Cancel(ctx context.Context, actor Actor, id string) error {
	job, err := e.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if actions := e.catalog.AllowedActions(actor, job); !actions.CanCancel {
		return fault.Validation("job %s is %s and cannot be cancelled", id, job.Status)
	}

	e.mu.Lock()
	e.cancelled[id] = struct{}{}
	cancelRun := e.running[id]
	_, claimed := e.inflight[id]
	e.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
		logger.InfoCtx(ctx, "job cancellation requested", logger.JobID(id))
		return nil
	}
	if claimed {
		// a worker holds the job but has not registered its cancel func
		// yet; the flag makes its RunContext report cancellation
		logger.InfoCtx(ctx, "job cancellation requested", logger.JobID(id))
		return nil
	}

	// unclaimed; re-load to see where the job ended up
	latest, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if latest.Status.IsTerminal() {
		e.mu.Lock()
		delete(e.cancelled, id)
		e.mu.Unlock()
		return fault.Conflict("job %s already finished as %s", id, latest.Status)
	}

	// still pending: finalize the row now, the worker skips it
	now := time.Now()
	latest.Status = StatusCancelled
	latest.FinishedAt = &now
	if err := e.store.Put(ctx, latest); err != nil {
		return err
	}
	e.fanout(latest)

	e.mu.Lock()
	delete(e.cancelled, id)
	e.mu.Unlock()

	logger.InfoCtx(ctx, "pending job cancelled", logger.JobID(id))
	return nil
}

// Delete removes a terminal job.
func (e *Engine) Delete(ctx context.Context, actor Actor, id string) error {
	job, err := e.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if actions := e.catalog.AllowedActions(actor, job); !actions.CanDelete {
		return fault.Validation("job %s is %s and cannot be deleted", id, job.Status)
	}
	return e.store.Delete(ctx, id)
}

// Retry resubmits a failed or partial copy_retry job as a fresh copy
// with the same payload.
func (e *Engine) Retry(ctx context.Context, actor Actor, id string) (*Job, error) {
	job, err := e.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if actions := e.catalog.AllowedActions(actor, job); !actions.CanRetry {
		return nil, fault.Validation("job %s cannot be retried", id)
	}
	return e.Submit(ctx, actor, job.Type, job.Payload, TriggerManual)
}

// Subscribe streams job snapshots: the current one immediately, then one
// per progress update or status transition. Slow subscribers drop
// intermediate updates. The returned func unsubscribes and closes the
// channel.
func (e *Engine) Subscribe(ctx context.Context, actor Actor, id string) (<-chan *Job, func(), error) {
	job, err := e.Get(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan *Job, 8)
	ch <- job.Clone()

	e.mu.Lock()
	e.nextSubID++
	token := e.nextSubID
	subs, ok := e.subscribers[id]
	if !ok {
		subs = make(map[int]chan *Job)
		e.subscribers[id] = subs
	}
	subs[token] = ch
	e.mu.Unlock()

	unsubscribe := func() {
		e.mu.Lock()
		if subs, ok := e.subscribers[id]; ok {
			if _, live := subs[token]; live {
				delete(subs, token)
				close(ch)
			}
			if len(subs) == 0 {
				delete(e.subscribers, id)
			}
		}
		e.mu.Unlock()
	}
	return ch, unsubscribe, nil
}

// SweepRetention deletes terminal jobs older than the retention window.
func (e *Engine) SweepRetention(ctx context.Context) (int, error) {
	jobs, err := e.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-e.retention)
	deleted := 0
	for _, job := range jobs {
		if !job.Status.IsTerminal() || job.FinishedAt == nil || job.FinishedAt.After(cutoff) {
			continue
		}
		if err := e.store.Delete(ctx, job.ID); err != nil {
			logger.Warn("failed to sweep job", logger.JobID(job.ID), logger.Err(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		logger.Info("swept finished jobs", "deleted", deleted)
	}
	return deleted, nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.baseCtx.Done():
			return
		case id := <-e.queue:
			e.runJob(id)
		}
	}
}

func (e *Engine) sweeper() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepRetention(e.baseCtx); err != nil {
				logger.Warn("job retention sweep failed", logger.Err(err))
			}
		}
	}
}

func (e *Engine) runJob(id string) {
	// the queue may carry duplicate ids after recovery; only one worker
	// may claim a job
	e.mu.Lock()
	if _, busy := e.inflight[id]; busy {
		e.mu.Unlock()
		return
	}
	e.inflight[id] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
	}()

	// finalization must survive engine shutdown, so store writes use a
	// background context
	bg := context.Background()

	job, err := e.store.Get(bg, id)
	if err != nil {
		if !fault.IsKind(err, fault.KindNotFound) {
			logger.Error("failed to load queued job", logger.JobID(id), logger.Err(err))
		}
		return
	}
	if job.Status != StatusPending {
		// already finalized, e.g. cancelled while queued
		if job.Status.IsTerminal() {
			e.mu.Lock()
			delete(e.cancelled, id)
			e.mu.Unlock()
		}
		return
	}
	if e.isCancelled(id) {
		e.finalize(job, Result{}, fault.Cancelled("job %s cancelled before start", id))
		e.mu.Lock()
		delete(e.cancelled, id)
		e.mu.Unlock()
		return
	}

	handler, err := e.registry.Get(job.Type)
	if err != nil {
		e.finalize(job, Result{}, err)
		return
	}

	var typed any
	if handler.ValidatePayload != nil {
		typed, err = handler.ValidatePayload(job.Payload)
		if err != nil {
			e.finalize(job, Result{}, err)
			return
		}
	}

	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	if err := e.store.Put(bg, job); err != nil {
		logger.Error("failed to mark job running", logger.JobID(id), logger.Err(err))
		return
	}
	e.fanout(job)

	jobCtx, cancelRun := context.WithCancel(e.baseCtx)
	e.mu.Lock()
	e.running[id] = cancelRun
	e.mu.Unlock()
	defer func() {
		cancelRun()
		e.mu.Lock()
		delete(e.running, id)
		delete(e.cancelled, id)
		e.mu.Unlock()
	}()

	logger.Info("job started", logger.JobID(id), logger.JobType(job.Type))

	jobCtx, span := telemetry.StartJobSpan(jobCtx, job.Type, id, telemetry.UserID(job.UserID))
	rc := &runContext{engine: e, jobID: id, ctx: jobCtx}
	result, execErr := handler.Execute(jobCtx, job.Clone(), typed, rc)
	telemetry.RecordError(jobCtx, execErr)
	span.End()
	e.finalize(job, result, execErr)
}

// finalize resolves the terminal status, persists it and fans it out.
func (e *Engine) finalize(job *Job, result Result, execErr error) {
	now := time.Now()
	job.FinishedAt = &now

	switch {
	case e.isCancelled(job.ID) || fault.IsKind(execErr, fault.KindCancelled) || errors.Is(execErr, context.Canceled):
		job.Status = StatusCancelled
		if execErr != nil {
			job.Error = fault.MessageOf(execErr)
		}
	case execErr != nil:
		job.Status = StatusFailed
		job.Error = execErr.Error()
	case result.Status == StatusPartial:
		job.Status = StatusPartial
	default:
		job.Status = StatusCompleted
	}

	if execErr == nil && result.Stats != nil {
		if data, err := json.Marshal(result.Stats); err == nil {
			job.Stats = data
		} else {
			logger.Warn("failed to encode final job stats", logger.JobID(job.ID), logger.Err(err))
		}
	}

	if err := e.store.Put(context.Background(), job); err != nil {
		logger.Error("failed to persist job result", logger.JobID(job.ID), logger.Err(err))
	}
	e.fanout(job)

	if e.metrics != nil && job.StartedAt != nil {
		e.metrics.JobFinished(job.Type, job.Status, now.Sub(*job.StartedAt))
	}
	logger.Info("job finished",
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		"status", string(job.Status))
}

func (e *Engine) isCancelled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cancelled[id]
	return ok
}

// updateProgress persists a stats snapshot and fans it out.
func (e *Engine) updateProgress(jobID string, stats any) {
	data, err := json.Marshal(stats)
	if err != nil {
		logger.Warn("failed to encode job progress", logger.JobID(jobID), logger.Err(err))
		return
	}

	ctx := context.Background()
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		logger.Warn("failed to load job for progress update", logger.JobID(jobID), logger.Err(err))
		return
	}
	job.Stats = data
	if err := e.store.Put(ctx, job); err != nil {
		logger.Warn("failed to persist job progress", logger.JobID(jobID), logger.Err(err))
		return
	}
	e.fanout(job)
}

// fanout delivers a snapshot to every subscriber. Sends happen under the
// mutex so they cannot race an unsubscribe closing the channel; they are
// non-blocking, so slow subscribers drop updates instead of stalling the
// engine.
func (e *Engine) fanout(job *Job) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[job.ID]
	if len(subs) == 0 {
		return
	}
	snapshot := job.Clone()
	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func userTypeOf(actor Actor) UserType {
	if actor.Admin {
		return UserTypeAdmin
	}
	return UserTypeUser
}

// runContext implements RunContext for one job run.
type runContext struct {
	engine *Engine
	jobID  string
	ctx    context.Context
}

func (rc *runContext) IsCancelled() bool {
	return rc.ctx.Err() != nil || rc.engine.isCancelled(rc.jobID)
}

func (rc *runContext) UpdateProgress(stats any) {
	rc.engine.updateProgress(rc.jobID, stats)
}
