// Package sync implements the synchronization engine: the caller-facing
// record surface and the coordinator that drains the mutation queue to the
// central service, reconciling local ids along the way.
package sync

import (
	"context"
	"encoding/json"
	gosync "sync"
	"time"

	apperrors "github.com/itadriver/fieldsync/internal/errors"
	"github.com/itadriver/fieldsync/internal/idgen"
	"github.com/itadriver/fieldsync/internal/logging"
	"github.com/itadriver/fieldsync/internal/models"
	"github.com/itadriver/fieldsync/internal/store"
	"github.com/itadriver/fieldsync/internal/sync/queue"
	"github.com/itadriver/fieldsync/internal/sync/remote"
)

// TxRunner runs a function atomically. The sqlite db.DB satisfies this; the
// passthrough runner serves memory backends and tests.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Options wires an Engine. Store, Queue and Remote are required; the rest
// default sensibly.
type Options struct {
	Store  store.Store
	Queue  queue.Queue
	Remote remote.Client

	// Tx makes a store write and its queue entry commit as one unit. Leave
	// nil for backends without shared transactions.
	Tx TxRunner

	// Online gates drain progress at item boundaries. Leave nil to always
	// attempt.
	Online func() bool

	Now    func() time.Time
	Logger *logging.Logger
}

// Status is a point-in-time view of the engine.
type Status struct {
	Syncing  bool   `json:"syncing"`
	Online   bool   `json:"online"`
	Pending  int    `json:"pending"`
	Dead     int    `json:"dead"`
	LastSync int64  `json:"last_sync,omitempty"`
	LastErr  string `json:"last_error,omitempty"`
}

// Engine is the device-side synchronization engine. Local operations are
// synchronous with respect to durability; pushing to the central service
// happens in drain passes.
type Engine struct {
	store  store.Store
	queue  queue.Queue
	remote remote.Client
	tx     TxRunner
	online func() bool
	now    func() time.Time
	logger *logging.Logger
	stats  *Stats

	mu          gosync.Mutex
	sinks       []EventSink
	syncing     bool
	pendingPass bool
	lastSync    int64
	lastErr     error
}

// New creates an engine from its collaborators.
func New(opts Options) *Engine {
	if opts.Tx == nil {
		opts.Tx = passthroughTx{}
	}
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	return &Engine{
		store:  opts.Store,
		queue:  opts.Queue,
		remote: opts.Remote,
		tx:     opts.Tx,
		online: opts.Online,
		now:    opts.Now,
		logger: opts.Logger,
		stats:  NewStats(),
	}
}

// AddSink registers an event observer.
func (e *Engine) AddSink(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// Write persists a record locally and enqueues the matching mutation, both in
// one transaction. An empty id means a new record: it receives a local id and
// a queued create. A non-empty id must name an existing record and produces a
// queued update. The write is a whole-record overwrite.
func (e *Engine) Write(ctx context.Context, rec *models.Record) (*models.Record, error) {
	if rec == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "record is nil")
	}

	action := queue.ActionUpdate
	if rec.ID == "" {
		rec.ID = idgen.NewLocalID()
		action = queue.ActionCreate
	} else if _, err := e.store.Get(ctx, rec.ID); err != nil {
		return nil, err
	}

	rec.Synced = false
	rec.UpdatedAt = e.now().Unix()

	snapshot, err := json.Marshal(rec)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode record", err)
	}

	err = e.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := e.store.Put(ctx, rec); err != nil {
			return err
		}
		_, err := e.queue.Enqueue(ctx, rec.ID, action, snapshot)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Read returns a record by id.
func (e *Engine) Read(ctx context.Context, id string) (*models.Record, error) {
	return e.store.Get(ctx, id)
}

// List returns records matching the filter, most recently updated first.
func (e *Engine) List(ctx context.Context, f store.Filter) ([]*models.Record, error) {
	return e.store.Query(ctx, f)
}

// Delete removes a record. A record the server never saw is rolled back
// entirely: the record and every queued mutation for it vanish, and no remote
// call is ever made. A server-known record is removed locally and a remote
// delete is queued.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.New(apperrors.ErrInvalid, "record id is empty")
	}

	return e.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := e.store.Delete(ctx, id); err != nil {
			return err
		}
		if idgen.IsLocal(id) {
			return e.queue.Remove(ctx, id)
		}
		_, err := e.queue.Enqueue(ctx, id, queue.ActionDelete, nil)
		return err
	})
}

// PendingCount returns the number of queued mutations awaiting sync.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.PendingCount(ctx)
}

// PendingItems returns every queued mutation awaiting sync, oldest first.
func (e *Engine) PendingItems(ctx context.Context) ([]*queue.Item, error) {
	return e.queue.Pending(ctx)
}

// DeadLetters returns mutations parked after permanent rejection.
func (e *Engine) DeadLetters(ctx context.Context) ([]*queue.Item, error) {
	return e.queue.DeadLetters(ctx)
}

// RetryDead requeues dead-lettered mutations with a fresh budget.
func (e *Engine) RetryDead(ctx context.Context) (int, error) {
	return e.queue.RetryDead(ctx)
}

// Stats returns per-action remote call statistics.
func (e *Engine) Stats() map[string]ActionStats {
	return e.stats.Snapshot()
}

// Status reports the engine's current state.
func (e *Engine) Status(ctx context.Context) Status {
	pending, _ := e.queue.PendingCount(ctx)
	dead, _ := e.queue.DeadLetters(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Syncing:  e.syncing,
		Online:   e.online(),
		Pending:  pending,
		Dead:     len(dead),
		LastSync: e.lastSync,
	}
	if e.lastErr != nil {
		st.LastErr = e.lastErr.Error()
	}
	return st
}

// TriggerSync requests a drain pass without waiting for it. A trigger during
// a running pass coalesces into exactly one follow-up pass.
func (e *Engine) TriggerSync() {
	go e.Sync(context.Background())
}

// ForceSync is TriggerSync for callers that want the result.
func (e *Engine) ForceSync(ctx context.Context) error {
	return e.Sync(ctx)
}

// Sync runs drain passes until the queue is quiet or the pass aborts. Only
// one caller drains at a time; a concurrent call schedules a follow-up pass
// and returns SYNC_IN_PROGRESS.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.pendingPass = true
		e.mu.Unlock()
		return apperrors.New(apperrors.ErrSyncInProgress, "sync already running")
	}
	e.syncing = true
	e.mu.Unlock()

	for {
		err := e.drainPass(ctx)

		e.mu.Lock()
		e.lastErr = err
		if err == nil {
			e.lastSync = e.now().Unix()
		}
		if e.pendingPass {
			e.pendingPass = false
			e.mu.Unlock()
			continue
		}
		e.syncing = false
		e.mu.Unlock()
		return err
	}
}

// drainPass pushes every ready item once, strictly in sequence order. A
// record whose item fails stays blocked for the rest of the pass so later
// mutations cannot overtake the failed one.
func (e *Engine) drainPass(ctx context.Context) error {
	e.publish(Event{Type: EventSyncStarted, At: e.now().Unix()})

	items, err := e.queue.Drain(ctx)
	if err != nil {
		e.publish(Event{Type: EventSyncFailed, At: e.now().Unix(), Error: err.Error()})
		return err
	}

	blocked := make(map[string]bool)
	renames := make(map[string]string)
	synced, failed := 0, 0
	var lastItemErr error

	for _, item := range items {
		if ctx.Err() != nil {
			return e.abort(ctx.Err(), synced, failed)
		}
		if !e.online() {
			return e.abort(apperrors.New(apperrors.ErrRemoteUnavailable, "connection lost during sync"), synced, failed)
		}
		// A create confirmed earlier in this pass rewrote the trailing rows;
		// the snapshot taken at Drain time still names the old id.
		if newID, ok := renames[item.RecordID]; ok {
			item.RecordID = newID
		}
		if blocked[item.RecordID] {
			continue
		}

		origID := item.RecordID
		serverID, err := e.processItem(ctx, item)
		if err != nil {
			failed++
			lastItemErr = err
			blocked[item.RecordID] = true
			e.handleFailure(ctx, item, err)
			continue
		}
		if serverID != "" {
			renames[origID] = serverID
		}
		synced++
	}

	e.publish(Event{Type: EventSyncCompleted, At: e.now().Unix(), Synced: synced, Failed: failed})
	e.logger.Info("Sync pass completed", map[string]interface{}{
		"synced": synced,
		"failed": failed,
	})
	return lastItemErr
}

func (e *Engine) abort(cause error, synced, failed int) error {
	err := apperrors.Wrap(apperrors.ErrSyncAborted, "sync aborted", cause)
	e.publish(Event{Type: EventSyncFailed, At: e.now().Unix(), Error: err.Error(), Synced: synced, Failed: failed})
	e.logger.Warn("Sync pass aborted", map[string]interface{}{
		"synced": synced,
		"failed": failed,
		"cause":  cause.Error(),
	})
	return err
}

// processItem pushes one mutation to the central service and settles its
// queue row. For a confirmed create it returns the server id the record now
// lives under.
func (e *Engine) processItem(ctx context.Context, item *queue.Item) (string, error) {
	// Updates and deletes need a server id. Finding a local id here means
	// the record's create has not been confirmed yet (blocked or dead), so
	// the item must wait its turn.
	if item.Action != queue.ActionCreate && idgen.IsLocal(item.RecordID) {
		return "", apperrors.Newf(apperrors.ErrSyncFailed, "record %s has no server id yet", item.RecordID)
	}

	start := e.now()
	var callErr error
	var serverID string

	switch item.Action {
	case queue.ActionCreate:
		serverID, callErr = e.remote.Create(ctx, item.Payload)
	case queue.ActionUpdate:
		callErr = e.remote.Update(ctx, item.RecordID, item.Payload)
	case queue.ActionDelete:
		callErr = e.remote.Delete(ctx, item.RecordID)
	default:
		return "", apperrors.Newf(apperrors.ErrInternal, "unknown action %q", item.Action)
	}
	e.stats.Observe(item.Action, e.now().Sub(start), callErr == nil)

	if callErr != nil {
		return "", callErr
	}

	switch item.Action {
	case queue.ActionCreate:
		return serverID, e.reconcile(ctx, item, serverID)
	case queue.ActionUpdate:
		return "", e.tx.WithTx(ctx, func(ctx context.Context) error {
			if err := e.queue.Complete(ctx, item.Seq); err != nil {
				return err
			}
			return e.markSyncedIfQuiet(ctx, item.RecordID)
		})
	default: // delete; nothing local remains to mark
		return "", e.queue.Complete(ctx, item.Seq)
	}
}

// reconcile finalizes a confirmed create: the record moves from its local id
// to the server id, trailing queue rows follow it, and observers learn the
// relocation. The whole unit commits in one transaction.
func (e *Engine) reconcile(ctx context.Context, item *queue.Item, serverID string) error {
	if err := idgen.ValidateServerID(serverID); err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteRejected, "server assigned an unusable id", err)
	}

	oldID := item.RecordID
	relocated := false

	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		err := e.store.Rekey(ctx, oldID, serverID)
		switch {
		case err == nil:
		case apperrors.Is(err, apperrors.ErrConflict):
			if _, getErr := e.store.Get(ctx, oldID); apperrors.Is(getErr, apperrors.ErrNotFound) {
				// The server acknowledged this create before: the record
				// already lives under the server id. Settle the stale row.
				return e.queue.Complete(ctx, item.Seq)
			}
			return apperrors.Wrap(apperrors.ErrRekeyConflict, "server id collides with another record", err)
		case apperrors.Is(err, apperrors.ErrNotFound):
			// Record vanished locally; nothing left to relocate.
			e.logger.Warn("Confirmed create for a record no longer present", map[string]interface{}{
				"record_id": oldID,
			})
			return e.queue.Complete(ctx, item.Seq)
		default:
			return err
		}

		remaining, err := e.queue.Remap(ctx, oldID, serverID, item.Seq)
		if err != nil {
			return err
		}
		relocated = true
		if remaining == 0 {
			return e.markSyncedIfQuiet(ctx, serverID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if relocated {
		e.publish(Event{
			Type: EventRecordRelocated,
			At:   e.now().Unix(),
			Relocation: &models.RelocationEvent{
				OldID: oldID,
				NewID: serverID,
				At:    e.now().Unix(),
			},
		})
		e.logger.Info("Record relocated to server id", map[string]interface{}{
			"old_id": oldID,
			"new_id": serverID,
		})
	}
	return nil
}

// markSyncedIfQuiet flips the synced flag once no queued mutations remain for
// the record. A record with trailing mutations is by definition ahead of the
// server, so the flag must stay false.
func (e *Engine) markSyncedIfQuiet(ctx context.Context, recordID string) error {
	n, err := e.queue.CountForRecord(ctx, recordID)
	if err != nil || n > 0 {
		return err
	}

	rec, err := e.store.Get(ctx, recordID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	rec.Synced = true
	return e.store.Put(ctx, rec)
}

// handleFailure settles a failed item: transient failures reschedule with
// backoff, permanent rejections dead-letter immediately.
func (e *Engine) handleFailure(ctx context.Context, item *queue.Item, cause error) {
	permanent := apperrors.Is(cause, apperrors.ErrRekeyConflict) ||
		apperrors.Is(cause, apperrors.ErrRemoteRejected) ||
		(!remote.IsRetryable(cause) && !apperrors.Is(cause, apperrors.ErrSyncFailed))

	if permanent {
		if err := e.queue.MarkDead(ctx, item.Seq, cause); err != nil {
			e.logger.Error("Failed to dead-letter item", err, map[string]interface{}{"seq": item.Seq})
			return
		}
		item.Status = queue.StatusDead
		item.LastError = cause.Error()
		e.publish(Event{Type: EventItemDead, At: e.now().Unix(), Item: item, Error: cause.Error()})
		e.logger.ErrorWithCode("Mutation rejected permanently", string(apperrors.ErrRemoteRejected), cause, map[string]interface{}{
			"seq":       item.Seq,
			"record_id": item.RecordID,
			"action":    string(item.Action),
		})
		return
	}

	updated, err := e.queue.MarkRetry(ctx, item.Seq, cause)
	if err != nil {
		e.logger.Error("Failed to schedule retry", err, map[string]interface{}{"seq": item.Seq})
		return
	}
	if updated.Status == queue.StatusDead {
		e.publish(Event{Type: EventItemDead, At: e.now().Unix(), Item: updated, Error: cause.Error()})
		e.logger.ErrorWithCode("Mutation dead-lettered after exhausted retries", string(apperrors.ErrSyncFailed), cause, map[string]interface{}{
			"seq":       updated.Seq,
			"record_id": updated.RecordID,
		})
		return
	}
	e.logger.Warn("Mutation failed, retry scheduled", map[string]interface{}{
		"seq":         updated.Seq,
		"record_id":   updated.RecordID,
		"retry_count": updated.RetryCount,
		"error":       cause.Error(),
	})
}

func (e *Engine) publish(ev Event) {
	e.mu.Lock()
	sinks := make([]EventSink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.Unlock()

	for _, sink := range sinks {
		sink.Publish(ev)
	}
}
