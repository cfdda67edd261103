package zdmr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxConcurrent is the scheduler's default global concurrency cap
// (§4.7).
const DefaultMaxConcurrent = 4

// Store is the persistence surface the Engine needs (§4.1). It is kept
// narrow and defined on the consumer side, in the teacher's own idiom of
// small handler-function/interface seams (pkg/warplib/manager.go patches
// byte-counter handlers into its own item map rather than depending on a
// concrete DB type) — the store package implements this interface
// implicitly; the Engine never imports it.
type Store interface {
	SaveDownload(ctx context.Context, d *Download) error
	LoadDownload(ctx context.Context, id string) (*Download, error)
	ListByStatus(ctx context.Context, status Status) ([]*Download, error)
	ListByBatch(ctx context.Context, batchID string) ([]*Download, error)
	DeleteDownload(ctx context.Context, id string) error

	SaveSegments(ctx context.Context, downloadID string, segs []Segment) error
	LoadSegments(ctx context.Context, downloadID string) ([]Segment, error)
	ClearSegments(ctx context.Context, downloadID string) error

	SaveBatch(ctx context.Context, b *Batch) error
	DeleteBatch(ctx context.Context, batchID string) error

	RuleSnapshot(ctx context.Context) (Snapshot, error)
}

// ProgressSink receives raw byte deltas and structural status changes
// from the Engine; the Progress Bus (§4.8) is the only intended
// subscriber.
type ProgressSink interface {
	Report(downloadID string, deltaBytes int64)
	ReportStatus(downloadID string, status Status, contentLength ContentLength, bytesDownloaded int64, deleted bool)
}

// EngineOpts configures a new Engine.
type EngineOpts struct {
	MaxConcurrent int
	Limiter       *Limiter
	Store         Store
	Progress      ProgressSink
	Logger        Logger
	TempDir       string
}

// Engine is the per-transfer state machine and global scheduler (§4.7).
// It owns admission (FIFO, capacity-bounded — grounded on the teacher's
// QueueManager in pkg/warplib/queue.go, simplified to drop priority
// since §4.7 only specifies FIFO admission), the stall watchdog, and the
// retryable/non-retryable error policy including mirror fallback.
type Engine struct {
	maxConcurrent int
	limiter       *Limiter
	store         Store
	progress      ProgressSink
	log           Logger
	tempDir       string

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	waiting []string // download IDs, FIFO

	stopped bool
}

// NewEngine constructs an Engine. MaxConcurrent defaults to
// DefaultMaxConcurrent if zero.
func NewEngine(opts EngineOpts) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Engine{
		maxConcurrent: opts.MaxConcurrent,
		limiter:       opts.Limiter,
		store:         opts.Store,
		progress:      opts.Progress,
		log:           opts.Logger,
		tempDir:       opts.TempDir,
		active:        make(map[string]context.CancelFunc),
	}
}

// AddOpts carries per-call overrides for Add.
type AddOpts struct {
	ForcedProxy string
	BatchID     string
}

// Add enqueues one Download per URL (§4.7 `add`). Newly added Downloads
// start QUEUED and are admitted immediately if a slot is free.
func (e *Engine) Add(ctx context.Context, urls []string, destDir string, opts AddOpts) ([]*Download, error) {
	now := time.Now()
	downloads := make([]*Download, 0, len(urls))
	for _, u := range urls {
		d := &Download{
			ID:             uuid.NewString(),
			OriginalURL:    u,
			ResolvedURL:    u,
			DestDir:        destDir,
			ForcedProxy:    opts.ForcedProxy,
			BatchID:        opts.BatchID,
			ContentLength:  ContentLength(Unknown),
			SupportsRanges: RangeUnknown,
			Status:         StatusQueued,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.SaveDownload(ctx, d); err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}

	e.mu.Lock()
	for _, d := range downloads {
		e.waiting = append(e.waiting, d.ID)
	}
	e.mu.Unlock()

	for _, d := range downloads {
		e.reportStatus(d)
	}

	e.admit()
	return downloads, nil
}

// reportStatus forwards d's current status/length/progress to the
// Progress Bus as a structural change (§4.8 `DownloadsChanged`), if a
// sink is configured.
func (e *Engine) reportStatus(d *Download) {
	if e.progress != nil {
		e.progress.ReportStatus(d.ID, d.Status, d.ContentLength, d.BytesDownloaded, false)
	}
}

// AddBatch creates a Batch row and enqueues its member URLs under it
// (§3 Batch).
func (e *Engine) AddBatch(ctx context.Context, urls []string, destDir string, forcedProxy bool) (*Batch, []*Download, error) {
	b := &Batch{
		ID:          uuid.NewString(),
		DestDir:     destDir,
		ForcedProxy: forcedProxy,
		CreatedAt:   time.Now(),
	}
	if err := e.store.SaveBatch(ctx, b); err != nil {
		return nil, nil, err
	}
	downloads, err := e.Add(ctx, urls, destDir, AddOpts{BatchID: b.ID})
	if err != nil {
		return nil, nil, err
	}
	return b, downloads, nil
}

// admit starts as many waiting downloads as there is capacity for. It
// must be called with e.mu unlocked.
func (e *Engine) admit() {
	for {
		e.mu.Lock()
		if e.stopped || len(e.waiting) == 0 || len(e.active) >= e.maxConcurrent {
			e.mu.Unlock()
			return
		}
		id := e.waiting[0]
		e.waiting = e.waiting[1:]
		runCtx, cancel := context.WithCancel(context.Background())
		e.active[id] = cancel
		e.mu.Unlock()

		go e.runTransfer(runCtx, id)
	}
}

// onSlotFreed removes id from the active set and tries to admit the next
// waiting download.
func (e *Engine) onSlotFreed(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
	e.admit()
}

// Pause cancels an active transfer's in-flight segment tasks
// cooperatively and persists PAUSED; bytes already on disk are retained
// (§4.7 "Pause").
func (e *Engine) Pause(ctx context.Context, id string) error {
	e.mu.Lock()
	cancel, ok := e.active[id]
	e.mu.Unlock()
	if ok {
		cancel() // runTransfer observes ctx.Err() and persists PAUSED
		return nil
	}
	d, err := e.store.LoadDownload(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == StatusPaused {
		return nil // idempotent: pausing a paused download is a no-op (§4.9)
	}
	if err := d.TransitionTo(StatusPaused, time.Now()); err != nil {
		return err
	}
	if err := e.store.SaveDownload(ctx, d); err != nil {
		return err
	}
	e.reportStatus(d)
	return nil
}

// Resume re-admits a PAUSED Download, re-entering the fetch path from
// the resume-validation step (§4.6 step 2 via runTransfer's probe).
func (e *Engine) Resume(ctx context.Context, id string) error {
	d, err := e.store.LoadDownload(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == StatusQueued || d.Status == StatusDownloading {
		return nil // idempotent: resuming an already-running download is a no-op (§4.9)
	}
	if d.Status != StatusPaused {
		return ErrInvalidStateTransition
	}
	d.Status = StatusQueued
	d.UpdatedAt = time.Now()
	if err := e.store.SaveDownload(ctx, d); err != nil {
		return err
	}
	e.reportStatus(d)
	e.mu.Lock()
	e.waiting = append(e.waiting, id)
	e.mu.Unlock()
	e.admit()
	return nil
}

// Retry re-queues an ERROR'd Download, clearing segments when the prior
// failure was REMOTE_CHANGED (§4.6 step 2, §4.7 state machine).
func (e *Engine) Retry(ctx context.Context, id string) error {
	d, err := e.store.LoadDownload(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != StatusError {
		return ErrInvalidStateTransition
	}
	if d.ErrorCode == CodeRemoteChanged {
		if err := e.store.ClearSegments(ctx, id); err != nil {
			return err
		}
		d.ClearForRetry()
	}
	if err := d.TransitionTo(StatusQueued, time.Now()); err != nil {
		return err
	}
	if err := e.store.SaveDownload(ctx, d); err != nil {
		return err
	}
	e.reportStatus(d)
	e.mu.Lock()
	e.waiting = append(e.waiting, id)
	e.mu.Unlock()
	e.admit()
	return nil
}

// AddHostToProxyAndRetry sets a forced proxy on the Download and retries
// it (§4.7 `add_host_to_proxy_and_retry`), used when the UI asks "retry
// this one through a proxy" after a CONNECT_FAIL/TLS_FAIL episode.
func (e *Engine) AddHostToProxyAndRetry(ctx context.Context, id, proxyURL string) error {
	d, err := e.store.LoadDownload(ctx, id)
	if err != nil {
		return err
	}
	d.ForcedProxy = proxyURL
	if err := e.store.SaveDownload(ctx, d); err != nil {
		return err
	}
	return e.Retry(ctx, id)
}

// Delete removes a Download and its segments, cancelling it first if
// active, and best-effort unlinks the temp file (§3 Lifecycle).
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	if cancel, ok := e.active[id]; ok {
		cancel()
	}
	e.mu.Unlock()

	d, err := e.store.LoadDownload(ctx, id)
	if err != nil {
		return err
	}
	if d.TempPath != "" {
		os.Remove(d.TempPath)
	}
	if err := e.store.DeleteDownload(ctx, id); err != nil {
		return err
	}
	if e.progress != nil {
		e.progress.ReportStatus(id, d.Status, d.ContentLength, d.BytesDownloaded, true)
	}
	return nil
}

// DeleteBatch cascades delete to every member Download (cancel + remove
// rows + best-effort unlink, via Delete) before removing the Batch row
// itself (§6 `DeleteBatch`, shell-surface only — no new HTTP endpoint).
func (e *Engine) DeleteBatch(ctx context.Context, batchID string) error {
	downloads, err := e.store.ListByBatch(ctx, batchID)
	if err != nil {
		return err
	}
	for _, d := range downloads {
		if err := e.Delete(ctx, d.ID); err != nil {
			return err
		}
	}
	return e.store.DeleteBatch(ctx, batchID)
}

// Stop cancels every active transfer and stops further admission, for
// daemon shutdown.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	for _, cancel := range e.active {
		cancel()
	}
	e.mu.Unlock()
}

// Recover reloads every Download left in a non-COMPLETED, non-PAUSED
// state after an unclean shutdown back into the waiting queue as QUEUED,
// byte counters and segments intact (§8 P7). Call once at startup,
// before the control API starts accepting requests.
func (e *Engine) Recover(ctx context.Context) error {
	for _, status := range []Status{StatusDownloading, StatusError, StatusQueued} {
		downloads, err := e.store.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, d := range downloads {
			if status != StatusQueued {
				if err := d.TransitionTo(StatusQueued, time.Now()); err != nil {
					continue // not a legal edge from this status; leave it alone
				}
				if err := e.store.SaveDownload(ctx, d); err != nil {
					return err
				}
			}
			e.reportStatus(d)
			e.mu.Lock()
			e.waiting = append(e.waiting, d.ID)
			e.mu.Unlock()
		}
	}
	e.admit()
	return nil
}

// runTransfer drives one Download from DOWNLOADING through to a terminal
// outcome (COMPLETED, PAUSED, or ERROR/requeue), including the stall
// watchdog and mirror fallback (§4.7).
func (e *Engine) runTransfer(ctx context.Context, id string) {
	defer e.onSlotFreed(id)

	d, err := e.store.LoadDownload(ctx, id)
	if err != nil {
		if e.log != nil {
			e.log.Error("load download for transfer: %v", err)
		}
		return
	}

	if err := d.TransitionTo(StatusDownloading, time.Now()); err != nil {
		return
	}
	d.StallStrikes = 0
	_ = e.store.SaveDownload(ctx, d)
	e.reportStatus(d)

	for {
		outcome := e.attempt(ctx, d)
		switch outcome {
		case attemptDone:
			return
		case attemptRetryNow:
			continue
		case attemptRequeue:
			e.mu.Lock()
			e.waiting = append(e.waiting, id)
			e.mu.Unlock()
			return
		case attemptStopped:
			return
		}
	}
}

type attemptOutcome int

const (
	attemptDone attemptOutcome = iota
	attemptRetryNow
	attemptRequeue
	attemptStopped
)

// attempt runs one probe-plan-fetch cycle for d, handling the single
// fatal error it surfaces per §4.6/§4.7's retry/mirror/stall policy.
func (e *Engine) attempt(ctx context.Context, d *Download) attemptOutcome {
	snap, err := e.store.RuleSnapshot(ctx)
	if err != nil {
		e.fail(ctx, d, CodeUnknown, err.Error())
		return attemptDone
	}

	resolution, err := Resolve(snap, d.ResolvedURL, d.ForcedProxy)
	if err != nil {
		e.fail(ctx, d, CodeOf(err), err.Error())
		return attemptDone
	}

	client, err := NewTransport(resolution.ProxyURL)
	if err != nil {
		e.fail(ctx, d, CodeOf(err), err.Error())
		return attemptDone
	}

	probe, err := Probe(ctx, client, d.ResolvedURL, resolution.Headers)
	if err != nil {
		return e.handleFetchError(ctx, d, snap, err)
	}

	if d.FinalFilename == "" {
		name, err := e.resolveAndReserveFilename(ctx, d, probe)
		if err != nil {
			e.fail(ctx, d, CodeOf(err), err.Error())
			return attemptDone
		}
		d.FinalFilename = name
		_ = e.store.SaveDownload(ctx, d)
	}

	segments, err := e.loadOrPlanSegments(ctx, d, probe)
	if err != nil {
		return e.handleFetchError(ctx, d, snap, err)
	}

	d.ContentLength = probe.ContentLength
	d.ETag = probe.ETag
	d.LastModified = probe.LastModified
	if probe.SupportsRanges {
		d.SupportsRanges = RangeYes
	} else {
		d.SupportsRanges = RangeNo
	}
	_ = e.store.SaveDownload(ctx, d)
	e.reportStatus(d)

	tempFile, err := os.OpenFile(d.TempPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		e.fail(ctx, d, CodeUnknown, err.Error())
		return attemptDone
	}
	defer tempFile.Close()

	fetchCtx, stallCancel := context.WithCancel(ctx)
	defer stallCancel()
	stallCh := make(chan struct{})
	go e.watchStall(fetchCtx, stallCancel, stallCh)

	// counter aggregates OnProgress deltas across concurrently running
	// segment goroutines; d.BytesDownloaded is only ever written back from
	// this (single-threaded) function, never from inside the callback.
	bytesBefore := d.BytesDownloaded
	counter := &byteCounter{n: d.BytesDownloaded}
	f := &Fetcher{
		Client:  client,
		Limiter: e.limiter,
		Headers: resolution.Headers,
		OnProgress: func(delta int64) {
			counter.add(delta)
			if e.progress != nil {
				e.progress.Report(d.ID, delta)
			}
			select {
			case stallCh <- struct{}{}:
			default:
			}
		},
		OnCheckpoint: func(seg Segment) {
			_ = e.store.SaveSegments(ctx, d.ID, []Segment{seg})
		},
	}

	err = f.Fetch(fetchCtx, d.ResolvedURL, segments, tempFile)
	stalled := fetchCtx.Err() != nil
	stallCancel()
	d.BytesDownloaded = counter.load()
	if d.BytesDownloaded > bytesBefore {
		d.StallStrikes = 0
	}

	if err != nil {
		_ = e.store.SaveSegments(context.Background(), d.ID, segments)
		switch {
		case ctx.Err() != nil:
			// Outer context cancelled: a Pause/Delete/Stop request.
			d.TransitionTo(StatusPaused, time.Now())
			_ = e.store.SaveDownload(context.Background(), d)
			e.reportStatus(d)
			return attemptStopped
		case stalled:
			// Only the inner (stall-watchdog) context was cancelled.
			return e.handleStall(context.Background(), d, snap)
		case err == ErrDowngradeToSingleStream:
			// The server answered a ranged GET with 200: replace the plan
			// with one segment and start over from offset 0.
			_ = e.store.ClearSegments(ctx, d.ID)
			_ = e.store.SaveSegments(ctx, d.ID, []Segment{{Ordinal: 0, StartOffset: 0, EndOffset: d.ContentLength.v()}})
			d.BytesDownloaded = 0
			d.SupportsRanges = RangeNo
			_ = e.store.SaveDownload(ctx, d)
			e.reportStatus(d)
			return attemptRetryNow
		default:
			return e.handleFetchError(ctx, d, snap, err)
		}
	}

	if err := Merge(tempFile, d.ContentLength); err != nil {
		e.fail(ctx, d, CodeOf(err), err.Error())
		return attemptDone
	}
	finalPath := filepath.Join(d.DestDir, d.FinalFilename)
	if err := os.Rename(d.TempPath, finalPath); err != nil {
		e.fail(ctx, d, CodeUnknown, err.Error())
		return attemptDone
	}

	d.TransitionTo(StatusCompleted, time.Now())
	_ = e.store.SaveDownload(ctx, d)
	e.reportStatus(d)
	return attemptDone
}

func (e *Engine) loadOrPlanSegments(ctx context.Context, d *Download, probe ProbeResult) ([]Segment, error) {
	existing, err := e.store.LoadSegments(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		if err := ValidateResume(d.ETag, d.LastModified, probe); err != nil {
			return nil, err
		}
		return existing, nil
	}

	segments := PlanSegments(probe.ContentLength, probe.SupportsRanges)
	if err := e.store.SaveSegments(ctx, d.ID, segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// resolveAndReserveFilename implements §4.5 step 5: the chosen name is
// reserved by creating its temp file (dest_dir/<name>.zdmr.part, §6,
// §9's tmp-in-dest-dir rule) before any segment work starts, so two
// concurrent downloads racing ResolveCollision's os.Stat check can never
// both win the same name. If dest_dir isn't writable, the reservation
// falls back to the config dir under the download's ID (§[AMBIENT]
// Configuration), and the final rename happens there too — correct, just
// not same-filesystem-atomic, since that's the best effort available
// when the destination itself refuses the write.
func (e *Engine) resolveAndReserveFilename(ctx context.Context, d *Download, probe ProbeResult) (string, error) {
	name := ResolveFilename(d.ResolvedURL, "")
	if ext := filepath.Ext(name); ext == "" {
		if guessed := extensionForContentType(probe.ContentType); guessed != "" {
			name += guessed
		}
	}
	base, ext := name, ""
	if idx := strings.LastIndex(name, "."); idx > 0 {
		base, ext = name[:idx], name[idx:]
	}

	candidate, err := ResolveCollision(d.DestDir, name)
	if err != nil {
		return "", err
	}

	for n := 1; ; n++ {
		if _, statErr := os.Stat(filepath.Join(d.DestDir, candidate)); statErr == nil {
			// Final name was claimed since the last check (or by the
			// bumped candidate below); move straight to the next variant.
			candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
			continue
		} else if !os.IsNotExist(statErr) {
			return "", NewError(CodeUnknown, "stat destination path", statErr)
		}

		tempPath, reserved, err := reserveTempFile(d.DestDir, candidate, e.tempDir, d.ID)
		if err != nil {
			return "", err
		}
		if reserved {
			d.TempPath = tempPath
			return candidate, nil
		}
		// Lost the .part reservation race for this name; ResolveCollision
		// only checks the final path, which is still free, so calling it
		// again would just hand back this same losing candidate — advance
		// to the next numbered variant ourselves instead.
		candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
	}
}

// reserveTempFile atomically creates dest_dir/<name>.zdmr.part so the
// eventual rename to dest_dir/<name> is same-filesystem (§9). ok is
// false only when that path already exists (a collision race — the
// caller should retry with the next candidate name); any other failure
// to create it is treated as dest_dir being unwritable, and the
// reservation falls back to fallbackDir/<fallbackName>.part instead.
func reserveTempFile(destDir, name, fallbackDir, fallbackName string) (path string, ok bool, err error) {
	path = filepath.Join(destDir, name+".zdmr.part")
	f, ferr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if ferr == nil {
		f.Close()
		return path, true, nil
	}
	if os.IsExist(ferr) {
		return "", false, nil
	}

	path = filepath.Join(fallbackDir, fallbackName+".part")
	f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return "", false, NewError(CodeUnknown, "reserve temp file", err)
	}
	f.Close()
	return path, true, nil
}

func extensionForContentType(ct string) string {
	switch ct {
	case "application/zip":
		return ".zip"
	case "application/pdf":
		return ".pdf"
	case "application/gzip", "application/x-gzip":
		return ".gz"
	case "application/json":
		return ".json"
	case "application/octet-stream":
		return ""
	default:
		return ""
	}
}

// handleFetchError implements §4.7's retryable/non-retryable split and
// mirror fallback for the error surfaced by a probe or fetch attempt.
func (e *Engine) handleFetchError(ctx context.Context, d *Download, snap Snapshot, err error) attemptOutcome {
	code := CodeOf(err)

	if !code.Retryable() {
		e.fail(ctx, d, code, err.Error())
		return attemptDone
	}

	resolution, rerr := Resolve(snap, d.OriginalURL, d.ForcedProxy)
	if rerr == nil && len(resolution.Mirrors) > 0 {
		if d.TriedMirrors == nil {
			d.TriedMirrors = make(map[string]bool)
		}
		for _, mirror := range resolution.Mirrors {
			if d.TriedMirrors[mirror] {
				continue
			}
			rewritten, serr := SubstituteMirror(d.OriginalURL, mirror)
			if serr != nil {
				continue
			}
			d.TriedMirrors[mirror] = true
			d.ResolvedURL = rewritten
			d.MirrorUsed = mirror
			_ = e.store.SaveDownload(ctx, d)
			return attemptRetryNow
		}
	}

	e.fail(ctx, d, code, err.Error())
	return attemptDone
}

// fail transitions d to ERROR and persists it.
func (e *Engine) fail(ctx context.Context, d *Download, code Code, message string) {
	d.MarkError(code, message, time.Now())
	_ = e.store.SaveDownload(ctx, d)
	e.reportStatus(d)
	if e.log != nil {
		e.log.Warning("download %s failed: %s: %s", d.ID, code, message)
	}
}

// watchStall implements §4.7's stall watchdog: if no byte progress
// arrives on ch within StallWindow while ctx is live, it calls cancel so
// the in-flight fetch tears down and the caller restarts after backoff.
func (e *Engine) watchStall(ctx context.Context, cancel context.CancelFunc, ch <-chan struct{}) {
	timer := time.NewTimer(StallWindow)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(StallWindow)
		case <-timer.C:
			cancel()
			return
		}
	}
}

// handleStall implements the backoff-then-requeue half of §4.7's stall
// watchdog: sleep BackoffForStrike(d.StallStrikes+1), bump the strike
// counter, and either requeue or give up with TIMEOUT after
// MaxStallStrikes.
func (e *Engine) handleStall(ctx context.Context, d *Download, snap Snapshot) attemptOutcome {
	d.StallStrikes++
	if d.StallStrikes >= MaxStallStrikes {
		e.fail(ctx, d, CodeTimeout, fmt.Sprintf("stalled %d consecutive times", d.StallStrikes))
		return attemptDone
	}
	delay := BackoffForStrike(d.StallStrikes)
	if e.log != nil {
		e.log.Info("download %s stalled, retrying in %s", d.ID, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return attemptRetryNow
	case <-ctx.Done():
		return attemptStopped
	}
}
