package zdmr

import (
	"sync"
	"time"

	"github.com/VividCortex/ewma"
)

// ProgressTick is the Progress Bus's wake cadence (§4.8).
const ProgressTick = 250 * time.Millisecond

// ewmaAlpha is the smoothing factor used by the throughput estimate
// (§4.8: "α=0.3 over 1s windows").
const ewmaAlpha = 0.3

// ProgressSnapshot is one Download's state as of a progress batch emission.
type ProgressSnapshot struct {
	DownloadID      string
	Status          Status
	BytesDownloaded int64
	ContentLength   ContentLength
	SpeedBps        float64
	ETA             time.Duration // 0 means unknown/unavailable
	HasETA          bool
}

// ProgressBatch is the §4.8 `ProgressBatch` event payload.
type ProgressBatch struct {
	Updates []ProgressSnapshot
}

// DownloadsChanged is the §4.8 `DownloadsChanged` event payload: a
// structural change (status transition, add, delete) rather than a byte
// update.
type DownloadsChanged struct {
	DownloadID string
	Status     Status
	Deleted    bool
}

// Subscriber receives batched progress snapshots and structural change
// events. The Control API's SSE stream (§4.9, §6) is the primary
// consumer.
type Subscriber interface {
	OnProgressBatch(batch ProgressBatch)
	OnDownloadsChanged(change DownloadsChanged)
}

type trackedDownload struct {
	bytesDownloaded int64
	contentLength   ContentLength
	status          Status
	avg             ewma.MovingAverage
	lastSampleAt    time.Time
	lastSampleBytes int64
	dirty           bool
}

// Bus implements the Progress Bus (§4.8): the Fetcher reports raw byte
// deltas via Report, the Engine reports structural changes via
// ReportStatus, and a background goroutine wakes every ProgressTick to
// compute EWMA speed/ETA and fan out one coalesced ProgressBatch to
// every subscriber. Missed wakeups never queue: each tick only emits
// what changed since the last one.
type Bus struct {
	mu          sync.Mutex
	tracked     map[string]*trackedDownload
	subscribers map[*subscriberHandle]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

type subscriberHandle struct {
	sub Subscriber
}

// NewBus constructs a Bus. Call Run to start its periodic tick in a
// goroutine, and Stop to shut it down.
func NewBus() *Bus {
	return &Bus{
		tracked:     make(map[string]*trackedDownload),
		subscribers: make(map[*subscriberHandle]struct{}),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Subscribe registers sub to receive future batches and change events.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(sub Subscriber) func() {
	h := &subscriberHandle{sub: sub}
	b.mu.Lock()
	b.subscribers[h] = struct{}{}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, h)
		b.mu.Unlock()
	}
}

// Report implements ProgressSink: records a raw byte delta for a
// Download, pushed by the Fetcher on every buffer (§4.6 step 4, §4.8).
func (b *Bus) Report(downloadID string, deltaBytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.trackedOrNewLocked(downloadID)
	t.bytesDownloaded += deltaBytes
	t.dirty = true
}

// ReportStatus registers a structural change and seeds/updates tracking
// state for downloadID (§4.8's DownloadsChanged event).
func (b *Bus) ReportStatus(downloadID string, status Status, contentLength ContentLength, bytesDownloaded int64, deleted bool) {
	b.mu.Lock()
	if deleted {
		delete(b.tracked, downloadID)
	} else {
		t := b.trackedOrNewLocked(downloadID)
		t.status = status
		t.contentLength = contentLength
		t.bytesDownloaded = bytesDownloaded
		t.dirty = true
	}
	b.mu.Unlock()

	b.broadcastChange(DownloadsChanged{DownloadID: downloadID, Status: status, Deleted: deleted})
}

func (b *Bus) trackedOrNewLocked(downloadID string) *trackedDownload {
	t, ok := b.tracked[downloadID]
	if !ok {
		// ewma takes an age, not a factor: age 2/α-1 gives decay α.
		t = &trackedDownload{avg: ewma.NewMovingAverage(2/ewmaAlpha - 1), lastSampleAt: time.Now()}
		b.tracked[downloadID] = t
	}
	return t
}

// Run starts the periodic tick loop; it blocks until Stop is called.
// Intended to be launched with `go bus.Run()`.
func (b *Bus) Run() {
	ticker := time.NewTicker(ProgressTick)
	defer ticker.Stop()
	defer close(b.doneCh)
	for {
		select {
		case <-b.stopCh:
			return
		case now := <-ticker.C:
			b.tick(now)
		}
	}
}

// Stop halts the tick loop and waits for it to exit.
func (b *Bus) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *Bus) tick(now time.Time) {
	var updates []ProgressSnapshot

	b.mu.Lock()
	for id, t := range b.tracked {
		if !t.dirty {
			continue
		}
		elapsed := now.Sub(t.lastSampleAt).Seconds()
		if elapsed > 0 {
			deltaBytes := t.bytesDownloaded - t.lastSampleBytes
			instRate := float64(deltaBytes) / elapsed
			if t.avg.Value() == 0 {
				// Seed the average so it does not read 0 through ewma's
				// warm-up samples.
				t.avg.Set(instRate)
			} else {
				t.avg.Add(instRate)
			}
		}
		t.lastSampleAt = now
		t.lastSampleBytes = t.bytesDownloaded
		t.dirty = false

		snap := ProgressSnapshot{
			DownloadID:      id,
			Status:          t.status,
			BytesDownloaded: t.bytesDownloaded,
			ContentLength:   t.contentLength,
			SpeedBps:        t.avg.Value(),
		}
		if snap.SpeedBps > 0 && !t.contentLength.IsUnknown() {
			remaining := t.contentLength.v() - t.bytesDownloaded
			if remaining > 0 {
				snap.ETA = time.Duration(float64(remaining) / snap.SpeedBps * float64(time.Second))
				snap.HasETA = true
			}
		}
		updates = append(updates, snap)
	}
	b.mu.Unlock()

	if len(updates) == 0 {
		return
	}
	b.broadcastBatch(ProgressBatch{Updates: updates})
}

func (b *Bus) broadcastBatch(batch ProgressBatch) {
	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for h := range b.subscribers {
		subs = append(subs, h.sub)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.OnProgressBatch(batch)
	}
}

func (b *Bus) broadcastChange(change DownloadsChanged) {
	b.mu.Lock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for h := range b.subscribers {
		subs = append(subs, h.sub)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.OnDownloadsChanged(change)
	}
}
