package zdmr

import (
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu      sync.Mutex
	batches []ProgressBatch
	changes []DownloadsChanged
}

func (r *recordingSubscriber) OnProgressBatch(batch ProgressBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *recordingSubscriber) OnDownloadsChanged(change DownloadsChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingSubscriber) changeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recordingSubscriber) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestBus_ReportStatus_BroadcastsChangeSynchronously(t *testing.T) {
	b := NewBus()
	sub := &recordingSubscriber{}
	unsubscribe := b.Subscribe(sub)
	defer unsubscribe()

	b.ReportStatus("dl-1", StatusDownloading, ContentLength(100), 0, false)
	if sub.changeCount() != 1 {
		t.Fatalf("got %d change events, want 1", sub.changeCount())
	}
	if sub.changes[0].DownloadID != "dl-1" || sub.changes[0].Status != StatusDownloading {
		t.Errorf("change = %+v, want DownloadID=dl-1 Status=DOWNLOADING", sub.changes[0])
	}
}

func TestBus_Unsubscribe_StopsDelivery(t *testing.T) {
	b := NewBus()
	sub := &recordingSubscriber{}
	unsubscribe := b.Subscribe(sub)
	unsubscribe()

	b.ReportStatus("dl-1", StatusQueued, Unknown, 0, false)
	if sub.changeCount() != 0 {
		t.Errorf("got %d change events after unsubscribe, want 0", sub.changeCount())
	}
}

// TestBus_Tick_EmitsOnlyDirtyDownloads exercises the coalescing behavior
// of §4.8: a tick only reports downloads whose byte count changed since
// the previous tick.
func TestBus_Tick_EmitsOnlyDirtyDownloads(t *testing.T) {
	b := NewBus()
	sub := &recordingSubscriber{}
	defer b.Subscribe(sub)()

	b.Report("dl-1", 1024)
	b.tick(time.Now())
	if sub.batchCount() != 1 {
		t.Fatalf("got %d batches after first tick, want 1", sub.batchCount())
	}
	if len(sub.batches[0].Updates) != 1 || sub.batches[0].Updates[0].DownloadID != "dl-1" {
		t.Errorf("batch updates = %+v, want one update for dl-1", sub.batches[0].Updates)
	}

	// Second tick with no new bytes reported: nothing is dirty, so no
	// batch should be emitted.
	b.tick(time.Now())
	if sub.batchCount() != 1 {
		t.Errorf("got %d batches after a no-op tick, want still 1", sub.batchCount())
	}
}

func TestBus_Tick_ComputesETAWhenLengthKnown(t *testing.T) {
	b := NewBus()
	sub := &recordingSubscriber{}
	defer b.Subscribe(sub)()

	b.ReportStatus("dl-1", StatusDownloading, ContentLength(1000), 0, false)
	start := time.Now()
	b.Report("dl-1", 500)
	b.tick(start.Add(1 * time.Second))

	if sub.batchCount() != 1 {
		t.Fatalf("got %d batches, want 1", sub.batchCount())
	}
	snap := sub.batches[0].Updates[0]
	if !snap.HasETA {
		t.Error("expected HasETA = true once speed and content length are known")
	}
	if snap.SpeedBps <= 0 {
		t.Errorf("SpeedBps = %f, want > 0", snap.SpeedBps)
	}
}

func TestBus_ReportStatus_DeletedRemovesTracking(t *testing.T) {
	b := NewBus()
	b.ReportStatus("dl-1", StatusDownloading, ContentLength(100), 50, false)
	b.ReportStatus("dl-1", StatusDownloading, ContentLength(100), 50, true)

	b.mu.Lock()
	_, tracked := b.tracked["dl-1"]
	b.mu.Unlock()
	if tracked {
		t.Error("deleted download should no longer be tracked")
	}
}

func TestBus_StartStop(t *testing.T) {
	b := NewBus()
	go b.Run()
	time.Sleep(10 * time.Millisecond)
	b.Stop()
}
