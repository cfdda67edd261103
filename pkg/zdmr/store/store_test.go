package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zdmr.sqlite3")
	db, err := Open(t.Context(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_SeedsTokenOnFirstRun(t *testing.T) {
	db := openTestDB(t)
	token, err := db.Token(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(token) != 64 { // 32 random bytes, hex-encoded
		t.Errorf("token length = %d, want 64", len(token))
	}
}

func TestOpen_TokenStableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zdmr.sqlite3")
	db1, err := Open(t.Context(), path)
	if err != nil {
		t.Fatal(err)
	}
	token1, err := db1.Token(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	db1.Close()

	db2, err := Open(t.Context(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	token2, err := db2.Token(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if token1 != token2 {
		t.Error("token changed across reopen, want stable per §4.1")
	}
}

func TestSettings_GetSetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if err := db.SetSetting(t.Context(), KeyTheme, "dark"); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetSetting(t.Context(), KeyTheme)
	if err != nil {
		t.Fatal(err)
	}
	if got != "dark" {
		t.Errorf("got %q, want dark", got)
	}
}

func TestSettings_UpsertOverwrites(t *testing.T) {
	db := openTestDB(t)
	db.SetSetting(t.Context(), KeyTheme, "dark")
	db.SetSetting(t.Context(), KeyTheme, "light")
	got, err := db.GetSetting(t.Context(), KeyTheme)
	if err != nil {
		t.Fatal(err)
	}
	if got != "light" {
		t.Errorf("got %q, want light after overwrite", got)
	}
}

func TestLoadSettings_DefaultsWhenAbsent(t *testing.T) {
	db := openTestDB(t)
	s, err := db.LoadSettings(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if s.GlobalBandwidthLimitBps != 0 || s.GlobalProxyEnabled || s.GlobalProxyURL != "" || s.DefaultDownloadDir != "" {
		t.Errorf("LoadSettings with nothing persisted = %+v, want all zero values", s)
	}
}

func TestLoadSettings_ReadsPersistedValues(t *testing.T) {
	db := openTestDB(t)
	db.SetSetting(t.Context(), KeyGlobalBandwidthLimit, "5000000")
	db.SetSetting(t.Context(), KeyGlobalProxyEnabled, "true")
	db.SetSetting(t.Context(), KeyGlobalProxyURL, "http://proxy:8080")

	s, err := db.LoadSettings(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if s.GlobalBandwidthLimitBps != 5000000 || !s.GlobalProxyEnabled || s.GlobalProxyURL != "http://proxy:8080" {
		t.Errorf("LoadSettings = %+v, want the persisted values", s)
	}
}

func sampleDownload(id string) *zdmr.Download {
	now := time.Now().Truncate(time.Second)
	return &zdmr.Download{
		ID:              id,
		OriginalURL:     "https://example.com/file.zip",
		ResolvedURL:     "https://example.com/file.zip",
		DestDir:         "/tmp/downloads",
		ContentLength:   zdmr.ContentLength(1000),
		SupportsRanges:  zdmr.RangeYes,
		Status:          zdmr.StatusQueued,
		BytesDownloaded: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestDownload_SaveLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)
	d := sampleDownload("dl-1")
	d.TriedMirrors = map[string]bool{"https://mirror.example": true}

	if err := db.SaveDownload(t.Context(), d); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadDownload(t.Context(), "dl-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.OriginalURL != d.OriginalURL || got.ContentLength != d.ContentLength || got.Status != d.Status {
		t.Errorf("round-tripped download = %+v, want it to match %+v", got, d)
	}
	if !got.TriedMirrors["https://mirror.example"] {
		t.Error("TriedMirrors did not round-trip")
	}
}

func TestDownload_SaveIsUpsert(t *testing.T) {
	db := openTestDB(t)
	d := sampleDownload("dl-1")
	db.SaveDownload(t.Context(), d)

	d.Status = zdmr.StatusDownloading
	d.BytesDownloaded = 500
	if err := db.SaveDownload(t.Context(), d); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadDownload(t.Context(), "dl-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != zdmr.StatusDownloading || got.BytesDownloaded != 500 {
		t.Errorf("got %+v, want the updated row, not a duplicate", got)
	}
}

func TestLoadDownload_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.LoadDownload(t.Context(), "missing")
	if err != zdmr.ErrDownloadNotFound {
		t.Errorf("got %v, want ErrDownloadNotFound", err)
	}
}

func TestListByStatus_FiltersAndOrders(t *testing.T) {
	db := openTestDB(t)
	d1 := sampleDownload("dl-1")
	d1.Status = zdmr.StatusQueued
	d1.CreatedAt = time.Now().Add(-time.Hour)
	d2 := sampleDownload("dl-2")
	d2.Status = zdmr.StatusQueued
	d2.CreatedAt = time.Now()
	d3 := sampleDownload("dl-3")
	d3.Status = zdmr.StatusCompleted

	for _, d := range []*zdmr.Download{d1, d2, d3} {
		if err := db.SaveDownload(t.Context(), d); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListByStatus(t.Context(), zdmr.StatusQueued)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d downloads, want 2 QUEUED", len(got))
	}
	if got[0].ID != "dl-2" {
		t.Errorf("newest-first order violated: got[0].ID = %q, want dl-2", got[0].ID)
	}
}

func TestDeleteDownload_CascadesSegments(t *testing.T) {
	db := openTestDB(t)
	d := sampleDownload("dl-1")
	db.SaveDownload(t.Context(), d)
	segs := []zdmr.Segment{{Ordinal: 0, StartOffset: 0, EndOffset: 1000}}
	if err := db.SaveSegments(t.Context(), "dl-1", segs); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteDownload(t.Context(), "dl-1"); err != nil {
		t.Fatal(err)
	}

	loaded, err := db.LoadSegments(t.Context(), "dl-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("got %d segments after deleting the parent download, want 0 (cascade)", len(loaded))
	}
}

func TestClearCompleted_OnlyRemovesCompleted(t *testing.T) {
	db := openTestDB(t)
	d1 := sampleDownload("dl-1")
	d1.Status = zdmr.StatusCompleted
	d2 := sampleDownload("dl-2")
	d2.Status = zdmr.StatusQueued
	db.SaveDownload(t.Context(), d1)
	db.SaveDownload(t.Context(), d2)

	if err := db.ClearCompleted(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, err := db.LoadDownload(t.Context(), "dl-1"); err != zdmr.ErrDownloadNotFound {
		t.Error("completed download should have been cleared")
	}
	if _, err := db.LoadDownload(t.Context(), "dl-2"); err != nil {
		t.Error("queued download should survive ClearCompleted")
	}
}

func TestSegments_SaveLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)
	db.SaveDownload(t.Context(), sampleDownload("dl-1"))

	segs := []zdmr.Segment{
		{Ordinal: 0, StartOffset: 0, EndOffset: 500, BytesWritten: 100},
		{Ordinal: 1, StartOffset: 500, EndOffset: 1000, BytesWritten: 0, Done: false},
	}
	if err := db.SaveSegments(t.Context(), "dl-1", segs); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadSegments(t.Context(), "dl-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Ordinal != 0 || got[1].Ordinal != 1 {
		t.Fatalf("got %+v, want two segments in ordinal order", got)
	}
	if got[0].BytesWritten != 100 {
		t.Errorf("BytesWritten = %d, want 100", got[0].BytesWritten)
	}
}

func TestSegments_SaveIsUpsertPerOrdinal(t *testing.T) {
	db := openTestDB(t)
	db.SaveDownload(t.Context(), sampleDownload("dl-1"))

	db.SaveSegments(t.Context(), "dl-1", []zdmr.Segment{{Ordinal: 0, StartOffset: 0, EndOffset: 500, BytesWritten: 100}})
	db.SaveSegments(t.Context(), "dl-1", []zdmr.Segment{{Ordinal: 0, StartOffset: 0, EndOffset: 500, BytesWritten: 500, Done: true}})

	got, err := db.LoadSegments(t.Context(), "dl-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows for ordinal 0, want 1 (upsert, not insert)", len(got))
	}
	if !got[0].Done || got[0].BytesWritten != 500 {
		t.Errorf("got %+v, want the checkpoint overwritten", got[0])
	}
}

func TestClearSegments(t *testing.T) {
	db := openTestDB(t)
	db.SaveDownload(t.Context(), sampleDownload("dl-1"))
	db.SaveSegments(t.Context(), "dl-1", []zdmr.Segment{{Ordinal: 0, StartOffset: 0, EndOffset: 500}})

	if err := db.ClearSegments(t.Context(), "dl-1"); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadSegments(t.Context(), "dl-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d segments after ClearSegments, want 0", len(got))
	}
}

func TestBatch_SaveLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)
	b := &zdmr.Batch{ID: "batch-1", DestDir: "/tmp/downloads", ForcedProxy: true, CreatedAt: time.Now().Truncate(time.Second)}
	if err := db.SaveBatch(t.Context(), b); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadBatch(t.Context(), "batch-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DestDir != b.DestDir || !got.ForcedProxy {
		t.Errorf("got %+v, want it to match %+v", got, b)
	}
}

func TestLoadBatch_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.LoadBatch(t.Context(), "missing")
	if err != zdmr.ErrBatchNotFound {
		t.Errorf("got %v, want ErrBatchNotFound", err)
	}
}

func TestListByBatch_ReturnsOnlyMembers(t *testing.T) {
	db := openTestDB(t)
	b := &zdmr.Batch{ID: "batch-1", DestDir: "/tmp/downloads", CreatedAt: time.Now().Truncate(time.Second)}
	if err := db.SaveBatch(t.Context(), b); err != nil {
		t.Fatal(err)
	}
	d1 := sampleDownload("dl-1")
	d1.BatchID = "batch-1"
	d1.CreatedAt = time.Now().Add(-time.Hour)
	d2 := sampleDownload("dl-2")
	d2.BatchID = "batch-1"
	d2.CreatedAt = time.Now()
	d3 := sampleDownload("dl-3") // no batch
	for _, d := range []*zdmr.Download{d1, d2, d3} {
		if err := db.SaveDownload(t.Context(), d); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListByBatch(t.Context(), "batch-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d downloads, want 2 batch members", len(got))
	}
	if got[0].ID != "dl-1" || got[1].ID != "dl-2" {
		t.Errorf("got %+v, want oldest-created-first order", got)
	}
}

func TestDeleteBatch_RemovesBatchRowOnly(t *testing.T) {
	db := openTestDB(t)
	b := &zdmr.Batch{ID: "batch-1", DestDir: "/tmp/downloads", CreatedAt: time.Now().Truncate(time.Second)}
	if err := db.SaveBatch(t.Context(), b); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteBatch(t.Context(), "batch-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.LoadBatch(t.Context(), "batch-1"); err != zdmr.ErrBatchNotFound {
		t.Errorf("got %v, want ErrBatchNotFound after DeleteBatch", err)
	}
}

func TestRules_UpsertAssignsIDOnZero(t *testing.T) {
	db := openTestDB(t)
	r := &zdmr.Rule{Kind: zdmr.RuleProxy, Pattern: "example.com", Enabled: true, UseProxy: true, ProxyURLOverride: "http://proxy:8080"}
	id, err := db.UpsertRule(t.Context(), r)
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Error("expected a non-zero assigned ID")
	}
	if r.ID != id {
		t.Error("UpsertRule should write the assigned ID back onto r")
	}
}

func TestRules_UpsertRejectsNegativeID(t *testing.T) {
	db := openTestDB(t)
	r := &zdmr.Rule{ID: -1, Kind: zdmr.RuleProxy, Pattern: "example.com"}
	if _, err := db.UpsertRule(t.Context(), r); err != zdmr.ErrNegativeRuleID {
		t.Errorf("got %v, want ErrNegativeRuleID", err)
	}
}

func TestRules_UpsertWithPositiveIDReplays(t *testing.T) {
	db := openTestDB(t)
	r := &zdmr.Rule{ID: 42, Kind: zdmr.RuleHeader, Pattern: "example.com", Enabled: true,
		HeaderEntries: []zdmr.Header{{Key: "User-Agent", Value: "custom", Mode: zdmr.ModeOverride}}}
	if _, err := db.UpsertRule(t.Context(), r); err != nil {
		t.Fatal(err)
	}

	r.Pattern = "updated.example.com"
	if _, err := db.UpsertRule(t.Context(), r); err != nil {
		t.Fatal(err)
	}

	rules, err := db.ListRules(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1 (replay should update, not duplicate)", len(rules))
	}
	if rules[0].Pattern != "updated.example.com" {
		t.Errorf("Pattern = %q, want updated.example.com", rules[0].Pattern)
	}
}

func TestRules_ListOrderedByID(t *testing.T) {
	db := openTestDB(t)
	db.UpsertRule(t.Context(), &zdmr.Rule{ID: 5, Kind: zdmr.RuleProxy, Pattern: "a.com"})
	db.UpsertRule(t.Context(), &zdmr.Rule{ID: 2, Kind: zdmr.RuleProxy, Pattern: "b.com"})
	db.UpsertRule(t.Context(), &zdmr.Rule{ID: 9, Kind: zdmr.RuleProxy, Pattern: "c.com"})

	rules, err := db.ListRules(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 3 || rules[0].ID != 2 || rules[1].ID != 5 || rules[2].ID != 9 {
		t.Errorf("got %+v, want ascending ID order", rules)
	}
}

func TestRules_Delete(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.UpsertRule(t.Context(), &zdmr.Rule{Kind: zdmr.RuleMirror, Pattern: "example.com"})
	if err := db.DeleteRule(t.Context(), id); err != nil {
		t.Fatal(err)
	}
	rules, err := db.ListRules(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 0 {
		t.Errorf("got %d rules after delete, want 0", len(rules))
	}
}

func TestRuleSnapshot_CombinesSettingsAndRules(t *testing.T) {
	db := openTestDB(t)
	db.SetSetting(t.Context(), KeyGlobalProxyEnabled, "true")
	db.SetSetting(t.Context(), KeyGlobalProxyURL, "http://global:80")
	db.UpsertRule(t.Context(), &zdmr.Rule{Kind: zdmr.RuleProxy, Pattern: "example.com", Enabled: true})

	snap, err := db.RuleSnapshot(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Settings.GlobalProxyEnabled || snap.Settings.GlobalProxyURL != "http://global:80" {
		t.Errorf("snapshot settings = %+v, want the persisted globals", snap.Settings)
	}
	if len(snap.Rules) != 1 {
		t.Errorf("got %d rules in snapshot, want 1", len(snap.Rules))
	}
}

func TestNormalizeHeaderEntries_FlatForm(t *testing.T) {
	raw := json.RawMessage(`[{"name":"User-Agent","value":"custom","mode":"override"}]`)
	got, err := NormalizeHeaderEntries(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "User-Agent" || got[0].Value != "custom" || got[0].Mode != zdmr.ModeOverride {
		t.Errorf("got %+v, want the flat-form entry parsed", got)
	}
}

func TestNormalizeHeaderEntries_MapFormSortedByKey(t *testing.T) {
	raw := json.RawMessage(`{"X-Zebra":"z","Accept":"a"}`)
	got, err := NormalizeHeaderEntries(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Key != "Accept" || got[1].Key != "X-Zebra" {
		t.Errorf("got %+v, want map-form entries sorted by key", got)
	}
	for _, h := range got {
		if h.Mode != zdmr.ModeOverride {
			t.Errorf("map-form entry %+v should always be ModeOverride", h)
		}
	}
}

func TestNormalizeHeaderEntries_Empty(t *testing.T) {
	got, err := NormalizeHeaderEntries(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for empty input", got)
	}
}
