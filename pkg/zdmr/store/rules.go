package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

// flatHeaderEntry is the "flat form" header-rule payload shape named in
// §9: an explicit list of (name, value, mode) triples.
type flatHeaderEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Mode  string `json:"mode"`
}

// NormalizeHeaderEntries reconciles the two wire shapes a header rule's
// payload may arrive in — "map form" (`{"User-Agent": "..."}`, always
// override mode) or "flat form" (`[{"name","value","mode"}]`) — into the
// single internal `[]zdmr.Header` representation, per §9's "normalize at
// load time... to keep the hot path free of shape checks."
func NormalizeHeaderEntries(raw json.RawMessage) ([]zdmr.Header, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var flat []flatHeaderEntry
	if err := json.Unmarshal(raw, &flat); err == nil {
		out := make([]zdmr.Header, len(flat))
		for i, f := range flat {
			out[i] = zdmr.Header{Key: f.Name, Value: f.Value, Mode: parseHeaderMode(f.Mode)}
		}
		return out, nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		out := make([]zdmr.Header, 0, len(asMap))
		for k, v := range asMap {
			out = append(out, zdmr.Header{Key: k, Value: v, Mode: zdmr.ModeOverride})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
		return out, nil
	}

	return nil, fmt.Errorf("header rule payload is neither map form nor flat form")
}

func parseHeaderMode(mode string) zdmr.HeaderMode {
	switch mode {
	case "add_if_missing", "add":
		return zdmr.ModeAddIfMissing
	default:
		return zdmr.ModeOverride
	}
}

// UpsertRule inserts or updates a Rule. r.ID == 0 assigns a new
// monotonic ID; r.ID > 0 updates that row (creating it if absent, for
// idempotent replay); r.ID < 0 is rejected (§4.1: "negatives are UI-only
// placeholders"). Returns the assigned/confirmed ID.
func (db *DB) UpsertRule(ctx context.Context, r *zdmr.Rule) (int64, error) {
	if r.ID < 0 {
		return 0, zdmr.ErrNegativeRuleID
	}

	headerJSON, err := json.Marshal(r.HeaderEntries)
	if err != nil {
		return 0, fmt.Errorf("marshal header entries: %w", err)
	}
	mirrorJSON, err := json.Marshal(r.MirrorCandidates)
	if err != nil {
		return 0, fmt.Errorf("marshal mirror candidates: %w", err)
	}
	enabled, useProxy := boolToInt(r.Enabled), boolToInt(r.UseProxy)

	if r.ID == 0 {
		res, err := db.conn.ExecContext(ctx, `
			INSERT INTO rules (kind, pattern, enabled, use_proxy, proxy_url_override, header_entries, mirror_candidates)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(r.Kind), r.Pattern, enabled, useProxy, r.ProxyURLOverride, string(headerJSON), string(mirrorJSON))
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		r.ID = id
		return id, nil
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO rules (id, kind, pattern, enabled, use_proxy, proxy_url_override, header_entries, mirror_candidates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			pattern = excluded.pattern,
			enabled = excluded.enabled,
			use_proxy = excluded.use_proxy,
			proxy_url_override = excluded.proxy_url_override,
			header_entries = excluded.header_entries,
			mirror_candidates = excluded.mirror_candidates
	`, r.ID, string(r.Kind), r.Pattern, enabled, useProxy, r.ProxyURLOverride, string(headerJSON), string(mirrorJSON))
	if err != nil {
		return 0, err
	}
	return r.ID, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DeleteRule removes a rule by ID.
func (db *DB) DeleteRule(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	return err
}

// ListRules returns every rule, ID-ascending (the tie-break order the
// Rule Engine relies on, §4.2).
func (db *DB) ListRules(ctx context.Context) ([]zdmr.Rule, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, kind, pattern, enabled, use_proxy, proxy_url_override, header_entries, mirror_candidates
		FROM rules ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []zdmr.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRule(row *sql.Rows) (zdmr.Rule, error) {
	var r zdmr.Rule
	var kind string
	var enabled, useProxy int
	var headerJSON, mirrorJSON string

	if err := row.Scan(&r.ID, &kind, &r.Pattern, &enabled, &useProxy, &r.ProxyURLOverride, &headerJSON, &mirrorJSON); err != nil {
		return r, err
	}
	r.Kind = zdmr.RuleKind(kind)
	r.Enabled = enabled != 0
	r.UseProxy = useProxy != 0
	if err := json.Unmarshal([]byte(headerJSON), &r.HeaderEntries); err != nil {
		return r, fmt.Errorf("unmarshal header entries for rule %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(mirrorJSON), &r.MirrorCandidates); err != nil {
		return r, fmt.Errorf("unmarshal mirror candidates for rule %d: %w", r.ID, err)
	}
	return r, nil
}

// RuleSnapshot assembles the copy-on-read Settings+Rules view the Rule
// Engine consumes once per fetch attempt (§4.2, §5).
func (db *DB) RuleSnapshot(ctx context.Context) (zdmr.Snapshot, error) {
	settings, err := db.LoadSettings(ctx)
	if err != nil {
		return zdmr.Snapshot{}, err
	}
	rules, err := db.ListRules(ctx)
	if err != nil {
		return zdmr.Snapshot{}, err
	}
	return zdmr.Snapshot{Settings: settings, Rules: rules}, nil
}
