package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForErr maps a store/engine error to the status codes named in
// §6: "400 for malformed input, 401 for auth, 404 for unknown ID, 409
// if operation invalid for current status, 500 for internal."
func statusForErr(err error) int {
	switch {
	case errors.Is(err, zdmr.ErrDownloadNotFound), errors.Is(err, zdmr.ErrBatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, zdmr.ErrInvalidStateTransition):
		return http.StatusConflict
	case zdmr.CodeOf(err) == zdmr.CodeInvalidURL:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type createDownloadsRequest struct {
	URLs    []string `json:"urls"`
	DestDir string   `json:"dest_dir"`
}

type createDownloadsResponse struct {
	IDs []string `json:"ids"`
}

// handleCreateDownloads is POST /downloads (§6).
func (s *Server) handleCreateDownloads(w http.ResponseWriter, r *http.Request) {
	var req createDownloadsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	urls := filterHTTPURLs(req.URLs)
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "no valid http(s) urls")
		return
	}

	downloads, err := s.engine.Add(r.Context(), urls, req.DestDir, zdmr.AddOpts{})
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	ids := make([]string, len(downloads))
	for i, d := range downloads {
		ids[i] = d.ID
	}
	writeJSON(w, http.StatusCreated, createDownloadsResponse{IDs: ids})
}

type createBatchRequest struct {
	Name                 string   `json:"name"`
	DestDir              string   `json:"dest_dir"`
	RawURLList           string   `json:"raw_url_list"`
	URLs                 []string `json:"urls"`
	DownloadThroughProxy bool     `json:"download_through_proxy"`
}

type createBatchResponse struct {
	BatchID string   `json:"batch_id"`
	IDs     []string `json:"ids"`
}

// handleCreateBatch is POST /batches (§6): merges `urls` with
// whitespace-split, http/https-filtered entries from `raw_url_list`.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	all := append([]string{}, req.URLs...)
	all = append(all, strings.Fields(req.RawURLList)...)
	urls := filterHTTPURLs(all)
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "no valid http(s) urls")
		return
	}
	if req.DestDir == "" {
		writeError(w, http.StatusBadRequest, "dest_dir is required")
		return
	}

	batch, downloads, err := s.engine.AddBatch(r.Context(), urls, req.DestDir, req.DownloadThroughProxy)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}

	ids := make([]string, len(downloads))
	for i, d := range downloads {
		ids[i] = d.ID
	}
	writeJSON(w, http.StatusCreated, createBatchResponse{BatchID: batch.ID, IDs: ids})
}

// filterHTTPURLs keeps only entries that parse as http/https URLs,
// matching §6's "filter to http/https" rule for raw_url_list parsing.
func filterHTTPURLs(candidates []string) []string {
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		u, err := url.Parse(c)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Pause(r.Context(), id); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Resume(r.Context(), id); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Retry(r.Context(), id); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Delete(r.Context(), id); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
