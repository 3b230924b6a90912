package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/ingest"
	"github.com/groundline/groundline/internal/query"
	"github.com/groundline/groundline/internal/rag/eval"
	"github.com/groundline/groundline/pkg/models"
)

// multipartSlack covers boundary and header overhead beyond the raw file
// bytes when capping the request body.
const multipartSlack = 1 << 20

// historyDefaultLimit and historyMaxLimit bound the /history page size.
const (
	historyDefaultLimit = 50
	historyMaxLimit     = 200
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes+multipartSlack)
	if err := r.ParseMultipartForm(s.cfg.MaxRequestBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, errdefs.RequestTooLarge("upload exceeds the request size limit"))
			return
		}
		s.writeError(w, r, errdefs.InvalidInput("malformed multipart body"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if raw := r.FormValue("metadata"); raw != "" && !json.Valid([]byte(raw)) {
		s.writeError(w, r, errdefs.InvalidInput("metadata is not valid JSON"))
		return
	}

	// Form-file map iteration order is random; sort the field names so
	// per-document statuses come back in a stable order.
	fields := make([]string, 0, len(r.MultipartForm.File))
	for name := range r.MultipartForm.File {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var files []ingest.File
	for _, name := range fields {
		for _, fh := range r.MultipartForm.File[name] {
			f, err := fh.Open()
			if err != nil {
				s.writeError(w, r, errdefs.InvalidInput("unreadable file part "+fh.Filename))
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				s.writeError(w, r, errdefs.InvalidInput("unreadable file part "+fh.Filename))
				return
			}
			files = append(files, ingest.File{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	result, err := s.deps.Ingest.Ingest(r.Context(), ingest.Submission{
		UploaderID: caller.UserID,
		ClientKey:  caller.UserID,
		Files:      files,
	})
	if err != nil {
		var extra map[string]any
		if result != nil {
			extra = map[string]any{"per_doc_status": result.PerDoc}
		}
		s.writeErrorWith(w, r, err, extra)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type queryRequest struct {
	Question   string `json:"question"`
	TopK       int    `json:"top_k"`
	SessionID  string `json:"session_id"`
	UseHistory bool   `json:"use_history"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errdefs.InvalidInput("malformed JSON body"))
		return
	}

	result, err := s.deps.Query.Query(r.Context(), query.Request{
		Question:   req.Question,
		UserID:     caller.UserID,
		ClientKey:  caller.UserID,
		SessionID:  req.SessionID,
		UseHistory: req.UseHistory,
		TopK:       req.TopK,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	sessionID := r.PathValue("session_id")

	limit, offset, err := pageParams(r, historyDefaultLimit, historyMaxLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	meta, err := s.deps.Sessions.GetMeta(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if meta.UserID != caller.UserID {
		s.writeError(w, r, errdefs.Forbidden("session belongs to another user"))
		return
	}

	messages, total, err := s.deps.Sessions.Messages(r.Context(), sessionID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"messages":    messages,
		"total_count": total,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	limit, offset, err := pageParams(r, historyDefaultLimit, historyMaxLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Sessions.ListSessions(r.Context(), caller.UserID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.SessionMeta{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	if err := s.deps.Sessions.Delete(r.Context(), r.PathValue("session_id"), caller.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type evaluateRequest struct {
	Question    string   `json:"question"`
	Answer      string   `json:"answer"`
	Contexts    []string `json:"contexts"`
	GroundTruth string   `json:"ground_truth"`

	// Optional document id lists enable the retrieval metrics; without them
	// precision and recall report zero.
	RetrievedDocIDs []string `json:"retrieved_doc_ids"`
	ExpectedDocIDs  []string `json:"expected_doc_ids"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errdefs.InvalidInput("malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		s.writeError(w, r, errdefs.InvalidInput("answer is required"))
		return
	}

	scores := eval.Score(req.Answer, req.GroundTruth, req.Contexts, req.RetrievedDocIDs, req.ExpectedDocIDs)
	s.writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ingest.DeleteDocument(r.Context(), r.PathValue("document_id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Chunks.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
