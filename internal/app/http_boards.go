package app

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"kanban/api/internal/export"
)

func (s *HTTPServer) routeBoards(r chi.Router) {
	r.Get("/api/boards", s.handleListBoards)
	r.Post("/api/boards", s.handleCreateBoard)
	r.Route("/api/boards/{slug}", func(r chi.Router) {
		r.Get("/", s.handleShowBoard)
		r.Patch("/", s.handleUpdateBoard)
		r.Delete("/", s.handleDestroyBoard)
		r.Get("/export.pdf", s.handleExport(export.FormatPDF))
		r.Get("/export.md", s.handleExport(export.FormatMarkdown))
		r.Get("/history", s.handleHistory)
		r.Get("/history/{hash}", s.handleSnapshot)
		r.Post("/lists", s.handleCreateList)
		r.Get("/participations", s.handleListParticipations)
		r.Post("/participations", s.handleGrantParticipation)
		r.Patch("/participations/{id}", s.handleUpdateParticipation)
		r.Delete("/participations/{id}", s.handleRevokeParticipation)
	})

	r.Patch("/api/lists/{id}", s.handleUpdateList)
	r.Delete("/api/lists/{id}", s.handleDestroyList)
	r.Post("/api/lists/{id}/cards", s.handleCreateCard)

	r.Get("/api/cards/{id}", s.handleGetCard)
	r.Patch("/api/cards/{id}", s.handleUpdateCard)
	r.Delete("/api/cards/{id}", s.handleDestroyCard)

	r.Get("/api/search", s.handleSearch)
}

// =============================================================================
// Boards
// =============================================================================

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.service.ListBoards(r.Context(), currentUser(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "boards", Resource: boards})
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var body CreateBoardInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	board, err := s.service.CreateBoard(r.Context(), currentUser(r), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/boards/"+url.PathEscape(board.Slug))
	writeJSON(w, http.StatusCreated, Envelope{Type: "board", Resource: board})
}

func (s *HTTPServer) handleShowBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.service.ShowBoard(r.Context(), currentUser(r), chi.URLParam(r, "slug"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "board", Resource: board})
}

func (s *HTTPServer) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	var body UpdateBoardInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	board, err := s.service.UpdateBoard(r.Context(), currentUser(r), chi.URLParam(r, "slug"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "board", Resource: board})
}

func (s *HTTPServer) handleDestroyBoard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DestroyBoard(r.Context(), currentUser(r), chi.URLParam(r, "slug")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExport(format export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		publish := r.URL.Query().Get("publish") == "true"
		result, link, err := s.service.ExportBoard(r.Context(), currentUser(r), chi.URLParam(r, "slug"), format, publish)
		if err != nil {
			fail(w, r, err)
			return
		}
		if publish {
			writeJSON(w, http.StatusOK, Envelope{Type: "export", Resource: map[string]any{
				"filename": result.Filename,
				"url":      link,
			}})
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		fail(w, r, err)
		return
	}
	commits, err := s.service.BoardHistory(r.Context(), currentUser(r), chi.URLParam(r, "slug"), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "history", Resource: commits})
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.service.BoardSnapshot(r.Context(), currentUser(r), chi.URLParam(r, "slug"), chi.URLParam(r, "hash"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "snapshot", Resource: snapshot})
}

// =============================================================================
// Lists and cards
// =============================================================================

func (s *HTTPServer) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var body CreateListInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	list, err := s.service.CreateList(r.Context(), currentUser(r), chi.URLParam(r, "slug"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{Type: "list", Resource: list})
}

func (s *HTTPServer) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	var body UpdateListInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	list, err := s.service.UpdateList(r.Context(), currentUser(r), chi.URLParam(r, "id"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "list", Resource: list})
}

func (s *HTTPServer) handleDestroyList(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DestroyList(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var body CreateCardInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	card, err := s.service.CreateCard(r.Context(), currentUser(r), chi.URLParam(r, "id"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{Type: "card", Resource: card})
}

func (s *HTTPServer) handleGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.service.GetCard(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "card", Resource: card})
}

func (s *HTTPServer) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var body UpdateCardInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	card, err := s.service.UpdateCard(r.Context(), currentUser(r), chi.URLParam(r, "id"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "card", Resource: card})
}

func (s *HTTPServer) handleDestroyCard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DestroyCard(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Participations
// =============================================================================

func (s *HTTPServer) handleListParticipations(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListParticipations(r.Context(), currentUser(r), chi.URLParam(r, "slug"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "participations", Resource: items})
}

func (s *HTTPServer) handleGrantParticipation(w http.ResponseWriter, r *http.Request) {
	var body GrantParticipationInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.GrantParticipation(r.Context(), currentUser(r), chi.URLParam(r, "slug"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{Type: "participation", Resource: item})
}

func (s *HTTPServer) handleUpdateParticipation(w http.ResponseWriter, r *http.Request) {
	var body UpdateParticipationInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateParticipation(r.Context(), currentUser(r), chi.URLParam(r, "slug"), chi.URLParam(r, "id"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "participation", Resource: item})
}

func (s *HTTPServer) handleRevokeParticipation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RevokeParticipation(r.Context(), currentUser(r), chi.URLParam(r, "slug"), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Search
// =============================================================================

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		fail(w, r, err)
		return
	}
	query := r.URL.Query()
	response, err := s.service.Search(r.Context(), currentUser(r), query.Get("q"), query.Get("type"), limit, offset)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Type: "search", Resource: response})
}
