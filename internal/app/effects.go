package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"kanban/api/internal/export"
	"kanban/api/internal/history"
	"kanban/api/internal/rbac"
	"kanban/api/internal/search"
	"kanban/api/internal/store"
)

const defaultHistoryLimit = 50

// syncBoard refreshes the board's search documents and commits a history
// snapshot after a mutation. Both are secondary: failures are logged only.
func (s *Service) syncBoard(ctx context.Context, boardID string, user *store.User, message string) {
	if s.history == nil && s.search == nil {
		return
	}
	tree, err := s.store.LoadBoardTree(ctx, boardID)
	if err != nil {
		log.WithError(err).WithField("board_id", boardID).Warn("sync board: load tree")
		return
	}

	if s.search != nil {
		s.search.IndexBoard(search.BoardRecord{
			ID:     tree.Board.ID,
			Title:  tree.Board.Title,
			Slug:   tree.Board.Slug,
			Public: tree.Board.Public,
		})
		cards := make([]search.CardRecord, 0)
		for _, list := range tree.Lists {
			for _, card := range list.Cards {
				cards = append(cards, search.CardRecord{
					ID:          card.ID,
					Title:       card.Title,
					Description: card.Description,
					ListID:      card.ListID,
					BoardID:     tree.Board.ID,
					BoardSlug:   tree.Board.Slug,
					Public:      tree.Board.Public,
				})
			}
		}
		s.search.IndexCards(cards...)
	}

	if s.history != nil {
		author := "guest"
		if user != nil {
			author = user.Name
		}
		if _, err := s.history.Record(boardID, snapshotOf(tree), author, message); err != nil {
			log.WithError(err).WithField("board_id", boardID).Warn("sync board: record history")
		}
	}
}

func snapshotOf(tree store.BoardTree) history.Snapshot {
	snapshot := history.Snapshot{
		Title:  tree.Board.Title,
		Slug:   tree.Board.Slug,
		Public: tree.Board.Public,
		Lists:  make([]history.SnapshotList, 0, len(tree.Lists)),
	}
	for _, list := range tree.Lists {
		item := history.SnapshotList{
			ID:       list.ID,
			Title:    list.Title,
			Position: list.Position,
			Cards:    make([]history.SnapshotCard, 0, len(list.Cards)),
		}
		for _, card := range list.Cards {
			item.Cards = append(item.Cards, history.SnapshotCard{
				ID:          card.ID,
				Title:       card.Title,
				Description: card.Description,
				Position:    card.Position,
			})
		}
		snapshot.Lists = append(snapshot.Lists, item)
	}
	return snapshot
}

func (s *Service) boardCardIDs(ctx context.Context, boardID string) []string {
	if s.search == nil {
		return nil
	}
	tree, err := s.store.LoadBoardTree(ctx, boardID)
	if err != nil {
		log.WithError(err).WithField("board_id", boardID).Warn("collect card ids")
		return nil
	}
	ids := make([]string, 0)
	for _, list := range tree.Lists {
		for _, card := range list.Cards {
			ids = append(ids, card.ID)
		}
	}
	return ids
}

func (s *Service) listCardIDs(ctx context.Context, list store.List) []string {
	if s.search == nil {
		return nil
	}
	tree, err := s.store.LoadBoardTree(ctx, list.BoardID)
	if err != nil {
		log.WithError(err).WithField("list_id", list.ID).Warn("collect card ids")
		return nil
	}
	for _, item := range tree.Lists {
		if item.ID != list.ID {
			continue
		}
		ids := make([]string, 0, len(item.Cards))
		for _, card := range item.Cards {
			ids = append(ids, card.ID)
		}
		return ids
	}
	return nil
}

func (s *Service) forgetCards(ids ...string) {
	if s.search != nil && len(ids) > 0 {
		s.search.RemoveCards(ids...)
	}
}

func (s *Service) forgetBoard(boardID string, cardIDs []string) {
	if s.search != nil {
		s.search.RemoveBoard(boardID, cardIDs)
	}
	if s.history != nil {
		if err := s.history.Remove(boardID); err != nil {
			log.WithError(err).WithField("board_id", boardID).Warn("remove board history")
		}
	}
}

// =============================================================================
// Search, export and history
// =============================================================================

// Search matches boards and cards visible to user: public boards plus the
// boards user participates in.
func (s *Service) Search(ctx context.Context, user *store.User, text, filterType string, limit, offset int) (search.Response, error) {
	resultType := search.ResultType(strings.TrimSpace(filterType))
	if resultType != "" && resultType != search.ResultBoard && resultType != search.ResultCard {
		return search.Response{}, validationFailed(map[string]string{"type": "must be one of: board card"})
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := search.Query{
		Text:       strings.TrimSpace(text),
		FilterType: resultType,
		Limit:      limit,
		Offset:     offset,
	}
	if user != nil {
		query.ViewerID = user.ID
		boards, err := s.store.ListBoardsForUser(ctx, user.ID)
		if err != nil {
			return search.Response{}, err
		}
		for _, board := range boards {
			query.BoardIDs = append(query.BoardIDs, board.ID)
		}
	}
	if query.Text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query.Text}, nil
	}
	return s.search.Search(ctx, query), nil
}

// ExportBoard renders the board for anyone who may view it. With publish set
// the file is uploaded and url holds a presigned download link.
func (s *Service) ExportBoard(ctx context.Context, user *store.User, boardSlug string, format export.Format, publish bool) (*export.Result, string, error) {
	if s.export == nil {
		return nil, "", domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return nil, "", err
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionViewBoard, board); err != nil {
		return nil, "", err
	}
	tree, err := s.store.LoadBoardTree(ctx, board.ID)
	if err != nil {
		return nil, "", storeError(err, "Board")
	}

	result, err := s.export.Export(ctx, exportBoard(tree, user), format)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, "", domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is unavailable on this server", nil)
	}
	if err != nil {
		return nil, "", err
	}
	if !publish {
		return result, "", nil
	}

	url, err := s.export.Publish(ctx, board.ID, result)
	if errors.Is(err, export.ErrStorageUnavailable) {
		return nil, "", domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export storage is not configured", nil)
	}
	if err != nil {
		return nil, "", err
	}
	return result, url, nil
}

func exportBoard(tree store.BoardTree, user *store.User) export.Board {
	board := export.Board{
		Title:      tree.Board.Title,
		Slug:       tree.Board.Slug,
		Public:     tree.Board.Public,
		ExportedBy: "guest",
		Lists:      make([]export.List, 0, len(tree.Lists)),
	}
	if user != nil {
		board.ExportedBy = user.Name
	}
	for _, list := range tree.Lists {
		item := export.List{Title: list.Title, Cards: make([]export.Card, 0, len(list.Cards))}
		for _, card := range list.Cards {
			item.Cards = append(item.Cards, export.Card{Title: card.Title, Description: card.Description})
		}
		board.Lists = append(board.Lists, item)
	}
	return board
}

// BoardHistory lists the board's snapshot commits, newest first.
func (s *Service) BoardHistory(ctx context.Context, user *store.User, boardSlug string, limit int) ([]history.Commit, error) {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return nil, err
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionViewBoard, board); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Commit{}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.history.History(board.ID, limit)
}

func (s *Service) BoardSnapshot(ctx context.Context, user *store.User, boardSlug, hash string) (history.Snapshot, error) {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return history.Snapshot{}, err
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionViewBoard, board); err != nil {
		return history.Snapshot{}, err
	}
	if s.history == nil {
		return history.Snapshot{}, notFound("Snapshot")
	}
	snapshot, err := s.history.SnapshotAt(board.ID, hash)
	if err != nil {
		log.WithError(err).WithField("board_id", board.ID).Debug("snapshot lookup failed")
		return history.Snapshot{}, notFound("Snapshot")
	}
	return snapshot, nil
}
