package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gosimple/slug"

	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
	"kanban/api/internal/validate"
)

const defaultMaxSlugRetries = 20

type CreateBoardInput struct {
	Title  string `json:"title" validate:"trimmed,max=255"`
	Public bool   `json:"public"`
}

type UpdateBoardInput struct {
	Title  *string `json:"title" validate:"omitnil,trimmed,max=255"`
	Public *bool   `json:"public"`
}

// storeError translates store sentinels into domain errors. Anything it does
// not recognise is returned unchanged and ends up as a 500.
func storeError(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return notFound(resource)
	case errors.Is(err, store.ErrSlugExhausted):
		return validationFailed(map[string]string{"slug": "has already been taken"})
	case errors.Is(err, store.ErrDuplicateParticipation):
		return validationFailed(map[string]string{"user": "already participates"})
	case errors.Is(err, store.ErrLastAdmin):
		return validationFailed(map[string]string{"role": "board must keep at least one admin"})
	case errors.Is(err, store.ErrOrderingConflict):
		return domainError(http.StatusConflict, "ORDERING_CONFLICT", "Concurrent reorder, please retry", nil)
	default:
		return err
	}
}

// slugFor derives the preferred slug for title. Titles without any
// sluggable characters fall back to "board".
func slugFor(title string) string {
	value := slug.Make(title)
	if value == "" {
		return "board"
	}
	return value
}

func (s *Service) maxSlugRetries() int {
	if s.cfg.MaxSlugRetries > 0 {
		return s.cfg.MaxSlugRetries
	}
	return defaultMaxSlugRetries
}

func (s *Service) loadBoard(ctx context.Context, boardSlug string) (store.Board, error) {
	board, err := s.store.GetBoardBySlug(ctx, boardSlug)
	if err != nil {
		return store.Board{}, storeError(err, "Board")
	}
	return board, nil
}

// CreateBoard inserts the board and makes user its admin in one transaction.
func (s *Service) CreateBoard(ctx context.Context, user *store.User, input CreateBoardInput) (BoardView, error) {
	if user == nil {
		return BoardView{}, errUnauthenticated
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := validate.Struct(input); err != nil {
		return BoardView{}, err
	}

	board, err := s.store.CreateBoard(ctx, store.Board{
		ID:        util.NewID(util.PrefixBoard),
		Title:     input.Title,
		Slug:      slugFor(input.Title),
		Public:    input.Public,
		CreatedBy: user.ID,
	}, store.Participation{
		ID:     util.NewID(util.PrefixParticipation),
		UserID: user.ID,
		Role:   rbac.RoleAdmin,
	}, s.maxSlugRetries())
	if err != nil {
		return BoardView{}, storeError(err, "Board")
	}

	s.syncBoard(ctx, board.ID, user, "Create board "+board.Title)
	return boardView(board, rbac.RoleAdmin), nil
}

// ListBoards returns the boards user participates in with their role.
func (s *Service) ListBoards(ctx context.Context, user *store.User) ([]BoardView, error) {
	if user == nil {
		return []BoardView{}, nil
	}
	summaries, err := s.store.ListBoardsForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	items := make([]BoardView, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, boardView(summary.Board, summary.Role))
	}
	return items, nil
}

func (s *Service) ShowBoard(ctx context.Context, user *store.User, boardSlug string) (BoardDetail, error) {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return BoardDetail{}, err
	}
	role, err := s.Authorize(ctx, user, rbac.ActionViewBoard, board)
	if err != nil {
		return BoardDetail{}, err
	}
	tree, err := s.store.LoadBoardTree(ctx, board.ID)
	if err != nil {
		return BoardDetail{}, storeError(err, "Board")
	}
	return boardDetail(tree, role), nil
}

func (s *Service) UpdateBoard(ctx context.Context, user *store.User, boardSlug string, input UpdateBoardInput) (BoardView, error) {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return BoardView{}, err
	}
	role, err := s.Authorize(ctx, user, rbac.ActionUpdateBoard, board)
	if err != nil {
		return BoardView{}, err
	}
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		input.Title = &trimmed
	}
	if err := validate.Struct(input); err != nil {
		return BoardView{}, err
	}

	updated, err := s.store.UpdateBoard(ctx, board.ID, store.BoardUpdate{Title: input.Title, Public: input.Public})
	if err != nil {
		return BoardView{}, storeError(err, "Board")
	}
	s.syncBoard(ctx, updated.ID, user, "Update board "+updated.Title)
	return boardView(updated, role), nil
}

// DestroyBoard removes the board with its lists, cards and participations.
func (s *Service) DestroyBoard(ctx context.Context, user *store.User, boardSlug string) error {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return err
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionDestroyBoard, board); err != nil {
		return err
	}
	cardIDs := s.boardCardIDs(ctx, board.ID)
	if err := s.store.DeleteBoard(ctx, board.ID); err != nil {
		return storeError(err, "Board")
	}
	s.forgetBoard(board.ID, cardIDs)
	return nil
}
