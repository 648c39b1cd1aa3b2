package app

import (
	"context"
	"strings"

	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
	"kanban/api/internal/validate"
)

type CreateListInput struct {
	Title string `json:"title" validate:"trimmed,max=255"`
}

// UpdateListInput.Position is the zero-based slot among the board's other lists.
type UpdateListInput struct {
	Title    *string `json:"title" validate:"omitnil,trimmed,max=255"`
	Position *int    `json:"position" validate:"omitnil,gte=0"`
}

func (s *Service) CreateList(ctx context.Context, user *store.User, boardSlug string, input CreateListInput) (ListView, error) {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return ListView{}, err
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionCreateList, board); err != nil {
		return ListView{}, err
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := validate.Struct(input); err != nil {
		return ListView{}, err
	}

	list, err := s.store.CreateList(ctx, store.List{
		ID:      util.NewID(util.PrefixList),
		BoardID: board.ID,
		Title:   input.Title,
	})
	if err != nil {
		return ListView{}, storeError(err, "List")
	}
	s.syncBoard(ctx, board.ID, user, "Create list "+list.Title)
	return listView(list), nil
}

func (s *Service) UpdateList(ctx context.Context, user *store.User, listID string, input UpdateListInput) (ListView, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return ListView{}, storeError(err, "List")
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionUpdateList, list); err != nil {
		return ListView{}, err
	}
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		input.Title = &trimmed
	}
	if err := validate.Struct(input); err != nil {
		return ListView{}, err
	}

	updated, err := s.store.UpdateList(ctx, list.ID, store.ListUpdate{Title: input.Title, Index: input.Position})
	if err != nil {
		return ListView{}, storeError(err, "List")
	}
	message := "Update list " + updated.Title
	if input.Position != nil {
		message = "Move list " + updated.Title
	}
	s.syncBoard(ctx, updated.BoardID, user, message)
	return listView(updated), nil
}

// DestroyList removes the list and its cards.
func (s *Service) DestroyList(ctx context.Context, user *store.User, listID string) error {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return storeError(err, "List")
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionDestroyList, list); err != nil {
		return err
	}
	cardIDs := s.listCardIDs(ctx, list)
	if err := s.store.DeleteList(ctx, list.ID); err != nil {
		return storeError(err, "List")
	}
	s.forgetCards(cardIDs...)
	s.syncBoard(ctx, list.BoardID, user, "Delete list "+list.Title)
	return nil
}
