package app

import (
	"context"
	"strings"

	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
	"kanban/api/internal/validate"
)

// CreateCardInput carries the description as raw Markdown. It is stored as
// sent and only sanitized when rendered to HTML.
type CreateCardInput struct {
	Title       string `json:"title" validate:"trimmed,max=255"`
	Description string `json:"description" validate:"max=10000"`
}

// UpdateCardInput moves the card when ListID or Position is set. Moving to
// another list without a Position appends the card there.
type UpdateCardInput struct {
	Title       *string `json:"title" validate:"omitnil,trimmed,max=255"`
	Description *string `json:"description" validate:"omitnil,max=10000"`
	ListID      *string `json:"listId" validate:"omitnil,trimmed"`
	Position    *int    `json:"position" validate:"omitnil,gte=0"`
}

func (s *Service) CreateCard(ctx context.Context, user *store.User, listID string, input CreateCardInput) (CardView, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return CardView{}, storeError(err, "List")
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionCreateCard, list); err != nil {
		return CardView{}, err
	}
	input.Title = strings.TrimSpace(input.Title)
	if err := validate.Struct(input); err != nil {
		return CardView{}, err
	}

	card, err := s.store.CreateCard(ctx, store.Card{
		ID:          util.NewID(util.PrefixCard),
		ListID:      list.ID,
		Title:       input.Title,
		Description: input.Description,
	})
	if err != nil {
		return CardView{}, storeError(err, "Card")
	}
	s.syncBoard(ctx, card.BoardID, user, "Create card "+card.Title)
	return cardView(card), nil
}

func (s *Service) GetCard(ctx context.Context, user *store.User, cardID string) (CardView, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return CardView{}, storeError(err, "Card")
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionViewBoard, card); err != nil {
		return CardView{}, err
	}
	return cardView(card), nil
}

// UpdateCard edits and/or moves a card. A move to another list is authorized
// against the destination list as well, before anything is written.
func (s *Service) UpdateCard(ctx context.Context, user *store.User, cardID string, input UpdateCardInput) (CardView, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return CardView{}, storeError(err, "Card")
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionUpdateCard, card); err != nil {
		return CardView{}, err
	}
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		input.Title = &trimmed
	}
	if err := validate.Struct(input); err != nil {
		return CardView{}, err
	}

	destinationBoard := card.BoardID
	if input.ListID != nil && *input.ListID != card.ListID {
		destination, err := s.store.GetList(ctx, *input.ListID)
		if err != nil {
			return CardView{}, storeError(err, "List")
		}
		if _, err := s.Authorize(ctx, user, rbac.ActionUpdateCard, destination); err != nil {
			return CardView{}, err
		}
		destinationBoard = destination.BoardID
	}

	updated, err := s.store.UpdateCard(ctx, card.ID, store.CardUpdate{
		Title:       input.Title,
		Description: input.Description,
		ListID:      input.ListID,
		Index:       input.Position,
	})
	if err != nil {
		return CardView{}, storeError(err, "Card")
	}

	message := "Update card " + updated.Title
	if updated.ListID != card.ListID || input.Position != nil {
		message = "Move card " + updated.Title
	}
	s.syncBoard(ctx, updated.BoardID, user, message)
	if destinationBoard != card.BoardID {
		s.syncBoard(ctx, card.BoardID, user, "Move card "+updated.Title+" to another board")
	}
	return cardView(updated), nil
}

func (s *Service) DestroyCard(ctx context.Context, user *store.User, cardID string) error {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return storeError(err, "Card")
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionDestroyCard, card); err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, card.ID); err != nil {
		return storeError(err, "Card")
	}
	s.forgetCards(card.ID)
	s.syncBoard(ctx, card.BoardID, user, "Delete card "+card.Title)
	return nil
}
