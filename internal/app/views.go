package app

import (
	"time"

	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
)

// Envelope is the response body of every resource endpoint.
type Envelope struct {
	Type     string `json:"type"`
	Resource any    `json:"resource"`
}

type BoardView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Public    bool      `json:"public"`
	Role      rbac.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BoardDetail is a board with its lists and cards in sibling order.
type BoardDetail struct {
	BoardView
	Lists []ListDetail `json:"lists"`
}

type ListDetail struct {
	ListView
	Cards []CardView `json:"cards"`
}

type ListView struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Position  string    `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CardView struct {
	ID          string    `json:"id"`
	ListID      string    `json:"listId"`
	BoardID     string    `json:"boardId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Position    string    `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ParticipationView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	UserEmail string    `json:"userEmail,omitempty"`
	BoardID   string    `json:"boardId"`
	Role      rbac.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func boardView(board store.Board, role rbac.Role) BoardView {
	return BoardView{
		ID:        board.ID,
		Title:     board.Title,
		Slug:      board.Slug,
		Public:    board.Public,
		Role:      role,
		CreatedAt: board.CreatedAt,
		UpdatedAt: board.UpdatedAt,
	}
}

func listView(list store.List) ListView {
	return ListView{
		ID:        list.ID,
		BoardID:   list.BoardID,
		Title:     list.Title,
		Position:  list.Position,
		CreatedAt: list.CreatedAt,
		UpdatedAt: list.UpdatedAt,
	}
}

func cardView(card store.Card) CardView {
	return CardView{
		ID:          card.ID,
		ListID:      card.ListID,
		BoardID:     card.BoardID,
		Title:       card.Title,
		Description: card.Description,
		Position:    card.Position,
		CreatedAt:   card.CreatedAt,
		UpdatedAt:   card.UpdatedAt,
	}
}

func boardDetail(tree store.BoardTree, role rbac.Role) BoardDetail {
	detail := BoardDetail{
		BoardView: boardView(tree.Board, role),
		Lists:     make([]ListDetail, 0, len(tree.Lists)),
	}
	for _, list := range tree.Lists {
		view := ListDetail{ListView: listView(list.List), Cards: make([]CardView, 0, len(list.Cards))}
		for _, card := range list.Cards {
			view.Cards = append(view.Cards, cardView(card))
		}
		detail.Lists = append(detail.Lists, view)
	}
	return detail
}

func participationView(p store.Participation) ParticipationView {
	return ParticipationView{
		ID:        p.ID,
		UserID:    p.UserID,
		BoardID:   p.Target.ID,
		Role:      p.Role,
		CreatedAt: p.CreatedAt,
	}
}
