package store

import (
	"time"

	"kanban/api/internal/rbac"
)

type User struct {
	ID                    string
	Name                  string
	Email                 string
	PasswordHash          string
	Admin                 bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// =============================================================================
// Participation ledger
// =============================================================================

// ParticipableKind tags the entity type a participation points at.
type ParticipableKind string

const KindBoard ParticipableKind = "board"

// Participable identifies any entity that can carry participations.
type Participable struct {
	Kind ParticipableKind
	ID   string
}

// Record is anything the authorization gate can be asked about. Every record
// resolves to the participable that owns it and that participable's visibility.
type Record interface {
	Participable() Participable
	IsPublic() bool
}

type Participation struct {
	ID        string
	UserID    string
	Target    Participable
	Role      rbac.Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ParticipationWithUser struct {
	Participation
	UserName  string
	UserEmail string
}

// =============================================================================
// Board aggregate
// =============================================================================

type Board struct {
	ID        string
	Title     string
	Slug      string
	Public    bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b Board) Participable() Participable { return Participable{Kind: KindBoard, ID: b.ID} }
func (b Board) IsPublic() bool             { return b.Public }

// BoardSummary is a board as listed for one participant.
type BoardSummary struct {
	Board
	Role rbac.Role
}

type List struct {
	ID        string
	BoardID   string
	Title     string
	Position  string
	CreatedAt time.Time
	UpdatedAt time.Time

	// BoardPublic is loaded alongside the list for authorization.
	BoardPublic bool
}

func (l List) Participable() Participable { return Participable{Kind: KindBoard, ID: l.BoardID} }
func (l List) IsPublic() bool             { return l.BoardPublic }

type Card struct {
	ID          string
	ListID      string
	Title       string
	Description string
	Position    string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// BoardID and BoardPublic come from the owning list's board.
	BoardID     string
	BoardPublic bool
}

func (c Card) Participable() Participable { return Participable{Kind: KindBoard, ID: c.BoardID} }
func (c Card) IsPublic() bool             { return c.BoardPublic }

// BoardTree is a board with its lists and each list's cards, all in sibling order.
type BoardTree struct {
	Board Board
	Lists []ListWithCards
}

type ListWithCards struct {
	List
	Cards []Card
}

// CardUpdate carries optional card changes. A nil field is left untouched.
type CardUpdate struct {
	Title       *string
	Description *string
	ListID      *string
	Index       *int
}

type ListUpdate struct {
	Title *string
	Index *int
}

type BoardUpdate struct {
	Title  *string
	Public *bool
}
