package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kanban/api/internal/rank"
	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
)

// fakeStore is an in-memory dataStore. The Fn fields override single methods
// when a test needs to inject a failure.
type fakeStore struct {
	mu             sync.Mutex
	users          map[string]store.User
	boards         map[string]store.Board
	lists          map[string]store.List
	cards          map[string]store.Card
	participations map[string]store.Participation
	refresh        map[string]string
	revoked        map[string]bool
	resets         map[string]string
	seq            int

	pingFn              func(context.Context) error
	findParticipationFn func(context.Context, string, store.Participable) (store.Participation, error)
	updateCardFn        func(context.Context, string, store.CardUpdate) (store.Card, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:          make(map[string]store.User),
		boards:         make(map[string]store.Board),
		lists:          make(map[string]store.List),
		cards:          make(map[string]store.Card),
		participations: make(map[string]store.Participation),
		refresh:        make(map[string]string),
		revoked:        make(map[string]bool),
		resets:         make(map[string]string),
	}
}

func notFoundErr(what, id string) error {
	return fmt.Errorf("get %s %s: %w", what, id, sql.ErrNoRows)
}

func (f *fakeStore) now() time.Time {
	f.seq++
	return time.Date(2026, 1, 1, 0, 0, f.seq, 0, time.UTC)
}

func (f *fakeStore) addUser(id, name, email string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := store.User{ID: id, Name: name, Email: email, IsEmailVerified: true}
	f.users[id] = user
	return user
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// =============================================================================
// Users and sessions
// =============================================================================

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.ErrDuplicateEmail
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, notFoundErr("user", userID)
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, notFoundErr("user", email)
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return notFoundErr("user", userID)
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if token != "" && user.VerificationToken == token {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return notFoundErr("verification", token)
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return notFoundErr("user", userID)
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", notFoundErr("reset", token)
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) ConsumeRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return "", notFoundErr("refresh session", tokenHash)
	}
	delete(f.refresh, tokenHash)
	return userID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeUserSessions(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, owner := range f.refresh {
		if owner == userID {
			delete(f.refresh, hash)
		}
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// =============================================================================
// Boards
// =============================================================================

func (f *fakeStore) CreateBoard(_ context.Context, board store.Board, owner store.Participation, maxSlugAttempts int) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[owner.UserID]; !ok {
		return store.Board{}, fmt.Errorf("insert participation: unknown user %s", owner.UserID)
	}
	taken := make(map[string]bool)
	for _, existing := range f.boards {
		taken[existing.Slug] = true
	}
	base := board.Slug
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		candidate := base
		if attempt > 1 {
			candidate = fmt.Sprintf("%s-%d", base, attempt)
		}
		if taken[candidate] {
			continue
		}
		board.Slug = candidate
		board.CreatedAt = f.now()
		board.UpdatedAt = board.CreatedAt
		f.boards[board.ID] = board
		owner.Target = board.Participable()
		owner.CreatedAt = board.CreatedAt
		f.participations[owner.ID] = owner
		return board, nil
	}
	return store.Board{}, store.ErrSlugExhausted
}

func (f *fakeStore) GetBoardBySlug(_ context.Context, slug string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, board := range f.boards {
		if board.Slug == slug {
			return board, nil
		}
	}
	return store.Board{}, notFoundErr("board", slug)
}

func (f *fakeStore) ListBoardsForUser(_ context.Context, userID string) ([]store.BoardSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.BoardSummary, 0)
	for _, p := range f.participations {
		if p.UserID != userID {
			continue
		}
		if board, ok := f.boards[p.Target.ID]; ok {
			items = append(items, store.BoardSummary{Board: board, Role: p.Role})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) LoadBoardTree(_ context.Context, boardID string) (store.BoardTree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[boardID]
	if !ok {
		return store.BoardTree{}, notFoundErr("board", boardID)
	}
	tree := store.BoardTree{Board: board, Lists: make([]store.ListWithCards, 0)}
	for _, list := range f.sortedLists(boardID) {
		tree.Lists = append(tree.Lists, store.ListWithCards{List: list, Cards: f.sortedCards(list.ID)})
	}
	return tree, nil
}

func (f *fakeStore) UpdateBoard(_ context.Context, boardID string, update store.BoardUpdate) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[boardID]
	if !ok {
		return store.Board{}, notFoundErr("board", boardID)
	}
	if update.Title != nil {
		board.Title = *update.Title
	}
	if update.Public != nil {
		board.Public = *update.Public
	}
	board.UpdatedAt = f.now()
	f.boards[boardID] = board
	return board, nil
}

func (f *fakeStore) DeleteBoard(_ context.Context, boardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.boards[boardID]; !ok {
		return notFoundErr("board", boardID)
	}
	for id, list := range f.lists {
		if list.BoardID != boardID {
			continue
		}
		for cardID, card := range f.cards {
			if card.ListID == id {
				delete(f.cards, cardID)
			}
		}
		delete(f.lists, id)
	}
	for id, p := range f.participations {
		if p.Target.ID == boardID {
			delete(f.participations, id)
		}
	}
	delete(f.boards, boardID)
	return nil
}

// =============================================================================
// Lists and cards
// =============================================================================

func (f *fakeStore) sortedLists(boardID string) []store.List {
	items := make([]store.List, 0)
	for _, list := range f.lists {
		if list.BoardID == boardID {
			list.BoardPublic = f.boards[boardID].Public
			items = append(items, list)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position == items[j].Position {
			return items[i].ID < items[j].ID
		}
		return items[i].Position < items[j].Position
	})
	return items
}

func (f *fakeStore) sortedCards(listID string) []store.Card {
	items := make([]store.Card, 0)
	for _, card := range f.cards {
		if card.ListID == listID {
			items = append(items, f.decorateCard(card))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position == items[j].Position {
			return items[i].ID < items[j].ID
		}
		return items[i].Position < items[j].Position
	})
	return items
}

func (f *fakeStore) decorateCard(card store.Card) store.Card {
	list := f.lists[card.ListID]
	card.BoardID = list.BoardID
	card.BoardPublic = f.boards[list.BoardID].Public
	return card
}

func (f *fakeStore) GetList(_ context.Context, listID string) (store.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.lists[listID]
	if !ok {
		return store.List{}, notFoundErr("list", listID)
	}
	list.BoardPublic = f.boards[list.BoardID].Public
	return list, nil
}

func (f *fakeStore) CreateList(_ context.Context, list store.List) (store.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	siblings := f.sortedLists(list.BoardID)
	last := ""
	if len(siblings) > 0 {
		last = siblings[len(siblings)-1].Position
	}
	position, err := rank.After(last)
	if err != nil {
		return store.List{}, err
	}
	list.Position = position
	list.CreatedAt = f.now()
	list.UpdatedAt = list.CreatedAt
	f.lists[list.ID] = list
	list.BoardPublic = f.boards[list.BoardID].Public
	return list, nil
}

func (f *fakeStore) UpdateList(_ context.Context, listID string, update store.ListUpdate) (store.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.lists[listID]
	if !ok {
		return store.List{}, notFoundErr("list", listID)
	}
	if update.Title != nil {
		list.Title = *update.Title
	}
	if update.Index != nil {
		siblings := make([]string, 0)
		for _, sibling := range f.sortedLists(list.BoardID) {
			if sibling.ID != listID {
				siblings = append(siblings, sibling.Position)
			}
		}
		position, err := rank.Slot(siblings, *update.Index)
		if err != nil {
			return store.List{}, err
		}
		list.Position = position
	}
	list.UpdatedAt = f.now()
	f.lists[listID] = list
	list.BoardPublic = f.boards[list.BoardID].Public
	return list, nil
}

func (f *fakeStore) DeleteList(_ context.Context, listID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lists[listID]; !ok {
		return notFoundErr("list", listID)
	}
	for id, card := range f.cards {
		if card.ListID == listID {
			delete(f.cards, id)
		}
	}
	delete(f.lists, listID)
	return nil
}

func (f *fakeStore) GetCard(_ context.Context, cardID string) (store.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return store.Card{}, notFoundErr("card", cardID)
	}
	return f.decorateCard(card), nil
}

func (f *fakeStore) CreateCard(_ context.Context, card store.Card) (store.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lists[card.ListID]; !ok {
		return store.Card{}, notFoundErr("list", card.ListID)
	}
	siblings := f.sortedCards(card.ListID)
	last := ""
	if len(siblings) > 0 {
		last = siblings[len(siblings)-1].Position
	}
	position, err := rank.After(last)
	if err != nil {
		return store.Card{}, err
	}
	card.Position = position
	card.CreatedAt = f.now()
	card.UpdatedAt = card.CreatedAt
	f.cards[card.ID] = card
	return f.decorateCard(card), nil
}

func (f *fakeStore) UpdateCard(ctx context.Context, cardID string, update store.CardUpdate) (store.Card, error) {
	if f.updateCardFn != nil {
		return f.updateCardFn(ctx, cardID, update)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return store.Card{}, notFoundErr("card", cardID)
	}
	destination := card.ListID
	if update.ListID != nil {
		destination = *update.ListID
	}
	if _, ok := f.lists[destination]; !ok {
		return store.Card{}, notFoundErr("list", destination)
	}
	if update.Title != nil {
		card.Title = *update.Title
	}
	if update.Description != nil {
		card.Description = *update.Description
	}
	if destination != card.ListID || update.Index != nil {
		siblings := make([]string, 0)
		for _, sibling := range f.sortedCards(destination) {
			if sibling.ID != cardID {
				siblings = append(siblings, sibling.Position)
			}
		}
		index := len(siblings)
		if update.Index != nil {
			index = *update.Index
		}
		position, err := rank.Slot(siblings, index)
		if err != nil {
			return store.Card{}, err
		}
		card.ListID = destination
		card.Position = position
	}
	card.UpdatedAt = f.now()
	f.cards[cardID] = card
	return f.decorateCard(card), nil
}

func (f *fakeStore) DeleteCard(_ context.Context, cardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cards[cardID]; !ok {
		return notFoundErr("card", cardID)
	}
	delete(f.cards, cardID)
	return nil
}

// =============================================================================
// Participations
// =============================================================================

func (f *fakeStore) FindParticipation(ctx context.Context, userID string, target store.Participable) (store.Participation, error) {
	if f.findParticipationFn != nil {
		return f.findParticipationFn(ctx, userID, target)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participations {
		if p.UserID == userID && p.Target == target {
			return p, nil
		}
	}
	return store.Participation{}, fmt.Errorf("find participation: %w", sql.ErrNoRows)
}

func (f *fakeStore) GetParticipation(_ context.Context, participationID string) (store.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participations[participationID]
	if !ok {
		return store.Participation{}, notFoundErr("participation", participationID)
	}
	return p, nil
}

func (f *fakeStore) ListParticipations(_ context.Context, target store.Participable) ([]store.ParticipationWithUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.ParticipationWithUser, 0)
	for _, p := range f.participations {
		if p.Target != target {
			continue
		}
		user := f.users[p.UserID]
		items = append(items, store.ParticipationWithUser{Participation: p, UserName: user.Name, UserEmail: user.Email})
	}
	sort.Slice(items, func(i, j int) bool { return strings.Compare(items[i].ID, items[j].ID) < 0 })
	return items, nil
}

func (f *fakeStore) CreateParticipation(_ context.Context, p store.Participation) (store.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.participations {
		if existing.UserID == p.UserID && existing.Target == p.Target {
			return store.Participation{}, store.ErrDuplicateParticipation
		}
	}
	p.CreatedAt = f.now()
	p.UpdatedAt = p.CreatedAt
	f.participations[p.ID] = p
	return p, nil
}

func (f *fakeStore) otherAdmins(current store.Participation) int {
	admins := 0
	for _, p := range f.participations {
		if p.Target == current.Target && p.Role == rbac.RoleAdmin && p.ID != current.ID {
			admins++
		}
	}
	return admins
}

func (f *fakeStore) UpdateParticipationRole(_ context.Context, participationID string, role rbac.Role) (store.Participation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participations[participationID]
	if !ok {
		return store.Participation{}, notFoundErr("participation", participationID)
	}
	if p.Role == rbac.RoleAdmin && role != rbac.RoleAdmin && f.otherAdmins(p) == 0 {
		return store.Participation{}, store.ErrLastAdmin
	}
	p.Role = role
	p.UpdatedAt = f.now()
	f.participations[participationID] = p
	return p, nil
}

func (f *fakeStore) DeleteParticipation(_ context.Context, participationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participations[participationID]
	if !ok {
		return notFoundErr("participation", participationID)
	}
	if p.Role == rbac.RoleAdmin && f.otherAdmins(p) == 0 {
		return store.ErrLastAdmin
	}
	delete(f.participations, participationID)
	return nil
}
