package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"kanban/api/internal/rbac"
	"kanban/api/internal/util"
)

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("KANBAN_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("KANBAN_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func seedUser(t *testing.T, ctx context.Context, s *PostgresStore, name string) User {
	t.Helper()
	user := User{ID: util.NewID(util.PrefixUser), Name: name, Email: strings.ToLower(name) + "@example.test", IsEmailVerified: true}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return user
}

func seedBoard(t *testing.T, ctx context.Context, s *PostgresStore, owner User, title string) Board {
	t.Helper()
	board, err := s.CreateBoard(ctx, Board{ID: util.NewID(util.PrefixBoard), Title: title, Slug: "sprint-1", CreatedBy: owner.ID},
		Participation{ID: util.NewID(util.PrefixParticipation), UserID: owner.ID, Role: rbac.RoleAdmin}, 20)
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return board
}

func TestCreateBoardAddsSingleAdminParticipation(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := seedUser(t, ctx, s, "Avery")

	first := seedBoard(t, ctx, s, owner, "Sprint 1")
	second := seedBoard(t, ctx, s, owner, "Sprint 1")
	if first.Slug != "sprint-1" || second.Slug != "sprint-1-2" {
		t.Fatalf("unexpected slugs %q and %q", first.Slug, second.Slug)
	}

	participations, err := s.ListParticipations(ctx, first.Participable())
	if err != nil {
		t.Fatalf("list participations: %v", err)
	}
	if len(participations) != 1 || participations[0].UserID != owner.ID || participations[0].Role != rbac.RoleAdmin {
		t.Fatalf("expected exactly one admin participation for owner, got %+v", participations)
	}

	_, err = s.CreateParticipation(ctx, Participation{ID: util.NewID(util.PrefixParticipation), UserID: owner.ID, Target: first.Participable(), Role: rbac.RoleViewer})
	if !errors.Is(err, ErrDuplicateParticipation) {
		t.Fatalf("expected ErrDuplicateParticipation, got %v", err)
	}
}

func TestCreateBoardRollsBackOnParticipationFailure(t *testing.T) {
	s, ctx := openTestStore(t)

	_, err := s.CreateBoard(ctx, Board{ID: util.NewID(util.PrefixBoard), Title: "Orphan", Slug: "orphan"},
		Participation{ID: util.NewID(util.PrefixParticipation), UserID: "usr_missing", Role: rbac.RoleAdmin}, 20)
	if err == nil {
		t.Fatal("expected participation insert to fail for unknown user")
	}
	if _, err := s.GetBoardBySlug(ctx, "orphan"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected board to be rolled back, got %v", err)
	}
}

func TestReorderAndMoveCards(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := seedUser(t, ctx, s, "Avery")
	board := seedBoard(t, ctx, s, owner, "Sprint 1")

	todo, err := s.CreateList(ctx, List{ID: util.NewID(util.PrefixList), BoardID: board.ID, Title: "Todo"})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}
	doing, err := s.CreateList(ctx, List{ID: util.NewID(util.PrefixList), BoardID: board.ID, Title: "Doing"})
	if err != nil {
		t.Fatalf("create doing: %v", err)
	}
	if !(doing.Position > todo.Position) {
		t.Fatalf("expected Doing (%q) after Todo (%q)", doing.Position, todo.Position)
	}

	var cards []Card
	for _, title := range []string{"Task 1", "Task 2", "Task 3"} {
		card, err := s.CreateCard(ctx, Card{ID: util.NewID(util.PrefixCard), ListID: todo.ID, Title: title})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		cards = append(cards, card)
	}
	blocker, err := s.CreateCard(ctx, Card{ID: util.NewID(util.PrefixCard), ListID: doing.ID, Title: "Blocker"})
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}

	zero := 0
	moved, err := s.UpdateCard(ctx, cards[2].ID, CardUpdate{Index: &zero})
	if err != nil {
		t.Fatalf("reorder card: %v", err)
	}
	if !(moved.Position < cards[0].Position) {
		t.Fatalf("expected %q before %q", moved.Position, cards[0].Position)
	}
	for _, untouched := range cards[:2] {
		reloaded, err := s.GetCard(ctx, untouched.ID)
		if err != nil {
			t.Fatalf("reload card: %v", err)
		}
		if reloaded.Position != untouched.Position {
			t.Fatalf("sibling %s key changed from %q to %q", untouched.Title, untouched.Position, reloaded.Position)
		}
	}

	moved, err = s.UpdateCard(ctx, cards[0].ID, CardUpdate{ListID: &doing.ID})
	if err != nil {
		t.Fatalf("move card: %v", err)
	}
	if moved.ListID != doing.ID {
		t.Fatalf("expected list %s, got %s", doing.ID, moved.ListID)
	}
	if !(moved.Position > blocker.Position) {
		t.Fatalf("expected moved card after %q, got %q", blocker.Position, moved.Position)
	}
}

func TestConcurrentAppendsKeepDistinctKeys(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := seedUser(t, ctx, s, "Avery")
	board := seedBoard(t, ctx, s, owner, "Sprint 1")
	list, err := s.CreateList(ctx, List{ID: util.NewID(util.PrefixList), BoardID: board.ID, Title: "Todo"})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateCard(ctx, Card{ID: util.NewID(util.PrefixCard), ListID: list.ID, Title: "Parallel"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent create: %v", err)
		}
	}

	tree, err := s.LoadBoardTree(ctx, board.ID)
	if err != nil {
		t.Fatalf("load tree: %v", err)
	}
	seen := map[string]bool{}
	for _, card := range tree.Lists[0].Cards {
		if seen[card.Position] {
			t.Fatalf("duplicate position %q", card.Position)
		}
		seen[card.Position] = true
	}
	if len(seen) != 10 {
		t.Fatalf("expected 10 cards, got %d", len(seen))
	}
}

func TestDeleteBoardCascades(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := seedUser(t, ctx, s, "Avery")
	board := seedBoard(t, ctx, s, owner, "Sprint 1")
	list, err := s.CreateList(ctx, List{ID: util.NewID(util.PrefixList), BoardID: board.ID, Title: "Todo"})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if _, err := s.CreateCard(ctx, Card{ID: util.NewID(util.PrefixCard), ListID: list.ID, Title: "Task"}); err != nil {
		t.Fatalf("create card: %v", err)
	}

	if err := s.DeleteBoard(ctx, board.ID); err != nil {
		t.Fatalf("delete board: %v", err)
	}

	var remaining int
	err = s.DB().QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM lists WHERE board_id=$1)
			+ (SELECT COUNT(*) FROM cards WHERE list_id=$2)
			+ (SELECT COUNT(*) FROM participations WHERE participable_id=$1)
	`, board.ID, list.ID).Scan(&remaining)
	if err != nil {
		t.Fatalf("count remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected no rows referencing the board, found %d", remaining)
	}
}

func TestLastAdminCannotBeRemoved(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := seedUser(t, ctx, s, "Avery")
	board := seedBoard(t, ctx, s, owner, "Sprint 1")

	admin, err := s.FindParticipation(ctx, owner.ID, board.Participable())
	if err != nil {
		t.Fatalf("find participation: %v", err)
	}
	if _, err := s.UpdateParticipationRole(ctx, admin.ID, rbac.RoleEditor); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin on demotion, got %v", err)
	}
	if err := s.DeleteParticipation(ctx, admin.ID); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin on removal, got %v", err)
	}
}
