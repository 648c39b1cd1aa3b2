package store

import (
	"database/sql"
	"errors"
	"testing"

	"kanban/api/internal/rank"
	"kanban/api/internal/util"
)

func TestUpdateCardRetriesWhenMovedConcurrently(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := seedUser(t, ctx, s, "Avery")
	board := seedBoard(t, ctx, s, owner, "Sprint 1")

	var lists []List
	for _, title := range []string{"Todo", "Doing", "Done"} {
		list, err := s.CreateList(ctx, List{ID: util.NewID(util.PrefixList), BoardID: board.ID, Title: title})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		lists = append(lists, list)
	}
	card, err := s.CreateCard(ctx, Card{ID: util.NewID(util.PrefixCard), ListID: lists[0].ID, Title: "Task 1"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	reads := 0
	beforeCardLock = func(cardID string) {
		reads++
		if reads > 1 {
			return
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE cards SET list_id=$2 WHERE id=$1`, cardID, lists[1].ID); err != nil {
			t.Errorf("concurrent move: %v", err)
		}
	}
	t.Cleanup(func() { beforeCardLock = func(string) {} })

	moved, err := s.UpdateCard(ctx, card.ID, CardUpdate{ListID: &lists[2].ID})
	if err != nil {
		t.Fatalf("move card: %v", err)
	}
	if moved.ListID != lists[2].ID {
		t.Fatalf("expected list %s, got %s", lists[2].ID, moved.ListID)
	}
	if reads != 2 {
		t.Fatalf("expected the card to be read twice, got %d", reads)
	}
}

func TestRekeyRecomputesAfterCollision(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := seedUser(t, ctx, s, "Avery")
	board := seedBoard(t, ctx, s, owner, "Sprint 1")
	list, err := s.CreateList(ctx, List{ID: util.NewID(util.PrefixList), BoardID: board.ID, Title: "Todo"})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	taken, err := s.CreateCard(ctx, Card{ID: util.NewID(util.PrefixCard), ListID: list.ID, Title: "Task 1"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	cardID := util.NewID(util.PrefixCard)
	computed := 0
	var applied string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		applied, err = rekey(ctx, tx, "card", "cards_list_position_key",
			func() (string, error) {
				computed++
				if computed == 1 {
					return taken.Position, nil
				}
				return rank.After(taken.Position)
			},
			func(position string) error {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO cards (id, list_id, title, description, position)
					VALUES ($1, $2, 'Task 2', '', $3)
				`, cardID, list.ID, position)
				return err
			})
		return err
	})
	if err != nil {
		t.Fatalf("rekey: %v", err)
	}
	if computed != 2 {
		t.Fatalf("expected two computations, got %d", computed)
	}
	if !(applied > taken.Position) {
		t.Fatalf("expected %q after %q", applied, taken.Position)
	}
	stored, err := s.GetCard(ctx, cardID)
	if err != nil {
		t.Fatalf("reload card: %v", err)
	}
	if stored.Position != applied {
		t.Fatalf("expected stored position %q, got %q", applied, stored.Position)
	}
}

func TestRekeyGivesUpAfterRepeatedCollisions(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := seedUser(t, ctx, s, "Avery")
	board := seedBoard(t, ctx, s, owner, "Sprint 1")
	list, err := s.CreateList(ctx, List{ID: util.NewID(util.PrefixList), BoardID: board.ID, Title: "Todo"})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	taken, err := s.CreateCard(ctx, Card{ID: util.NewID(util.PrefixCard), ListID: list.ID, Title: "Task 1"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := rekey(ctx, tx, "card", "cards_list_position_key",
			func() (string, error) { return taken.Position, nil },
			func(position string) error {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO cards (id, list_id, title, description, position)
					VALUES ($1, $2, 'Task 2', '', $3)
				`, util.NewID(util.PrefixCard), list.ID, position)
				return err
			})
		return err
	})
	if !errors.Is(err, ErrOrderingConflict) {
		t.Fatalf("expected ErrOrderingConflict, got %v", err)
	}
}
