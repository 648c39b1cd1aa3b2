package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"kanban/api/internal/metrics"
	"kanban/api/internal/rank"
	"kanban/api/internal/rbac"
)

const maxRekeyAttempts = 5

// =============================================================================
// Boards
// =============================================================================

// CreateBoard inserts board and the owner's participation in one transaction.
// board.Slug is the preferred slug; on collision "-2", "-3", ... are tried up
// to maxSlugAttempts before ErrSlugExhausted.
func (s *PostgresStore) CreateBoard(ctx context.Context, board Board, owner Participation, maxSlugAttempts int) (Board, error) {
	base := board.Slug
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
			candidate := base
			if attempt > 1 {
				candidate = fmt.Sprintf("%s-%d", base, attempt)
			}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO boards (id, title, slug, public, created_by)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''))
				ON CONFLICT (slug) DO NOTHING
				RETURNING created_at, updated_at
			`, board.ID, board.Title, candidate, board.Public, board.CreatedBy).Scan(&board.CreatedAt, &board.UpdatedAt)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert board: %w", err)
			}
			board.Slug = candidate

			owner.Target = board.Participable()
			if _, err := insertParticipation(ctx, tx, owner); err != nil {
				return err
			}
			return nil
		}
		return ErrSlugExhausted
	})
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

const boardColumns = `id, title, slug, public, COALESCE(created_by, ''), created_at, updated_at`

func scanBoard(row interface{ Scan(...any) error }) (Board, error) {
	var board Board
	err := row.Scan(&board.ID, &board.Title, &board.Slug, &board.Public, &board.CreatedBy, &board.CreatedAt, &board.UpdatedAt)
	return board, err
}

func (s *PostgresStore) GetBoardBySlug(ctx context.Context, slug string) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE slug=$1`, slug))
	if err != nil {
		return Board{}, fmt.Errorf("get board %s: %w", slug, err)
	}
	return board, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id=$1`, boardID))
	if err != nil {
		return Board{}, fmt.Errorf("get board %s: %w", boardID, err)
	}
	return board, nil
}

// ListBoardsForUser returns the boards userID participates in, newest first.
func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]BoardSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.slug, b.public, COALESCE(b.created_by, ''), b.created_at, b.updated_at, p.role
		FROM participations p
		JOIN boards b ON b.id = p.participable_id
		WHERE p.user_id = $1 AND p.participable_type = $2
		ORDER BY b.created_at DESC, b.id
	`, userID, string(KindBoard))
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]BoardSummary, 0)
	for rows.Next() {
		var item BoardSummary
		var role string
		if err := rows.Scan(&item.ID, &item.Title, &item.Slug, &item.Public, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt, &role); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		item.Role = rbac.Normalize(role)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

// LoadBoardTree reads a board with all lists and cards in sibling order.
func (s *PostgresStore) LoadBoardTree(ctx context.Context, boardID string) (BoardTree, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return BoardTree{}, err
	}
	tree := BoardTree{Board: board, Lists: make([]ListWithCards, 0)}

	listRows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, title, position, created_at, updated_at
		FROM lists WHERE board_id=$1
		ORDER BY position, id
	`, boardID)
	if err != nil {
		return BoardTree{}, fmt.Errorf("load lists: %w", err)
	}
	defer listRows.Close()

	index := make(map[string]int)
	for listRows.Next() {
		var list List
		if err := listRows.Scan(&list.ID, &list.BoardID, &list.Title, &list.Position, &list.CreatedAt, &list.UpdatedAt); err != nil {
			return BoardTree{}, fmt.Errorf("scan list: %w", err)
		}
		list.BoardPublic = board.Public
		index[list.ID] = len(tree.Lists)
		tree.Lists = append(tree.Lists, ListWithCards{List: list, Cards: make([]Card, 0)})
	}
	if err := listRows.Err(); err != nil {
		return BoardTree{}, fmt.Errorf("iterate lists: %w", err)
	}

	cardRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.list_id, c.title, c.description, c.position, c.created_at, c.updated_at
		FROM cards c
		JOIN lists l ON l.id = c.list_id
		WHERE l.board_id=$1
		ORDER BY c.list_id, c.position, c.id
	`, boardID)
	if err != nil {
		return BoardTree{}, fmt.Errorf("load cards: %w", err)
	}
	defer cardRows.Close()

	for cardRows.Next() {
		var card Card
		if err := cardRows.Scan(&card.ID, &card.ListID, &card.Title, &card.Description, &card.Position, &card.CreatedAt, &card.UpdatedAt); err != nil {
			return BoardTree{}, fmt.Errorf("scan card: %w", err)
		}
		card.BoardID = board.ID
		card.BoardPublic = board.Public
		i, ok := index[card.ListID]
		if !ok {
			continue
		}
		tree.Lists[i].Cards = append(tree.Lists[i].Cards, card)
	}
	if err := cardRows.Err(); err != nil {
		return BoardTree{}, fmt.Errorf("iterate cards: %w", err)
	}
	return tree, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, boardID string, update BoardUpdate) (Board, error) {
	board, err := scanBoard(s.db.QueryRowContext(ctx, `
		UPDATE boards
		SET title = COALESCE($2, title), public = COALESCE($3, public), updated_at = NOW()
		WHERE id = $1
		RETURNING `+boardColumns,
		boardID, update.Title, update.Public))
	if err != nil {
		return Board{}, fmt.Errorf("update board: %w", err)
	}
	return board, nil
}

// DeleteBoard removes the board with its lists, cards and participations.
// The board and its lists are locked first so no concurrent list or card
// mutation can commit a child after the cascade has run.
func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM boards WHERE id=$1 FOR UPDATE`, boardID).Scan(&id); err != nil {
			return fmt.Errorf("lock board: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `SELECT id FROM lists WHERE board_id=$1 ORDER BY id FOR UPDATE`, boardID); err != nil {
			return fmt.Errorf("lock lists: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cards WHERE list_id IN (SELECT id FROM lists WHERE board_id=$1)
		`, boardID); err != nil {
			return fmt.Errorf("delete cards: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE board_id=$1`, boardID); err != nil {
			return fmt.Errorf("delete lists: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM participations WHERE participable_type=$1 AND participable_id=$2
		`, string(KindBoard), boardID); err != nil {
			return fmt.Errorf("delete participations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID); err != nil {
			return fmt.Errorf("delete board: %w", err)
		}
		return nil
	})
}

// =============================================================================
// Lists
// =============================================================================

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getList(ctx context.Context, q querier, listID string) (List, error) {
	var list List
	err := q.QueryRowContext(ctx, `
		SELECT l.id, l.board_id, l.title, l.position, l.created_at, l.updated_at, b.public
		FROM lists l JOIN boards b ON b.id = l.board_id
		WHERE l.id=$1
	`, listID).Scan(&list.ID, &list.BoardID, &list.Title, &list.Position, &list.CreatedAt, &list.UpdatedAt, &list.BoardPublic)
	if err != nil {
		return List{}, fmt.Errorf("get list %s: %w", listID, err)
	}
	return list, nil
}

func (s *PostgresStore) GetList(ctx context.Context, listID string) (List, error) {
	return getList(ctx, s.db, listID)
}

// CreateList appends list after the board's current last list.
func (s *PostgresStore) CreateList(ctx context.Context, list List) (List, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "boards", list.BoardID); err != nil {
			return err
		}
		_, err := rekey(ctx, tx, "list", "lists_board_position_key",
			func() (string, error) {
				last, err := lastPosition(ctx, tx, `SELECT position FROM lists WHERE board_id=$1 ORDER BY position DESC, id DESC LIMIT 1`, list.BoardID)
				if err != nil {
					return "", err
				}
				return rank.After(last)
			},
			func(position string) error {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO lists (id, board_id, title, position)
					VALUES ($1, $2, $3, $4)
				`, list.ID, list.BoardID, list.Title, position)
				return err
			})
		if err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
		list, err = getList(ctx, tx, list.ID)
		return err
	})
	if err != nil {
		return List{}, err
	}
	return list, nil
}

// UpdateList changes the title and/or moves the list to a new slot among its
// siblings. Only this list's position is rewritten.
func (s *PostgresStore) UpdateList(ctx context.Context, listID string, update ListUpdate) (List, error) {
	var list List
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getList(ctx, tx, listID)
		if err != nil {
			return err
		}
		if err := lockRow(ctx, tx, "boards", current.BoardID); err != nil {
			return err
		}
		if err := lockRow(ctx, tx, "lists", listID); err != nil {
			return err
		}

		if update.Title != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE lists SET title=$2, updated_at=NOW() WHERE id=$1`, listID, *update.Title); err != nil {
				return fmt.Errorf("update list title: %w", err)
			}
		}
		if update.Index != nil {
			index := *update.Index
			_, err := rekey(ctx, tx, "list", "lists_board_position_key",
				func() (string, error) {
					siblings, err := siblingPositions(ctx, tx, `
						SELECT position FROM lists WHERE board_id=$1 AND id<>$2 ORDER BY position, id
					`, current.BoardID, listID)
					if err != nil {
						return "", err
					}
					return rank.Slot(siblings, index)
				},
				func(position string) error {
					_, err := tx.ExecContext(ctx, `UPDATE lists SET position=$2, updated_at=NOW() WHERE id=$1`, listID, position)
					return err
				})
			if err != nil {
				return fmt.Errorf("reorder list: %w", err)
			}
		}

		list, err = getList(ctx, tx, listID)
		return err
	})
	if err != nil {
		return List{}, err
	}
	return list, nil
}

// DeleteList removes the list and all of its cards.
func (s *PostgresStore) DeleteList(ctx context.Context, listID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "lists", listID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE list_id=$1`, listID); err != nil {
			return fmt.Errorf("delete cards: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE id=$1`, listID); err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		return nil
	})
}

// =============================================================================
// Cards
// =============================================================================

const cardSelect = `
	SELECT c.id, c.list_id, c.title, c.description, c.position, c.created_at, c.updated_at, l.board_id, b.public
	FROM cards c
	JOIN lists l ON l.id = c.list_id
	JOIN boards b ON b.id = l.board_id
	WHERE c.id=$1`

func scanCard(row interface{ Scan(...any) error }) (Card, error) {
	var card Card
	err := row.Scan(&card.ID, &card.ListID, &card.Title, &card.Description, &card.Position, &card.CreatedAt, &card.UpdatedAt, &card.BoardID, &card.BoardPublic)
	return card, err
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	card, err := scanCard(s.db.QueryRowContext(ctx, cardSelect, cardID))
	if err != nil {
		return Card{}, fmt.Errorf("get card %s: %w", cardID, err)
	}
	return card, nil
}

// CreateCard appends card after the list's current last card.
func (s *PostgresStore) CreateCard(ctx context.Context, card Card) (Card, error) {
	var created Card
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "lists", card.ListID); err != nil {
			return err
		}
		_, err := rekey(ctx, tx, "card", "cards_list_position_key",
			func() (string, error) {
				last, err := lastPosition(ctx, tx, `SELECT position FROM cards WHERE list_id=$1 ORDER BY position DESC, id DESC LIMIT 1`, card.ListID)
				if err != nil {
					return "", err
				}
				return rank.After(last)
			},
			func(position string) error {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO cards (id, list_id, title, description, position)
					VALUES ($1, $2, $3, $4, $5)
				`, card.ID, card.ListID, card.Title, card.Description, position)
				return err
			})
		if err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		created, err = scanCard(tx.QueryRowContext(ctx, cardSelect, card.ID))
		if err != nil {
			return fmt.Errorf("reload card: %w", err)
		}
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return created, nil
}

// UpdateCard edits card fields and, when ListID or Index is set, moves the
// card. Parent lists are locked in id order before the card row, the same
// order DeleteList uses, so concurrent moves serialise per sibling set.
// Moving to another list without an Index appends to the destination.
func (s *PostgresStore) UpdateCard(ctx context.Context, cardID string, update CardUpdate) (Card, error) {
	var updated Card
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		destination, moving, err := lockCardMove(ctx, tx, cardID, update.ListID, update.Index != nil)
		if err != nil {
			return err
		}

		if update.Title != nil || update.Description != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE cards SET title=COALESCE($2, title), description=COALESCE($3, description), updated_at=NOW()
				WHERE id=$1
			`, cardID, update.Title, update.Description); err != nil {
				return fmt.Errorf("update card: %w", err)
			}
		}

		if moving {
			_, err := rekey(ctx, tx, "card", "cards_list_position_key",
				func() (string, error) {
					siblings, err := siblingPositions(ctx, tx, `
						SELECT position FROM cards WHERE list_id=$1 AND id<>$2 ORDER BY position, id
					`, destination, cardID)
					if err != nil {
						return "", err
					}
					index := len(siblings)
					if update.Index != nil {
						index = *update.Index
					}
					return rank.Slot(siblings, index)
				},
				func(position string) error {
					_, err := tx.ExecContext(ctx, `
						UPDATE cards SET list_id=$2, position=$3, updated_at=NOW() WHERE id=$1
					`, cardID, destination, position)
					return err
				})
			if err != nil {
				return fmt.Errorf("move card: %w", err)
			}
		}

		updated, err = scanCard(tx.QueryRowContext(ctx, cardSelect, cardID))
		if err != nil {
			return fmt.Errorf("reload card: %w", err)
		}
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return updated, nil
}

// beforeCardLock runs between reading a card and locking it.
var beforeCardLock = func(cardID string) {}

// lockCardMove locks the parent lists of a move in id order and then the card
// row. A card moved elsewhere between the read and the lock is re-read under a
// fresh savepoint, which drops the stale list locks, up to maxRekeyAttempts.
func lockCardMove(ctx context.Context, tx *sql.Tx, cardID string, listID *string, reindex bool) (string, bool, error) {
	for attempt := 0; attempt < maxRekeyAttempts; attempt++ {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT relock`); err != nil {
			return "", false, fmt.Errorf("savepoint: %w", err)
		}
		current, err := scanCard(tx.QueryRowContext(ctx, cardSelect, cardID))
		if err != nil {
			return "", false, fmt.Errorf("get card %s: %w", cardID, err)
		}
		destination := current.ListID
		if listID != nil {
			destination = *listID
		}
		moving := destination != current.ListID || reindex
		beforeCardLock(cardID)

		if moving {
			parents := []string{current.ListID}
			if destination != current.ListID {
				parents = append(parents, destination)
			}
			sort.Strings(parents)
			for _, parent := range parents {
				if err := lockRow(ctx, tx, "lists", parent); err != nil {
					return "", false, err
				}
			}
		}

		var lockedList string
		if err := tx.QueryRowContext(ctx, `SELECT list_id FROM cards WHERE id=$1 FOR UPDATE`, cardID).Scan(&lockedList); err != nil {
			return "", false, fmt.Errorf("lock card: %w", err)
		}
		if !moving || lockedList == current.ListID {
			if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT relock`); err != nil {
				return "", false, fmt.Errorf("release savepoint: %w", err)
			}
			return destination, moving, nil
		}
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT relock`); err != nil {
			return "", false, fmt.Errorf("rollback to savepoint: %w", err)
		}
		metrics.OrderingConflicts.WithLabelValues("card").Inc()
	}
	return "", false, ErrOrderingConflict
}

func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, cardID)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("delete card %s: %w", cardID, sql.ErrNoRows)
	}
	return nil
}

// =============================================================================
// Ordering helpers
// =============================================================================

// rekey computes a position and applies it under a savepoint. A collision on
// the sibling uniqueness index rolls back to the savepoint, re-reads the
// neighbours and tries again, so the transaction itself survives.
func rekey(ctx context.Context, tx *sql.Tx, entity, constraint string, compute func() (string, error), apply func(string) error) (string, error) {
	for attempt := 0; attempt < maxRekeyAttempts; attempt++ {
		position, err := compute()
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `SAVEPOINT rekey`); err != nil {
			return "", fmt.Errorf("savepoint: %w", err)
		}
		err = apply(position)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT rekey`); err != nil {
				return "", fmt.Errorf("release savepoint: %w", err)
			}
			return position, nil
		}
		if !isUniqueViolation(err, constraint) {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT rekey`); err != nil {
			return "", fmt.Errorf("rollback to savepoint: %w", err)
		}
		metrics.OrderingConflicts.WithLabelValues(entity).Inc()
	}
	return "", ErrOrderingConflict
}

// lockRow takes a row lock on table.id. table is always a package constant.
func lockRow(ctx context.Context, tx *sql.Tx, table, id string) error {
	var locked string
	err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		return fmt.Errorf("lock %s %s: %w", table, id, err)
	}
	return nil
}

func lastPosition(ctx context.Context, tx *sql.Tx, query string, args ...any) (string, error) {
	var position string
	err := tx.QueryRowContext(ctx, query, args...).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read last position: %w", err)
	}
	return position, nil
}

func siblingPositions(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read siblings: %w", err)
	}
	defer rows.Close()

	positions := make([]string, 0)
	for rows.Next() {
		var position string
		if err := rows.Scan(&position); err != nil {
			return nil, fmt.Errorf("scan sibling: %w", err)
		}
		positions = append(positions, position)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate siblings: %w", err)
	}
	return positions, nil
}
