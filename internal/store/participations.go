package store

import (
	"context"
	"database/sql"
	"fmt"

	"kanban/api/internal/rbac"
)

const participationColumns = `id, user_id, participable_type, participable_id, role, created_at, updated_at`

func scanParticipation(row interface{ Scan(...any) error }) (Participation, error) {
	var p Participation
	var kind, role string
	if err := row.Scan(&p.ID, &p.UserID, &kind, &p.Target.ID, &role, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Participation{}, err
	}
	p.Target.Kind = ParticipableKind(kind)
	p.Role = rbac.Normalize(role)
	return p, nil
}

func insertParticipation(ctx context.Context, tx *sql.Tx, p Participation) (Participation, error) {
	created, err := scanParticipation(tx.QueryRowContext(ctx, `
		INSERT INTO participations (id, user_id, participable_type, participable_id, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+participationColumns,
		p.ID, p.UserID, string(p.Target.Kind), p.Target.ID, string(p.Role)))
	if isUniqueViolation(err, "participations_user_participable_key") {
		return Participation{}, ErrDuplicateParticipation
	}
	if err != nil {
		return Participation{}, fmt.Errorf("insert participation: %w", err)
	}
	return created, nil
}

// FindParticipation returns the single participation of userID on target, or
// sql.ErrNoRows when there is none.
func (s *PostgresStore) FindParticipation(ctx context.Context, userID string, target Participable) (Participation, error) {
	p, err := scanParticipation(s.db.QueryRowContext(ctx, `
		SELECT `+participationColumns+`
		FROM participations
		WHERE user_id=$1 AND participable_type=$2 AND participable_id=$3
	`, userID, string(target.Kind), target.ID))
	if err != nil {
		return Participation{}, fmt.Errorf("find participation: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetParticipation(ctx context.Context, participationID string) (Participation, error) {
	p, err := scanParticipation(s.db.QueryRowContext(ctx, `
		SELECT `+participationColumns+` FROM participations WHERE id=$1
	`, participationID))
	if err != nil {
		return Participation{}, fmt.Errorf("get participation %s: %w", participationID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipations(ctx context.Context, target Participable) ([]ParticipationWithUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.user_id, p.participable_type, p.participable_id, p.role, p.created_at, p.updated_at,
			u.name, u.email
		FROM participations p
		JOIN users u ON u.id = p.user_id
		WHERE p.participable_type=$1 AND p.participable_id=$2
		ORDER BY p.created_at, p.id
	`, string(target.Kind), target.ID)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()

	items := make([]ParticipationWithUser, 0)
	for rows.Next() {
		var item ParticipationWithUser
		var kind, role string
		if err := rows.Scan(&item.ID, &item.UserID, &kind, &item.Target.ID, &role, &item.CreatedAt, &item.UpdatedAt, &item.UserName, &item.UserEmail); err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		item.Target.Kind = ParticipableKind(kind)
		item.Role = rbac.Normalize(role)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateParticipation(ctx context.Context, p Participation) (Participation, error) {
	var created Participation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = insertParticipation(ctx, tx, p)
		return err
	})
	return created, err
}

// UpdateParticipationRole changes a role. Demoting the last admin of the
// participable fails with ErrLastAdmin.
func (s *PostgresStore) UpdateParticipationRole(ctx context.Context, participationID string, role rbac.Role) (Participation, error) {
	var updated Participation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockParticipationSet(ctx, tx, participationID)
		if err != nil {
			return err
		}
		if current.Role == rbac.RoleAdmin && role != rbac.RoleAdmin {
			if err := ensureOtherAdmin(ctx, tx, current); err != nil {
				return err
			}
		}
		updated, err = scanParticipation(tx.QueryRowContext(ctx, `
			UPDATE participations SET role=$2, updated_at=NOW() WHERE id=$1
			RETURNING `+participationColumns,
			participationID, string(role)))
		if err != nil {
			return fmt.Errorf("update participation: %w", err)
		}
		return nil
	})
	return updated, err
}

// DeleteParticipation removes a participation. Removing the last admin of the
// participable fails with ErrLastAdmin.
func (s *PostgresStore) DeleteParticipation(ctx context.Context, participationID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockParticipationSet(ctx, tx, participationID)
		if err != nil {
			return err
		}
		if current.Role == rbac.RoleAdmin {
			if err := ensureOtherAdmin(ctx, tx, current); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM participations WHERE id=$1`, participationID); err != nil {
			return fmt.Errorf("delete participation: %w", err)
		}
		return nil
	})
}

// lockParticipationSet locks every participation on the same participable as
// participationID so concurrent demotions cannot both pass the admin check.
func lockParticipationSet(ctx context.Context, tx *sql.Tx, participationID string) (Participation, error) {
	current, err := scanParticipation(tx.QueryRowContext(ctx, `
		SELECT `+participationColumns+` FROM participations WHERE id=$1
	`, participationID))
	if err != nil {
		return Participation{}, fmt.Errorf("get participation %s: %w", participationID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		SELECT id FROM participations
		WHERE participable_type=$1 AND participable_id=$2
		ORDER BY id FOR UPDATE
	`, string(current.Target.Kind), current.Target.ID); err != nil {
		return Participation{}, fmt.Errorf("lock participations: %w", err)
	}
	return current, nil
}

func ensureOtherAdmin(ctx context.Context, tx *sql.Tx, current Participation) error {
	var admins int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participations
		WHERE participable_type=$1 AND participable_id=$2 AND role=$3 AND id<>$4
	`, string(current.Target.Kind), current.Target.ID, string(rbac.RoleAdmin), current.ID).Scan(&admins)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if admins == 0 {
		return ErrLastAdmin
	}
	return nil
}
