package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
	"kanban/api/internal/validate"
)

type GrantParticipationInput struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=viewer editor admin"`
}

type UpdateParticipationInput struct {
	Role string `json:"role" validate:"required,oneof=viewer editor admin"`
}

func (s *Service) ListParticipations(ctx context.Context, user *store.User, boardSlug string) ([]ParticipationView, error) {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return nil, err
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionListParticipations, board); err != nil {
		return nil, err
	}
	participations, err := s.store.ListParticipations(ctx, board.Participable())
	if err != nil {
		return nil, err
	}
	items := make([]ParticipationView, 0, len(participations))
	for _, p := range participations {
		view := participationView(p.Participation)
		view.UserName = p.UserName
		view.UserEmail = p.UserEmail
		items = append(items, view)
	}
	return items, nil
}

// GrantParticipation gives the user registered under input.Email a role on
// the board. The storage unique constraint rejects a second participation.
func (s *Service) GrantParticipation(ctx context.Context, user *store.User, boardSlug string, input GrantParticipationInput) (ParticipationView, error) {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return ParticipationView{}, err
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionManageParticipation, board); err != nil {
		return ParticipationView{}, err
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Role = strings.TrimSpace(input.Role)
	if err := validate.Struct(input); err != nil {
		return ParticipationView{}, err
	}

	invitee, err := s.store.GetUserByEmail(ctx, input.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return ParticipationView{}, notFound("User")
	}
	if err != nil {
		return ParticipationView{}, err
	}

	created, err := s.store.CreateParticipation(ctx, store.Participation{
		ID:     util.NewID(util.PrefixParticipation),
		UserID: invitee.ID,
		Target: board.Participable(),
		Role:   rbac.Role(input.Role),
	})
	if err != nil {
		return ParticipationView{}, storeError(err, "Participation")
	}

	s.sendInvitation(user, invitee, board, created.Role)

	view := participationView(created)
	view.UserName = invitee.Name
	view.UserEmail = invitee.Email
	return view, nil
}

func (s *Service) UpdateParticipation(ctx context.Context, user *store.User, boardSlug, participationID string, input UpdateParticipationInput) (ParticipationView, error) {
	board, current, err := s.loadParticipation(ctx, user, boardSlug, participationID)
	if err != nil {
		return ParticipationView{}, err
	}
	input.Role = strings.TrimSpace(input.Role)
	if err := validate.Struct(input); err != nil {
		return ParticipationView{}, err
	}
	if rbac.Role(input.Role) == current.Role {
		return participationView(current), nil
	}

	updated, err := s.store.UpdateParticipationRole(ctx, current.ID, rbac.Role(input.Role))
	if err != nil {
		return ParticipationView{}, storeError(err, "Participation")
	}
	log.WithFields(log.Fields{
		"board_id":         board.ID,
		"participation_id": updated.ID,
		"role":             updated.Role,
	}).Info("participation role changed")
	return participationView(updated), nil
}

func (s *Service) RevokeParticipation(ctx context.Context, user *store.User, boardSlug, participationID string) error {
	_, current, err := s.loadParticipation(ctx, user, boardSlug, participationID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteParticipation(ctx, current.ID); err != nil {
		return storeError(err, "Participation")
	}
	return nil
}

// loadParticipation authorizes a sharing change on the board and checks that
// participationID belongs to it.
func (s *Service) loadParticipation(ctx context.Context, user *store.User, boardSlug, participationID string) (store.Board, store.Participation, error) {
	board, err := s.loadBoard(ctx, boardSlug)
	if err != nil {
		return store.Board{}, store.Participation{}, err
	}
	if _, err := s.Authorize(ctx, user, rbac.ActionManageParticipation, board); err != nil {
		return store.Board{}, store.Participation{}, err
	}
	current, err := s.store.GetParticipation(ctx, participationID)
	if err != nil {
		return store.Board{}, store.Participation{}, storeError(err, "Participation")
	}
	if current.Target != board.Participable() {
		return store.Board{}, store.Participation{}, notFound("Participation")
	}
	return board, current, nil
}

func (s *Service) sendInvitation(inviter *store.User, invitee store.User, board store.Board, role rbac.Role) {
	if !s.SMTPConfigured() {
		return
	}
	link := fmt.Sprintf("%s/boards/%s", s.cfg.AppURL, board.Slug)
	if err := s.email.SendInvitationEmail(invitee.Email, inviter.Name, board.Title, string(role), link); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"board_id": board.ID,
			"to":       invitee.Email,
		}).Warn("email: send invitation")
	}
}
