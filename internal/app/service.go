package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban/api/internal/auth"
	"kanban/api/internal/authpw"
	"kanban/api/internal/config"
	"kanban/api/internal/email"
	"kanban/api/internal/export"
	"kanban/api/internal/history"
	"kanban/api/internal/metrics"
	"kanban/api/internal/rbac"
	"kanban/api/internal/search"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	User         store.User
	JTI          string
	ExpiresAt    time.Time
}

// SessionStore keeps refresh tokens and revoked access tokens. Both the
// Postgres store and the Redis session store satisfy it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	// ConsumeRefreshSession atomically deletes a refresh token and returns
	// its user. A token that is unknown, expired or already spent fails.
	ConsumeRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeUserSessions(ctx context.Context, userID string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type dataStore interface {
	authpw.UserStore
	SessionStore
	Ping(ctx context.Context) error

	CreateBoard(ctx context.Context, board store.Board, owner store.Participation, maxSlugAttempts int) (store.Board, error)
	GetBoardBySlug(ctx context.Context, slug string) (store.Board, error)
	ListBoardsForUser(ctx context.Context, userID string) ([]store.BoardSummary, error)
	LoadBoardTree(ctx context.Context, boardID string) (store.BoardTree, error)
	UpdateBoard(ctx context.Context, boardID string, update store.BoardUpdate) (store.Board, error)
	DeleteBoard(ctx context.Context, boardID string) error

	GetList(ctx context.Context, listID string) (store.List, error)
	CreateList(ctx context.Context, list store.List) (store.List, error)
	UpdateList(ctx context.Context, listID string, update store.ListUpdate) (store.List, error)
	DeleteList(ctx context.Context, listID string) error

	GetCard(ctx context.Context, cardID string) (store.Card, error)
	CreateCard(ctx context.Context, card store.Card) (store.Card, error)
	UpdateCard(ctx context.Context, cardID string, update store.CardUpdate) (store.Card, error)
	DeleteCard(ctx context.Context, cardID string) error

	FindParticipation(ctx context.Context, userID string, target store.Participable) (store.Participation, error)
	GetParticipation(ctx context.Context, participationID string) (store.Participation, error)
	ListParticipations(ctx context.Context, target store.Participable) ([]store.ParticipationWithUser, error)
	CreateParticipation(ctx context.Context, p store.Participation) (store.Participation, error)
	UpdateParticipationRole(ctx context.Context, participationID string, role rbac.Role) (store.Participation, error)
	DeleteParticipation(ctx context.Context, participationID string) error
}

type historyService interface {
	Record(boardID string, snapshot history.Snapshot, author, message string) (history.Commit, error)
	History(boardID string, limit int) ([]history.Commit, error)
	SnapshotAt(boardID, hash string) (history.Snapshot, error)
	Remove(boardID string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
	export   *export.Service
	history  historyService
}

// New builds a service whose refresh sessions live in Postgres.
func New(cfg config.Config, dataStore *store.PostgresStore, recorderSvc *history.Service, searchService *search.Service, exportService *export.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, recorderSvc, searchService, exportService)
}

// NewWithSessionStore builds a service with a separate session store (Redis).
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore, recorderSvc *history.Service, searchService *search.Service, exportService *export.Service) *Service {
	var recorder historyService
	if recorderSvc != nil {
		recorder = recorderSvc
	}
	return newService(cfg, dataStore, sessions, recorder, searchService, exportService)
}

func newService(cfg config.Config, ds dataStore, sessions SessionStore, recorder historyService, searchService *search.Service, exportService *export.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    ds,
		sessions: sessions,
		authpw:   authpw.NewService(ds, authpw.WithCost(cfg.BcryptCost)),
		email: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		search:  searchService,
		export:  exportService,
		history: recorder,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) sessionStore() SessionStore {
	if s.sessions != nil {
		return s.sessions
	}
	return s.store
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession issues an access token and a refresh token for userID.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	userID, err := s.sessionStore().ConsumeRefreshSession(ctx, auth.HashToken(refreshToken))
	if err != nil {
		return Session{}, err
	}
	return s.CreateSession(ctx, userID)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID(util.PrefixTokenID)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.NewClaims(user.ID, user.Name, jti, expiresAt))
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewSecret()
	if err := s.sessionStore().SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		User:         user,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessionStore().IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		User:      user,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessionStore().RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			log.WithError(err).Warn("logout: revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessionStore().RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			log.WithError(err).Warn("logout: revoke refresh token")
		}
	}
	return nil
}

// EndAllSessions drops every refresh token userID holds. Access tokens already
// issued stay valid until they expire.
func (s *Service) EndAllSessions(ctx context.Context, userID string) error {
	return s.sessionStore().RevokeUserSessions(ctx, userID)
}

// SendVerification mails the confirmation link for a fresh account. Mail
// failures are logged; the account exists either way.
func (s *Service) SendVerification(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	link := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.AppURL, token)
	if err := s.email.SendVerificationEmail(to, userName, link); err != nil {
		log.WithError(err).WithField("to", to).Warn("email: send verification")
	}
}

func (s *Service) SendPasswordReset(ctx context.Context, to, token string) {
	if !s.SMTPConfigured() || token == "" {
		return
	}
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(to)))
	if err != nil {
		return
	}
	link := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.AppURL, token)
	if err := s.email.SendPasswordResetEmail(user.Email, user.Name, link); err != nil {
		log.WithError(err).WithField("to", user.Email).Warn("email: send password reset")
	}
}

// =============================================================================
// Role Resolver and Authorization Gate
// =============================================================================

// ResolveRole returns user's role on record. A nil user, or one without a
// participation on the record's board, is a guest. The error is reserved for
// storage failures.
func (s *Service) ResolveRole(ctx context.Context, user *store.User, record store.Record) (rbac.Role, error) {
	if user == nil {
		return rbac.RoleGuest, nil
	}
	participation, err := s.store.FindParticipation(ctx, user.ID, record.Participable())
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.RoleGuest, nil
	}
	if err != nil {
		return "", err
	}
	return participation.Role, nil
}

// Authorize checks action against record and returns the caller's role when
// permitted. A denial is a 403 DomainError and never mutates anything.
func (s *Service) Authorize(ctx context.Context, user *store.User, action rbac.Action, record store.Record) (rbac.Role, error) {
	role, err := s.ResolveRole(ctx, user, record)
	if err != nil {
		return "", err
	}
	if !rbac.Permits(role, action, record.IsPublic()) {
		metrics.AuthorizationDenials.WithLabelValues(string(action)).Inc()
		return role, errForbidden
	}
	return role, nil
}
