package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"coinview/logger"
	"coinview/models"
)

var (
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrWeakPassword    = errors.New("password too short")
	ErrEmailTaken      = errors.New("email already registered")
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
)

const DefaultMinPasswordLength = 6

type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserStore persists accounts. Create returns ErrEmailTaken for a duplicate
// email and ByEmail returns ErrUserNotFound for an unknown one.
type UserStore interface {
	Create(ctx context.Context, user User) error
	ByEmail(ctx context.Context, email string) (User, error)
}

// SessionStore persists sign-in sessions. Get returns ErrSessionNotFound for
// unknown or expired tokens.
type SessionStore interface {
	Save(ctx context.Context, session Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
}

// SessionEvent is delivered to OnSessionChanged callbacks.
type SessionEvent struct {
	Session  Session
	SignedIn bool
}

type Options struct {
	SessionTTL        time.Duration
	MinPasswordLength int
	BcryptCost        int
	Now               func() time.Time
	Log               *logger.Log
}

// Service signs users in and out with email and password.
type Service struct {
	users       UserStore
	sessions    SessionStore
	ttl         time.Duration
	minPassword int
	cost        int
	now         func() time.Time
	log         *logger.Log

	mu       sync.RWMutex
	handlers map[uint64]func(SessionEvent)
	nextID   uint64
}

func NewService(users UserStore, sessions SessionStore, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = DefaultMinPasswordLength
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}

	return &Service{
		users:       users,
		sessions:    sessions,
		ttl:         opts.SessionTTL,
		minPassword: opts.MinPasswordLength,
		cost:        opts.BcryptCost,
		now:         opts.Now,
		log:         opts.Log,
		handlers:    make(map[uint64]func(SessionEvent)),
	}
}

// NormalizeEmail trims and lower-cases email and checks it parses as a bare
// address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return email, nil
}

// bcrypt rejects longer inputs.
const maxPasswordBytes = 72

// Register creates an account. It does not sign the user in.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	if len(password) < s.minPassword {
		return User{}, fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, s.minPassword)
	}
	if len(password) > maxPasswordBytes {
		return User{}, fmt.Errorf("%w: at most %d bytes", ErrWeakPassword, maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return User{}, err
	}

	s.log.WithComponent("auth").WithFields(logger.Fields{"user_id": user.ID}).Info("user registered")
	return user, nil
}

// SignIn checks the credentials and opens a session. Unknown emails and
// wrong passwords both yield models.ErrAuthFailed.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	log := s.log.WithComponent("auth")

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Session{}, models.ErrAuthFailed
	}

	user, err := s.users.ByEmail(ctx, normalized)
	if errors.Is(err, ErrUserNotFound) {
		log.Debug("sign in for unknown email")
		return Session{}, models.ErrAuthFailed
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.WithFields(logger.Fields{"user_id": user.ID}).Warn("wrong password")
		return Session{}, models.ErrAuthFailed
	}

	now := s.now().UTC()
	session := Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Save(ctx, session, s.ttl); err != nil {
		return Session{}, fmt.Errorf("failed to save session: %w", err)
	}

	log.WithFields(logger.Fields{"user_id": user.ID}).Info("signed in")
	s.notify(SessionEvent{Session: session, SignedIn: true})
	return session, nil
}

// SignOut ends the session for token.
func (s *Service) SignOut(ctx context.Context, token string) error {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.log.WithComponent("auth").WithFields(logger.Fields{"user_id": session.UserID}).Info("signed out")
	s.notify(SessionEvent{Session: session, SignedIn: false})
	return nil
}

// Session looks up a live session.
func (s *Service) Session(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionNotFound
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if !session.ExpiresAt.IsZero() && !s.now().Before(session.ExpiresAt) {
		_ = s.sessions.Delete(ctx, token)
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// OnSessionChanged registers fn for every sign-in and sign-out. The returned
// function removes it.
func (s *Service) OnSessionChanged(fn func(SessionEvent)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

func (s *Service) notify(ev SessionEvent) {
	s.mu.RLock()
	handlers := make([]func(SessionEvent), 0, len(s.handlers))
	for _, fn := range s.handlers {
		handlers = append(handlers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
