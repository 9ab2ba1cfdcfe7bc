package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"log/slog"

	"github.com/splax/splitter/internal/domain"
	"github.com/splax/splitter/internal/repository"
	"github.com/splax/splitter/pkg/config"
	"github.com/splax/splitter/pkg/crypto"
	jwtpkg "github.com/splax/splitter/pkg/jwt"
)

// MaxUniqueIDAttempts bounds the optimistic insert loop in Register.
const MaxUniqueIDAttempts = 10

// PasswordPolicyMessage describes the password rules enforced on registration.
const PasswordPolicyMessage = "Password must be at least 8 characters long and include uppercase, lowercase, number, and special character"

var (
	ErrMissingFields      = errors.New("Please provide email, password, and username")
	ErrInvalidEmail       = errors.New("Invalid email format")
	ErrWeakPassword       = errors.New(PasswordPolicyMessage)
	ErrEmailTaken         = errors.New("Email already in use")
	ErrUniqueIDExhausted  = errors.New("Failed to generate unique ID")
	ErrMissingCredentials = errors.New("Please fill all fields")
	ErrInvalidCredentials = errors.New("Invalid email or password")
	ErrUserNotFound       = errors.New("User not found")
	ErrUnauthorized       = errors.New("Unauthorized")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Service handles authentication workflows.
type Service struct {
	users       repository.UserRepository
	logger      *slog.Logger
	cfg         config.APIConfig
	newUniqueID func() (string, error)
	onCollision func()
}

// Option customises a Service.
type Option func(*Service)

// WithUniqueIDGenerator replaces the random "#XXXXXXXX" generator.
func WithUniqueIDGenerator(fn func() (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.newUniqueID = fn
		}
	}
}

// WithCollisionHook registers a callback invoked on every unique id collision.
func WithCollisionHook(fn func()) Option {
	return func(s *Service) {
		s.onCollision = fn
	}
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig, opts ...Option) Service {
	s := Service{users: users, logger: logger, cfg: cfg, newUniqueID: GenerateUniqueID}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// RegisterInput carries raw registration fields.
type RegisterInput struct {
	Email    string
	Password string
	Username string
}

// GenerateUniqueID returns "#" followed by 8 upper-case hex characters.
func GenerateUniqueID() (string, error) {
	suffix, err := crypto.RandomHex(4)
	if err != nil {
		return "", err
	}
	return "#" + suffix, nil
}

// IsStrongPassword enforces the registration password policy.
func IsStrongPassword(password string) bool {
	if len([]rune(password)) < 8 {
		return false
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	return upper && lower && digit && special
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register validates input, creates the user and issues a token.
// The unique id is never pre-checked: each attempt inserts atomically and a
// unique_id conflict triggers a retry with a fresh id.
func (s Service) Register(ctx context.Context, in RegisterInput) (*domain.User, string, error) {
	email := NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	password := in.Password
	if email == "" || password == "" || username == "" {
		return nil, "", ErrMissingFields
	}
	if !emailPattern.MatchString(email) {
		return nil, "", ErrInvalidEmail
	}
	if !IsStrongPassword(password) {
		return nil, "", ErrWeakPassword
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", fmt.Errorf("lookup email: %w", err)
	}

	hash, err := crypto.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	var user *domain.User
	for attempt := 0; attempt < MaxUniqueIDAttempts; attempt++ {
		uniqueID, err := s.newUniqueID()
		if err != nil {
			return nil, "", fmt.Errorf("generate unique id: %w", err)
		}
		candidate := &domain.User{
			Email:        email,
			PasswordHash: hash,
			Username:     username,
			UniqueID:     uniqueID,
			CreatedAt:    time.Now().UTC(),
		}
		err = s.users.CreateUser(ctx, candidate)
		if err == nil {
			user = candidate
			break
		}
		switch {
		case repository.IsConflict(err, repository.FieldEmail):
			return nil, "", ErrEmailTaken
		case repository.IsConflict(err, repository.FieldUniqueID):
			if s.onCollision != nil {
				s.onCollision()
			}
			s.logger.Warn("unique id collision", "attempt", attempt+1)
			continue
		default:
			return nil, "", fmt.Errorf("create user: %w", err)
		}
	}
	if user == nil {
		s.logger.Error("unique id attempts exhausted", "attempts", MaxUniqueIDAttempts)
		return nil, "", ErrUniqueIDExhausted
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login authenticates a user and returns a token.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, "", ErrMissingCredentials
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Me returns the profile of the authenticated user.
func (s Service) Me(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Authorize validates a bearer token and returns its claims. It does not load
// the user, so a deleted account surfaces as 404 from Me rather than 401.
func (s Service) Authorize(_ context.Context, token string) (*jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, ErrUnauthorized
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims, nil
}

func (s Service) issueToken(user *domain.User) (string, error) {
	token, err := jwtpkg.GenerateToken(user.ID, user.Email, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
