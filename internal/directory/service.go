package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
)

type RegisterInput struct {
	Email             string
	Password          string
	FirstName         string
	LastName          string
	Role              Role
	Specialization    *string
	InsuranceProvider *string
	InsuranceNumber   *string
}

type Service struct {
	repo   Repository
	sink   notify.Sink
	logger *zap.Logger
	cost   int
}

func NewService(repo Repository, sink notify.Sink, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		sink:   sink,
		logger: logger,
		cost:   bcrypt.DefaultCost,
	}
}

// WithHashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Register creates a user. Anyone may register a patient; doctors and admins
// can only be created by an admin.
func (s *Service) Register(ctx context.Context, requester *Principal, in RegisterInput) (*User, error) {
	switch in.Role {
	case RolePatient:
	case RoleDoctor:
		if requester == nil || !requester.IsAdmin() {
			return nil, fmt.Errorf("register doctor: %w", apperr.ErrForbidden)
		}
		if in.Specialization == nil || *in.Specialization == "" {
			return nil, fmt.Errorf("doctor specialization is required: %w", apperr.ErrValidation)
		}
	case RoleAdmin:
		if requester == nil || !requester.IsAdmin() {
			return nil, fmt.Errorf("register admin: %w", apperr.ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("role %q: %w", in.Role, apperr.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: string(hash),
		Role:         in.Role,
	}
	switch in.Role {
	case RoleDoctor:
		u.Specialization = in.Specialization
	case RolePatient:
		u.InsuranceProvider = in.InsuranceProvider
		u.InsuranceNumber = in.InsuranceNumber
	case RoleAdmin:
	}

	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		zap.String("user_id", u.ID.String()),
		zap.String("role", string(u.Role)),
	)
	s.sink.Enqueue(notify.NewIntent(notify.RKUserRegistered, notify.UserRegistered{
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		Role:      string(u.Role),
	}))

	return u, nil
}

// Authenticate checks credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.ErrUnauthorized
	}
	return u, nil
}

// EnsureAdmin creates the bootstrap admin if no user has that email yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return errors.New("admin email and password must be set")
	}
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}

	system := &Principal{Role: RoleAdmin}
	_, err := s.Register(ctx, system, RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Super",
		LastName:  "Admin",
		Role:      RoleAdmin,
	})
	if errors.Is(err, apperr.ErrAlreadyExists) {
		return nil
	}
	return err
}
