package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type UserService struct {
	users  port.UserRepository
	logger *zap.Logger
}

func NewUserService(users port.UserRepository, logger *zap.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// Profile returns the user's account with the contact fields checkout still
// needs, so an incomplete profile can be fixed before ordering.
func (s *UserService) Profile(ctx context.Context, userID int64) (*domain.User, []string, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}
	missing := domain.ContactInfo{Email: user.Email, Phone: user.Phone}.MissingFields()
	return user, missing, nil
}
