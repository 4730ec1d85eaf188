package users

import (
	"context"
	"fmt"
	"log"
	"strings"

	"socialbackend/models"
)

type UsersRepository interface {
	GetOrCreateUser(ctx context.Context, authProvider, authProviderID, email string) (*models.User, error)
}

// UsersService maps session identities (Clerk subjects) onto local users
type UsersService struct {
	usersRepo UsersRepository
}

func NewUsersService(repo UsersRepository) *UsersService {
	return &UsersService{usersRepo: repo}
}

// GetOrCreateUser resolves a session identity to a local user. Email is optional and stored lowercased.
func (s *UsersService) GetOrCreateUser(
	ctx context.Context,
	authProvider, authProviderID, email string,
) (*models.User, error) {
	authProvider = strings.TrimSpace(authProvider)
	authProviderID = strings.TrimSpace(authProviderID)

	switch {
	case authProvider == "":
		return nil, fmt.Errorf("auth_provider cannot be empty")
	case authProviderID == "":
		return nil, fmt.Errorf("auth_provider_id cannot be empty")
	}

	user, err := s.usersRepo.GetOrCreateUser(ctx, authProvider, authProviderID, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}

	log.Printf("📋 Completed successfully - resolved %s identity %s to user: %s", authProvider, authProviderID, user.ID)
	return user, nil
}
