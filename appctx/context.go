package appctx

import (
	"context"

	"socialbackend/models"
)

type userKey struct{}

// SetUser binds the authenticated user to the request context
func SetUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// GetUser returns the authenticated user. A nil user counts as absent.
func GetUser(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey{}).(*models.User)
	return user, ok && user != nil
}

// UserID returns the authenticated user's ID or fallback
func UserID(ctx context.Context, fallback string) string {
	if user, ok := GetUser(ctx); ok {
		return user.ID
	}
	return fallback
}
