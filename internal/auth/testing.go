package auth

import "context"

// SetClaimsForTest injects an authenticated user and role into the context for testing purposes.
func SetClaimsForTest(ctx context.Context, userID, role string) context.Context {
	return context.WithValue(ctx, claimsKey, &Claims{UserID: userID, Role: role})
}
