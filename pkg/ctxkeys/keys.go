// Package ctxkeys defines typed keys for values stored on gin and request contexts.
package ctxkeys

// Key is a typed context key to prevent collisions.
type Key string

const (
	KeyUserID    Key = "user_id"
	KeyEmail     Key = "email"
	KeyAuthType  Key = "auth_type"
	KeyRequestID Key = "request_id"
)
