package broker

// UserID identifies a connected user. It is derived verbatim from the
// asserted display name; no case or whitespace normalization is applied.
type UserID string

// User is an immutable value pairing an identity with its display name.
type User struct {
	ID          UserID
	DisplayName string
}

// NewUser builds a User whose identity is the display name itself.
func NewUser(displayName string) User {
	return User{
		ID:          UserID(displayName),
		DisplayName: displayName,
	}
}

func (id UserID) String() string {
	return string(id)
}
