// Package session defines the gate the engine consults for the current
// user. The identity flow itself is an external collaborator; the core
// only needs a user id and a validity flag, and treats an absent id as
// "no sync possible" rather than an error.
package session

// Gate supplies the current user identifier and authentication validity
// that gate migration, sync and message persistence.
type Gate interface {
	// CurrentUserID returns the signed-in user's opaque id. ok is false
	// when nobody is signed in.
	CurrentUserID() (id string, ok bool)
	// IsAuthenticated reports whether the session is valid.
	IsAuthenticated() bool
}

// StaticGate is a fixed-identity gate fed from config or env. It stands in
// for the external identity provider in single-user deployments and tests.
type StaticGate struct {
	UserID string
}

func (g StaticGate) CurrentUserID() (string, bool) {
	return g.UserID, g.UserID != ""
}

func (g StaticGate) IsAuthenticated() bool {
	return g.UserID != ""
}
