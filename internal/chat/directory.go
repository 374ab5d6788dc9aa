package chat

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var (
	// ErrInvalidUsername covers malformed, reserved and taken usernames.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrUnknownUser is returned when no live user has the username.
	ErrUnknownUser = errors.New("unknown user")
	// ErrInvalidStatus is returned for a status outside the allowed set.
	ErrInvalidStatus = errors.New("invalid status")
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9]{3,30}$`)

// reservedUsernames collide with broadcast addressing.
var reservedUsernames = map[string]bool{
	"all":      true,
	"everyone": true,
}

// ValidUsername reports whether name is well formed and not reserved. It
// does not check whether the name is in use.
func ValidUsername(name string) bool {
	return usernameRegex.MatchString(name) && !reservedUsernames[name]
}

// Status is a user's presence as shown on the user board.
type Status string

const (
	StatusOnline       Status = "ONLINE"
	StatusOffline      Status = "OFFLINE"
	StatusDoNotDisturb Status = "DO_NOT_DISTURB"
)

// ParseStatus validates a status token. Tokens are case-sensitive.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusDoNotDisturb:
		return true
	default:
		return false
	}
}

// User is a joined connection's identity on the board.
type User struct {
	Name   string
	Status Status
}

// Directory is the shared username and status table, keyed by connection.
// A secondary index keeps username lookups O(1) for the router.
type Directory struct {
	users  map[ConnID]*User
	byName map[string]ConnID
	mu     sync.RWMutex
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		users:  make(map[ConnID]*User),
		byName: make(map[string]ConnID),
	}
}

// Register validates name and binds it to id with status ONLINE. The
// uniqueness check and the insert happen under one write lock, so of two
// concurrent registrations of the same name exactly one wins. A connection
// that already has a user cannot register again.
func (d *Directory) Register(id ConnID, name string) error {
	if !ValidUsername(name) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.users[id]; ok {
		return fmt.Errorf("%w: connection already joined as %q", ErrInvalidUsername, existing.Name)
	}
	if _, taken := d.byName[name]; taken {
		return fmt.Errorf("%w: %q is taken", ErrInvalidUsername, name)
	}

	d.users[id] = &User{Name: name, Status: StatusOnline}
	d.byName[name] = id
	return nil
}

// Unregister removes the user bound to id and returns its name. It is a
// no-op for connections that never joined or already left.
func (d *Directory) Unregister(id ConnID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return "", false
	}
	delete(d.users, id)
	delete(d.byName, user.Name)
	return user.Name, true
}

// SetStatus changes the status of a live user.
func (d *Directory) SetStatus(name string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUser, name)
	}
	d.users[id].Status = status
	return nil
}

// Snapshot returns a point-in-time copy of username to status.
func (d *Directory) Snapshot() map[string]Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	board := make(map[string]Status, len(d.users))
	for _, user := range d.users {
		board[user.Name] = user.Status
	}
	return board
}

// FindConnection resolves a username to its connection.
func (d *Directory) FindConnection(name string) (ConnID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byName[name]
	return id, ok
}

// Lookup returns the user bound to a connection.
func (d *Directory) Lookup(id ConnID) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return User{}, false
	}
	return *user, true
}

// Count returns the number of joined users.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
