package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	accountIDMinLength = 2
	accountIDMaxLength = 64
)

var (
	accountIDPattern = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)
	usernamePattern  = regexp.MustCompile(`^([a-z\d]+[-_])*[a-z\d]+$`)

	// ErrInvalidAccountID is returned when a ledger identifier does not satisfy
	// the naming constraints.
	ErrInvalidAccountID = errors.New("identity: invalid account id")
	// ErrInvalidUsername is returned when a username cannot be used as a
	// sub-identity label.
	ErrInvalidUsername = errors.New("identity: invalid username")
)

// ValidateAccountID checks that id is a well formed ledger identifier. The
// identifier is never rewritten: identity fields feed digests, so the exact
// bytes supplied by the caller must already be canonical.
func ValidateAccountID(id string) error {
	length := len(id)
	if length < accountIDMinLength || length > accountIDMaxLength {
		return fmt.Errorf("%w: must be between %d and %d characters", ErrInvalidAccountID, accountIDMinLength, accountIDMaxLength)
	}
	if !accountIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be lowercase [a-z0-9_-] parts separated by '.'", ErrInvalidAccountID, id)
	}
	return nil
}

// ValidateUsername checks that username is a single identifier part.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidUsername)
	}
	if len(username) > accountIDMaxLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidUsername, accountIDMaxLength)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: %q must be lowercase [a-z0-9_-] without '.'", ErrInvalidUsername, username)
	}
	return nil
}

// SubAccount derives the sub-identity of username namespaced under parent,
// e.g. SubAccount("alice", "wallet.ledger") == "alice.wallet.ledger".
func SubAccount(username, parent string) (string, error) {
	if err := ValidateUsername(username); err != nil {
		return "", err
	}
	if err := ValidateAccountID(parent); err != nil {
		return "", err
	}
	id := username + "." + parent
	if err := ValidateAccountID(id); err != nil {
		return "", err
	}
	return id, nil
}

// IsSubAccountOf reports whether id is a direct child of parent.
func IsSubAccountOf(id, parent string) bool {
	label, ok := strings.CutSuffix(id, "."+parent)
	if !ok {
		return false
	}
	return label != "" && !strings.Contains(label, ".")
}
