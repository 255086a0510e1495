package group

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInputType    = errors.New("group: invalid peer node address input type")
	ErrDuplicateAddress    = errors.New("group: input contains duplicate addresses")
	ErrInvalidAddress      = errors.New("group: invalid account address")
	ErrInvalidGroupIDRange = errors.New("group: invalid group id, out of range")

	// Peer-supplied data. These wrap ErrInvalidAddress / ErrInvalidGroupIDRange
	// so callers can match either the source or the defect.
	ErrInvalidDHTAddress = errors.New("group: invalid group id dht from peer nodes (account address invalid)")
	ErrInvalidDHTGroupID = errors.New("group: invalid group id dht from peer nodes (group id out of range)")

	ErrNoSaver       = errors.New("group: no table saver configured")
	ErrInvalidConfig = errors.New("group: invalid config")
)

func invalidf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}

func fromPeer(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// IsValidation reports whether err is one of the input validation failures
// (as opposed to an I/O or configuration error).
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInputType) ||
		errors.Is(err, ErrDuplicateAddress) ||
		errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrInvalidGroupIDRange)
}
