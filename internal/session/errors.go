package session

import "github.com/pkg/errors"

var (
	// ErrAllocationMismatch is returned when a request's five-tuple does
	// not match an existing allocation (maps to STUN error 437).
	ErrAllocationMismatch = errors.New("session: five-tuple does not match an existing allocation")
	// ErrAllocationExists is returned by Create when the five-tuple is
	// already allocated.
	ErrAllocationExists = errors.New("session: five-tuple already has an allocation")
	// ErrPermissionNotFound means no permission exists for the given peer.
	ErrPermissionNotFound = errors.New("session: no permission for peer")
	// ErrChannelConflict means the requested channel number or peer
	// address collides with an existing binding (maps to STUN error 400).
	ErrChannelConflict = errors.New("session: channel binding conflicts with an existing one")
	// ErrNoCapacity is returned by the port allocator when every virtual
	// port in the configured range is in use (maps to STUN error 486).
	ErrNoCapacity = errors.New("session: no relay ports available")
	// ErrInvalidChannelNumber means a channel number outside
	// [0x4000, 0x7FFF].
	ErrInvalidChannelNumber = errors.New("session: invalid channel number")
)
