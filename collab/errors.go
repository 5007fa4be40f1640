package collab

import "errors"

// Structural misuse errors, raised immediately to the caller. Per-message
// and per-participant failures are recorded in round results instead.
var (
	// ErrUnknownRecipient is returned by Send when the target id is neither
	// a registered participant nor the broadcast sentinel.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrUnknownSender is returned by Send when the sender id is neither a
	// registered participant nor the manager sentinel.
	ErrUnknownSender = errors.New("unknown sender")

	// ErrAlreadyRegistered is returned when a participant id is taken.
	ErrAlreadyRegistered = errors.New("participant already registered")

	// ErrNoParticipants is returned by Collaborate on an empty registry.
	ErrNoParticipants = errors.New("no participants registered")

	// ErrNoCapableParticipant is returned by routing when no participant
	// has any capability overlap and fallback routing is disabled.
	ErrNoCapableParticipant = errors.New("no capable participant")

	// ErrRunActive is returned by Collaborate while another run is active.
	ErrRunActive = errors.New("collaboration already running")

	// ErrRateLimited is returned by Send when the configured send limiter
	// rejects the sender.
	ErrRateLimited = errors.New("send rate limit exceeded")
)
