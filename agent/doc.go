// Package agent defines the participant abstraction and the message format
// used for coordination. External packages implement the Participant
// interface (or register a factory for a participant kind) and hand
// instances to a collab.Manager.
package agent
