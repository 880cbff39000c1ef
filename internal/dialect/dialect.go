// Package dialect is the seam between the untyped wire grammar and the
// typed protocol events the core consumes. A Dialect owns one grammar:
// it translates inbound commands into events and builds the outbound
// commands for handshake, burst, and steady state. The session drives
// it from a single goroutine, so implementations may keep parse state
// without locking.
package dialect

import (
	"fmt"

	"github.com/perch-irc/perch/internal/codec"
	"github.com/perch-irc/perch/internal/core"
	"github.com/perch-irc/perch/internal/state"
)

// Identity describes the linking server as the grammar needs it.
type Identity struct {
	Name        string
	SID         state.ServerID
	Description string
}

// Result is what one inbound command translates to. Any combination of
// fields may be set; all-zero means the command was consumed silently.
type Result struct {
	// Events are typed protocol events, in application order.
	Events []core.Event
	// Replies are commands to submit to the outbound queue immediately,
	// such as a PONG.
	Replies []codec.Command
	// Password carries a link password received during negotiation, for
	// the session to verify.
	Password *string
	// Synced reports the uplink's end-of-burst marker.
	Synced bool
	// Pong reports a keepalive answer, resetting the liveness timer.
	Pong bool
	// Close reports the peer tearing the link down.
	Close bool
	// CloseReason is the peer's stated reason when Close is set.
	CloseReason string
}

// Dialect translates one wire grammar. Implementations are constructed
// around the local server's Identity. Translate is allowed to fail per
// command with UnknownCommandError or ParameterError; both are
// recoverable, the command is dropped and reported.
type Dialect interface {
	Name() string

	// Handshake returns the commands opening the link, in send order:
	// password, capabilities, our server introduction.
	Handshake(password string) []codec.Command

	// EndOfBurst returns the commands marking the end of our burst.
	EndOfBurst() []codec.Command

	// Ping and Pong build keepalive commands around an opaque token.
	Ping(token string) codec.Command
	Pong(token string) codec.Command

	// IntroduceClient bursts one of our local users to the uplink.
	IntroduceClient(u state.User) codec.Command
	// RemoveClient announces a local user quitting.
	RemoveClient(id state.UserID, reason string) codec.Command

	// Join and Part announce local membership changes.
	Join(id state.UserID, channel string, ts int64) codec.Command
	Part(id state.UserID, channel, reason string) codec.Command

	// Message builds a PRIVMSG or NOTICE from a local user.
	Message(from state.UserID, target, text string, notice bool) codec.Command

	// Translate maps one inbound command to its typed meaning.
	Translate(cmd codec.Command) (Result, error)
}

// UnknownCommandError reports a command name the dialect has no rule
// for. Recoverable: the command is dropped.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

// ParameterError reports a command whose parameters do not fit the
// grammar. Recoverable: the command is dropped.
type ParameterError struct {
	Name   string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.Name, e.Reason)
}
