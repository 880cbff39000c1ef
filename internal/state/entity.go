// Package state holds the authoritative in-memory view of the linked
// network: servers, users, channels, and memberships. All entities are
// owned by the Store and addressed by stable IDs; callers receive copies
// and must re-look entities up rather than hold references, because a
// server split can destroy entities at any event boundary.
package state

import "strings"

// ServerID is the unique short identifier a server is introduced with
// (a SID or numeric, depending on dialect).
type ServerID string

// UserID is the network-wide unique identifier of a user. It is stable
// across nick changes for the lifetime of the user.
type UserID string

// Server is one server node in the network graph.
type Server struct {
	ID          ServerID
	Name        string
	Description string
	Hops        int
	// Parent is the server this one is linked behind. Empty only for
	// the root (this process).
	Parent ServerID
	BootTS int64
	LinkTS int64
}

// UserMode is a bitset of user modes.
type UserMode uint64

const (
	UserOper UserMode = 1 << iota
	UserInvisible
	UserWallops
	UserDeaf
	UserService
	UserHiddenHost
	UserRegistered
)

// User is one user on the network.
type User struct {
	ID      UserID
	Nick    string
	Ident   string
	Host    string
	IP      string
	Gecos   string
	Account string
	Away    string
	Modes   UserMode
	// Server is the ID of the owning server; it always resolves to a
	// live Server.
	Server ServerID
	TS     int64
}

// ChannelMode is a bitset of channel modes.
type ChannelMode uint64

const (
	ChanPrivate ChannelMode = 1 << iota
	ChanSecret
	ChanModerated
	ChanTopicLock
	ChanInviteOnly
	ChanNoExternal
	ChanKeyed
	ChanLimited
	ChanRegOnly
	ChanRegistered
)

// Topic is a channel topic with its provenance.
type Topic struct {
	Text  string
	SetBy string
	SetAt int64
}

// Channel is one channel, alive only while it has members unless marked
// persistent.
type Channel struct {
	Name      string
	CreatedTS int64
	Topic     Topic
	Modes     ChannelMode
	Key       string
	Limit     int
	Bans      []string
	// Persistent keeps the channel alive with zero members. The core
	// never sets it; it is a plugin-visible policy flag.
	Persistent bool
}

// MemberFlag is the status bitset on a single membership.
type MemberFlag uint64

const (
	MemberOp MemberFlag = 1 << iota
	MemberVoice
)

// Member is one membership edge as seen by lookups.
type Member struct {
	User  UserID
	Flags MemberFlag
}

// Fold normalizes a nickname or channel name for comparison. The
// network compares names case-insensitively in the ASCII range.
func Fold(name string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, name)
}
