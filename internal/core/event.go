// Package core defines the typed protocol events flowing from the link
// into the network state, and the dispatcher that applies them and fans
// them out to plugin subscribers in strict arrival order.
package core

import "github.com/perch-irc/perch/internal/state"

// EventKind identifies one kind of protocol event.
type EventKind int

const (
	// EventServerIntroduced announces a new server on the network,
	// from the burst or a later link.
	EventServerIntroduced EventKind = iota
	// EventServerSplit announces the removal of a server and everything
	// it transitively owned.
	EventServerSplit
	// EventUserIntroduced announces a new user.
	EventUserIntroduced
	// EventNickChanged announces a nickname change.
	EventNickChanged
	// EventUserQuit announces a user leaving the network.
	EventUserQuit
	// EventChannelJoined announces a membership being added.
	EventChannelJoined
	// EventChannelParted announces a membership being removed.
	EventChannelParted
	// EventModeChanged announces user/channel/membership mode changes.
	EventModeChanged
	// EventTopicChanged announces a channel topic change.
	EventTopicChanged
	// EventAwayChanged announces a user marking themselves away or
	// returning.
	EventAwayChanged
	// EventAccountChanged announces a user logging into or out of a
	// services account.
	EventAccountChanged
	// EventMessage announces a PRIVMSG or NOTICE observed by this
	// server. It does not mutate state.
	EventMessage
	// EventSynced marks the end of the initial burst. It does not
	// mutate state.
	EventSynced
)

var eventNames = map[EventKind]string{
	EventServerIntroduced: "server",
	EventServerSplit:      "split",
	EventUserIntroduced:   "user",
	EventNickChanged:      "nick",
	EventUserQuit:         "quit",
	EventChannelJoined:    "join",
	EventChannelParted:    "part",
	EventModeChanged:      "mode",
	EventTopicChanged:     "topic",
	EventAwayChanged:      "away",
	EventAccountChanged:   "account",
	EventMessage:          "message",
	EventSynced:           "synced",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseEventKind maps a wire name back to its kind. Plugin subscription
// declarations use these names.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Event is one protocol event. Exactly one payload field matching Kind
// is populated.
type Event struct {
	Kind    EventKind
	Server  *state.Server
	Split   *SplitInfo
	User    *state.User
	Rename  *RenameInfo
	Quit    *QuitInfo
	Join    *JoinInfo
	Part    *PartInfo
	Mode    *ModeChange
	Topic   *TopicInfo
	Away    *AwayInfo
	Account *AccountInfo
	Message *MessageInfo
}

// SplitInfo describes a server removal. Removed is filled in by the
// dispatcher after the cascade commits, before plugins see the event.
type SplitInfo struct {
	Server  state.ServerID
	Reason  string
	Removed state.RemovalSummary
}

// RenameInfo describes a nickname change. Forced marks a corrective
// rename derived from a collision.
type RenameInfo struct {
	User    state.UserID
	OldNick string
	NewNick string
	TS      int64
	Forced  bool
}

// QuitInfo describes a user quit. Emptied lists channels deleted by the
// departure, filled in by the dispatcher.
type QuitInfo struct {
	User    state.UserID
	Nick    string
	Reason  string
	Emptied []string
}

// JoinInfo describes a membership being added. Created reports lazy
// channel creation, filled in by the dispatcher.
type JoinInfo struct {
	User    state.UserID
	Channel string
	TS      int64
	Flags   state.MemberFlag
	Created bool
}

// PartInfo describes a membership being removed. Deleted reports the
// channel being reaped, filled in by the dispatcher.
type PartInfo struct {
	User    state.UserID
	Channel string
	Reason  string
	Deleted bool
}

// BanChange is one ban list mutation inside a mode change.
type BanChange struct {
	Mask   string
	Adding bool
}

// MemberChange is one membership status mutation inside a mode change.
type MemberChange struct {
	User  state.UserID
	Set   state.MemberFlag
	Clear state.MemberFlag
}

// ModeChange describes the mode mutations carried by a single protocol
// event, targeting either a channel (Channel true) or a user.
type ModeChange struct {
	Target    string
	Channel   bool
	UserID    state.UserID
	SetUser   state.UserMode
	ClearUser state.UserMode
	SetChan   state.ChannelMode
	ClearChan state.ChannelMode
	Key       *string
	Limit     *int
	Bans      []BanChange
	Members   []MemberChange
}

// TopicInfo describes a topic change.
type TopicInfo struct {
	Channel string
	Text    string
	SetBy   string
	TS      int64
}

// AwayInfo describes a user's away status change. An empty Message
// marks the user as present.
type AwayInfo struct {
	User    state.UserID
	Message string
}

// AccountInfo describes a services account login. An empty Account is
// a logout.
type AccountInfo struct {
	User    state.UserID
	Account string
}

// MessageInfo describes a PRIVMSG or NOTICE. Target is a channel name
// or the nick/UID of one of our local clients.
type MessageInfo struct {
	From   state.UserID
	Target string
	Text   string
	Notice bool
}
