// Package plugin hosts service modules as child processes. Each plugin
// is a standalone executable speaking newline-delimited JSON frames
// over stdio: a versioned hello/welcome handshake, then one exchange
// per delivered event in which the plugin may issue state queries and
// outbound commands before acknowledging. The process boundary is the
// isolation mechanism: a plugin can stall, crash, or emit garbage and
// the host kills it without the link noticing.
package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/perch-irc/perch/internal/core"
	"github.com/perch-irc/perch/internal/state"
)

// ABIVersion is the wire contract revision. The host refuses a hello
// declaring any other version.
const ABIVersion = 1

// EnvServe must be set to "serve" in a spawned plugin's environment;
// plugin binaries run their serve loop only when it is.
const EnvServe = "PERCH_PLUGIN"

// Frame is the envelope for every message in either direction. Exactly
// one payload field matching Type is set.
type Frame struct {
	Type    string        `json:"type"`
	Hello   *Hello        `json:"hello,omitempty"`
	Welcome *Welcome      `json:"welcome,omitempty"`
	Event   *EventFrame   `json:"event,omitempty"`
	Command *CommandFrame `json:"command,omitempty"`
	Query   *QueryFrame   `json:"query,omitempty"`
	Reply   *ReplyFrame   `json:"reply,omitempty"`
	Done    *DoneFrame    `json:"done,omitempty"`
}

// Hello is the plugin's opening frame.
type Hello struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ABI     int    `json:"abi"`
	// Subscriptions are event kind names; the host only delivers these.
	Subscriptions []string `json:"subscriptions"`
	// Clients are service users the host introduces on the plugin's
	// behalf and removes at unload.
	Clients []ClientSpec `json:"clients,omitempty"`
}

// ClientSpec describes one local service client.
type ClientSpec struct {
	Nick  string `json:"nick"`
	Ident string `json:"ident"`
	Host  string `json:"host"`
	Gecos string `json:"gecos"`
}

// Welcome is the host's answer completing the handshake.
type Welcome struct {
	ABI        int    `json:"abi"`
	ServerName string `json:"server_name"`
	SID        string `json:"sid"`
}

// EventFrame delivers one event. The plugin must answer with a Done
// carrying the same Seq within the host's budget.
type EventFrame struct {
	Seq  uint64          `json:"seq"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandFrame is a plugin-issued action from one of its clients.
type CommandFrame struct {
	// Kind is message, join, or part.
	Kind string `json:"kind"`
	// Client is the nick of the issuing local client.
	Client  string `json:"client"`
	Target  string `json:"target,omitempty"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	Notice  bool   `json:"notice,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// QueryFrame is a read-only state lookup. What is one of user_by_nick,
// user_by_id, channel, members, channels_of, counts.
type QueryFrame struct {
	QID  uint64 `json:"qid"`
	What string `json:"what"`
	Arg  string `json:"arg,omitempty"`
}

// ReplyFrame answers a query. Data is absent when the entity does not
// exist.
type ReplyFrame struct {
	QID   uint64          `json:"qid"`
	Found bool            `json:"found"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// DoneFrame ends the plugin's handling of an event.
type DoneFrame struct {
	Seq   uint64 `json:"seq"`
	Error string `json:"error,omitempty"`
}

// Wire DTOs. These mirror the state and event types with stable JSON
// names; the in-process types stay free to change.

type ServerDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Hops        int    `json:"hops"`
	Parent      string `json:"parent,omitempty"`
}

type UserDTO struct {
	ID      string `json:"id"`
	Nick    string `json:"nick"`
	Ident   string `json:"ident"`
	Host    string `json:"host"`
	IP      string `json:"ip,omitempty"`
	Gecos   string `json:"gecos,omitempty"`
	Account string `json:"account,omitempty"`
	Away    string `json:"away,omitempty"`
	Oper    bool   `json:"oper,omitempty"`
	Service bool   `json:"service,omitempty"`
	Server  string `json:"server"`
	TS      int64  `json:"ts"`
}

type ChannelDTO struct {
	Name       string   `json:"name"`
	CreatedTS  int64    `json:"created_ts"`
	Topic      string   `json:"topic,omitempty"`
	TopicSetBy string   `json:"topic_set_by,omitempty"`
	Key        string   `json:"key,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Bans       []string `json:"bans,omitempty"`
	Persistent bool     `json:"persistent,omitempty"`
}

type MemberDTO struct {
	ID    string `json:"id"`
	Nick  string `json:"nick"`
	Op    bool   `json:"op,omitempty"`
	Voice bool   `json:"voice,omitempty"`
}

type CountsDTO struct {
	Servers  int `json:"servers"`
	Users    int `json:"users"`
	Channels int `json:"channels"`
}

type SplitDTO struct {
	Server   string   `json:"server"`
	Reason   string   `json:"reason,omitempty"`
	Servers  []string `json:"servers"`
	Users    []string `json:"users"`
	Channels []string `json:"channels,omitempty"`
}

type RenameDTO struct {
	User    string `json:"user"`
	OldNick string `json:"old_nick"`
	NewNick string `json:"new_nick"`
	TS      int64  `json:"ts"`
	Forced  bool   `json:"forced,omitempty"`
}

type QuitDTO struct {
	User    string   `json:"user"`
	Nick    string   `json:"nick"`
	Reason  string   `json:"reason,omitempty"`
	Emptied []string `json:"emptied,omitempty"`
}

type JoinDTO struct {
	User    string `json:"user"`
	Channel string `json:"channel"`
	TS      int64  `json:"ts"`
	Op      bool   `json:"op,omitempty"`
	Voice   bool   `json:"voice,omitempty"`
	Created bool   `json:"created,omitempty"`
}

type PartDTO struct {
	User    string `json:"user"`
	Channel string `json:"channel"`
	Reason  string `json:"reason,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

type ModeDTO struct {
	Target  string `json:"target"`
	Channel bool   `json:"channel,omitempty"`
}

type TopicDTO struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	SetBy   string `json:"set_by,omitempty"`
	TS      int64  `json:"ts,omitempty"`
}

type AwayDTO struct {
	User    string `json:"user"`
	Message string `json:"message,omitempty"`
}

type AccountDTO struct {
	User    string `json:"user"`
	Account string `json:"account,omitempty"`
}

type MessageDTO struct {
	From     string `json:"from"`
	FromNick string `json:"from_nick,omitempty"`
	Target   string `json:"target"`
	Text     string `json:"text"`
	Notice   bool   `json:"notice,omitempty"`
}

func serverDTO(s *state.Server) ServerDTO {
	return ServerDTO{
		ID:          string(s.ID),
		Name:        s.Name,
		Description: s.Description,
		Hops:        s.Hops,
		Parent:      string(s.Parent),
	}
}

func userDTO(u *state.User) UserDTO {
	return UserDTO{
		ID:      string(u.ID),
		Nick:    u.Nick,
		Ident:   u.Ident,
		Host:    u.Host,
		IP:      u.IP,
		Gecos:   u.Gecos,
		Account: u.Account,
		Away:    u.Away,
		Oper:    u.Modes&state.UserOper != 0,
		Service: u.Modes&state.UserService != 0,
		Server:  string(u.Server),
		TS:      u.TS,
	}
}

func channelDTO(c state.Channel) ChannelDTO {
	bans := append([]string(nil), c.Bans...)
	return ChannelDTO{
		Name:       c.Name,
		CreatedTS:  c.CreatedTS,
		Topic:      c.Topic.Text,
		TopicSetBy: c.Topic.SetBy,
		Key:        c.Key,
		Limit:      c.Limit,
		Bans:       bans,
		Persistent: c.Persistent,
	}
}

func serverIDs(ids []state.ServerID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func userIDs(ids []state.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// eventData builds the wire payload for one settled event. The q handle
// resolves IDs to the names plugins actually want.
func eventData(ev core.Event, q state.Queries) (any, error) {
	switch ev.Kind {
	case core.EventServerIntroduced:
		return serverDTO(ev.Server), nil
	case core.EventServerSplit:
		return SplitDTO{
			Server:   string(ev.Split.Server),
			Reason:   ev.Split.Reason,
			Servers:  serverIDs(ev.Split.Removed.Servers),
			Users:    userIDs(ev.Split.Removed.Users),
			Channels: ev.Split.Removed.Channels,
		}, nil
	case core.EventUserIntroduced:
		return userDTO(ev.User), nil
	case core.EventNickChanged:
		r := ev.Rename
		return RenameDTO{
			User: string(r.User), OldNick: r.OldNick, NewNick: r.NewNick,
			TS: r.TS, Forced: r.Forced,
		}, nil
	case core.EventUserQuit:
		return QuitDTO{
			User: string(ev.Quit.User), Nick: ev.Quit.Nick,
			Reason: ev.Quit.Reason, Emptied: ev.Quit.Emptied,
		}, nil
	case core.EventChannelJoined:
		j := ev.Join
		return JoinDTO{
			User: string(j.User), Channel: j.Channel, TS: j.TS,
			Op:      j.Flags&state.MemberOp != 0,
			Voice:   j.Flags&state.MemberVoice != 0,
			Created: j.Created,
		}, nil
	case core.EventChannelParted:
		p := ev.Part
		return PartDTO{
			User: string(p.User), Channel: p.Channel,
			Reason: p.Reason, Deleted: p.Deleted,
		}, nil
	case core.EventModeChanged:
		return ModeDTO{Target: ev.Mode.Target, Channel: ev.Mode.Channel}, nil
	case core.EventTopicChanged:
		t := ev.Topic
		return TopicDTO{Channel: t.Channel, Text: t.Text, SetBy: t.SetBy, TS: t.TS}, nil
	case core.EventAwayChanged:
		return AwayDTO{User: string(ev.Away.User), Message: ev.Away.Message}, nil
	case core.EventAccountChanged:
		return AccountDTO{User: string(ev.Account.User), Account: ev.Account.Account}, nil
	case core.EventMessage:
		m := ev.Message
		dto := MessageDTO{
			From: string(m.From), Target: m.Target, Text: m.Text, Notice: m.Notice,
		}
		if u, ok := q.UserByID(m.From); ok {
			dto.FromNick = u.Nick
		}
		return dto, nil
	case core.EventSynced:
		return struct{}{}, nil
	}
	return nil, fmt.Errorf("no wire form for event %v", ev.Kind)
}
