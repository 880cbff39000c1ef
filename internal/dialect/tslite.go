package dialect

import (
	"strconv"
	"strings"

	"github.com/perch-irc/perch/internal/codec"
	"github.com/perch-irc/perch/internal/core"
	"github.com/perch-irc/perch/internal/state"
)

// TSLite is the built-in grammar: a trimmed TS-style dialect covering
// the commands a pseudo-server actually exchanges. Servers carry
// three-character SIDs, users nine-character UIDs prefixed by their
// server's SID, and channel merges are decided by creation timestamp.
type TSLite struct {
	self Identity
	// uplink is the peer's SID, learned from its PASS during
	// negotiation. SERVER introductions without a prefix belong to it.
	uplink state.ServerID
}

// NewTSLite builds the dialect for the given local identity.
func NewTSLite(self Identity) *TSLite {
	return &TSLite{self: self}
}

// Name implements Dialect.
func (t *TSLite) Name() string { return "tslite" }

// Handshake implements Dialect.
func (t *TSLite) Handshake(password string) []codec.Command {
	return []codec.Command{
		{Name: "PASS", Params: []string{password, "TS", "6", string(t.self.SID)}},
		{Name: "CAPAB", Params: []string{"QS EX IE EOB"}},
		{Name: "SERVER", Params: []string{t.self.Name, "1", t.self.Description}},
	}
}

// EndOfBurst implements Dialect.
func (t *TSLite) EndOfBurst() []codec.Command {
	return []codec.Command{{Source: string(t.self.SID), Name: "EOB"}}
}

// Ping implements Dialect.
func (t *TSLite) Ping(token string) codec.Command {
	return codec.Command{Source: string(t.self.SID), Name: "PING", Params: []string{token}}
}

// Pong implements Dialect.
func (t *TSLite) Pong(token string) codec.Command {
	return codec.Command{Source: string(t.self.SID), Name: "PONG", Params: []string{token}}
}

// IntroduceClient implements Dialect.
func (t *TSLite) IntroduceClient(u state.User) codec.Command {
	ip := u.IP
	if ip == "" {
		ip = "0"
	}
	return codec.Command{
		Source: string(u.Server),
		Name:   "UID",
		Params: []string{
			u.Nick, "1", strconv.FormatInt(u.TS, 10), formatUserModes(u.Modes),
			u.Ident, u.Host, ip, string(u.ID), u.Gecos,
		},
	}
}

// RemoveClient implements Dialect.
func (t *TSLite) RemoveClient(id state.UserID, reason string) codec.Command {
	return codec.Command{Source: string(id), Name: "QUIT", Params: []string{reason}}
}

// Join implements Dialect.
func (t *TSLite) Join(id state.UserID, channel string, ts int64) codec.Command {
	return codec.Command{
		Source: string(id),
		Name:   "JOIN",
		Params: []string{strconv.FormatInt(ts, 10), channel, "+"},
	}
}

// Part implements Dialect.
func (t *TSLite) Part(id state.UserID, channel, reason string) codec.Command {
	return codec.Command{Source: string(id), Name: "PART", Params: []string{channel, reason}}
}

// Message implements Dialect.
func (t *TSLite) Message(from state.UserID, target, text string, notice bool) codec.Command {
	name := "PRIVMSG"
	if notice {
		name = "NOTICE"
	}
	return codec.Command{Source: string(from), Name: name, Params: []string{target, text}}
}

// Translate implements Dialect.
func (t *TSLite) Translate(cmd codec.Command) (Result, error) {
	switch cmd.Name {
	case "PASS":
		return t.translatePass(cmd)
	case "CAPAB", "SVINFO":
		return Result{}, nil
	case "SERVER":
		return t.translateServer(cmd)
	case "SID":
		return t.translateSID(cmd)
	case "UID":
		return t.translateUID(cmd)
	case "NICK":
		return t.translateNick(cmd)
	case "QUIT":
		return quitResult(cmd), nil
	case "SJOIN":
		return t.translateSJoin(cmd)
	case "JOIN":
		return t.translateJoin(cmd)
	case "PART":
		return partResult(cmd), nil
	case "TMODE":
		return t.translateTMode(cmd)
	case "MODE":
		return t.translateMode(cmd)
	case "TOPIC", "TB":
		return t.translateTopic(cmd)
	case "AWAY":
		return awayResult(cmd), nil
	case "ACCOUNT":
		return accountResult(cmd), nil
	case "PRIVMSG", "NOTICE":
		return t.translateMessage(cmd)
	case "SQUIT":
		return t.translateSquit(cmd)
	case "PING":
		return Result{Replies: []codec.Command{t.Pong(cmd.Param(0))}}, nil
	case "PONG":
		return Result{Pong: true}, nil
	case "EOB":
		return Result{Synced: cmd.Source == string(t.uplink)}, nil
	case "ERROR":
		return Result{Close: true, CloseReason: cmd.Trailing()}, nil
	}
	return Result{}, &UnknownCommandError{Name: cmd.Name}
}

// PASS <password> TS 6 <sid>
func (t *TSLite) translatePass(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 1 {
		return Result{}, &ParameterError{Name: "PASS", Reason: "missing password"}
	}
	if sid := cmd.Param(3); sid != "" {
		t.uplink = state.ServerID(sid)
	}
	pw := cmd.Param(0)
	return Result{Password: &pw}, nil
}

// SERVER <name> <hops> <description>, unprefixed: the direct peer,
// whose SID arrived in its PASS.
func (t *TSLite) translateServer(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 3 {
		return Result{}, &ParameterError{Name: "SERVER", Reason: "need name, hops, description"}
	}
	if cmd.Source != "" {
		return Result{}, &ParameterError{Name: "SERVER", Reason: "prefixed SERVER; remote servers use SID"}
	}
	if t.uplink == "" {
		return Result{}, &ParameterError{Name: "SERVER", Reason: "no SID negotiated"}
	}
	hops, err := strconv.Atoi(cmd.Param(1))
	if err != nil {
		return Result{}, &ParameterError{Name: "SERVER", Reason: "bad hop count"}
	}
	return Result{Events: []core.Event{{Kind: core.EventServerIntroduced, Server: &state.Server{
		ID:          t.uplink,
		Name:        cmd.Param(0),
		Description: cmd.Param(2),
		Hops:        hops,
		Parent:      t.self.SID,
	}}}}, nil
}

// :<parent> SID <name> <hops> <sid> <description>
func (t *TSLite) translateSID(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 4 || cmd.Source == "" {
		return Result{}, &ParameterError{Name: "SID", Reason: "need prefix, name, hops, sid, description"}
	}
	hops, err := strconv.Atoi(cmd.Param(1))
	if err != nil {
		return Result{}, &ParameterError{Name: "SID", Reason: "bad hop count"}
	}
	return Result{Events: []core.Event{{Kind: core.EventServerIntroduced, Server: &state.Server{
		ID:          state.ServerID(cmd.Param(2)),
		Name:        cmd.Param(0),
		Description: cmd.Param(3),
		Hops:        hops,
		Parent:      state.ServerID(cmd.Source),
	}}}}, nil
}

// :<sid> UID <nick> <hops> <ts> <modes> <ident> <host> <ip> <uid> <gecos>
func (t *TSLite) translateUID(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 9 || cmd.Source == "" {
		return Result{}, &ParameterError{Name: "UID", Reason: "need 9 parameters and a server prefix"}
	}
	ts, err := strconv.ParseInt(cmd.Param(2), 10, 64)
	if err != nil {
		return Result{}, &ParameterError{Name: "UID", Reason: "bad timestamp"}
	}
	modes, _, err := parseUserModes(cmd.Param(3))
	if err != nil {
		return Result{}, &ParameterError{Name: "UID", Reason: err.Error()}
	}
	return Result{Events: []core.Event{{Kind: core.EventUserIntroduced, User: &state.User{
		ID:     state.UserID(cmd.Param(7)),
		Nick:   cmd.Param(0),
		Ident:  cmd.Param(4),
		Host:   cmd.Param(5),
		IP:     cmd.Param(6),
		Gecos:  cmd.Param(8),
		Modes:  modes,
		Server: state.ServerID(cmd.Source),
		TS:     ts,
	}}}}, nil
}

// :<uid> NICK <newnick> <ts>
func (t *TSLite) translateNick(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 2 || cmd.Source == "" {
		return Result{}, &ParameterError{Name: "NICK", Reason: "need prefix, nick, timestamp"}
	}
	ts, err := strconv.ParseInt(cmd.Param(1), 10, 64)
	if err != nil {
		return Result{}, &ParameterError{Name: "NICK", Reason: "bad timestamp"}
	}
	return Result{Events: []core.Event{{Kind: core.EventNickChanged, Rename: &core.RenameInfo{
		User:    state.UserID(cmd.Source),
		NewNick: cmd.Param(0),
		TS:      ts,
	}}}}, nil
}

func quitResult(cmd codec.Command) Result {
	return Result{Events: []core.Event{{Kind: core.EventUserQuit, Quit: &core.QuitInfo{
		User:   state.UserID(cmd.Source),
		Reason: cmd.Trailing(),
	}}}}
}

// :<sid> SJOIN <ts> <channel> <modes> [mode args...] <members>
// Members are space-separated UIDs with optional @ (op) and + (voice)
// sigils. Channel modes in the burst may carry key and limit arguments.
func (t *TSLite) translateSJoin(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 4 || cmd.Source == "" {
		return Result{}, &ParameterError{Name: "SJOIN", Reason: "need ts, channel, modes, members"}
	}
	ts, err := strconv.ParseInt(cmd.Param(0), 10, 64)
	if err != nil {
		return Result{}, &ParameterError{Name: "SJOIN", Reason: "bad timestamp"}
	}
	channel := cmd.Param(1)

	mode, err := parseChannelModes(cmd.Param(2), cmd.Params[3:len(cmd.Params)-1])
	if err != nil {
		return Result{}, &ParameterError{Name: "SJOIN", Reason: err.Error()}
	}

	var events []core.Event
	for _, m := range strings.Fields(cmd.Trailing()) {
		var flags state.MemberFlag
		for len(m) > 0 {
			if m[0] == '@' {
				flags |= state.MemberOp
			} else if m[0] == '+' {
				flags |= state.MemberVoice
			} else {
				break
			}
			m = m[1:]
		}
		if m == "" {
			continue
		}
		events = append(events, core.Event{Kind: core.EventChannelJoined, Join: &core.JoinInfo{
			User:    state.UserID(m),
			Channel: channel,
			TS:      ts,
			Flags:   flags,
		}})
	}
	if events == nil {
		return Result{}, &ParameterError{Name: "SJOIN", Reason: "empty member list"}
	}
	if !mode.empty() {
		mc := mode.change(channel)
		events = append(events, core.Event{Kind: core.EventModeChanged, Mode: mc})
	}
	return Result{Events: events}, nil
}

// :<uid> JOIN <ts> <channel> +
func (t *TSLite) translateJoin(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 2 || cmd.Source == "" {
		return Result{}, &ParameterError{Name: "JOIN", Reason: "need prefix, ts, channel"}
	}
	ts, err := strconv.ParseInt(cmd.Param(0), 10, 64)
	if err != nil {
		return Result{}, &ParameterError{Name: "JOIN", Reason: "bad timestamp"}
	}
	return Result{Events: []core.Event{{Kind: core.EventChannelJoined, Join: &core.JoinInfo{
		User:    state.UserID(cmd.Source),
		Channel: cmd.Param(1),
		TS:      ts,
	}}}}, nil
}

func partResult(cmd codec.Command) Result {
	reason := ""
	if len(cmd.Params) > 1 {
		reason = cmd.Trailing()
	}
	return Result{Events: []core.Event{{Kind: core.EventChannelParted, Part: &core.PartInfo{
		User:    state.UserID(cmd.Source),
		Channel: cmd.Param(0),
		Reason:  reason,
	}}}}
}

// :<src> TMODE <ts> <channel> <modes> [args...]
func (t *TSLite) translateTMode(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 3 {
		return Result{}, &ParameterError{Name: "TMODE", Reason: "need ts, channel, modes"}
	}
	mode, err := parseChannelModes(cmd.Param(2), cmd.Params[3:])
	if err != nil {
		return Result{}, &ParameterError{Name: "TMODE", Reason: err.Error()}
	}
	mc := mode.change(cmd.Param(1))
	return Result{Events: []core.Event{{Kind: core.EventModeChanged, Mode: mc}}}, nil
}

// :<uid> MODE <target> <modes> applies user modes to the sender.
func (t *TSLite) translateMode(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 2 || cmd.Source == "" {
		return Result{}, &ParameterError{Name: "MODE", Reason: "need prefix, target, modes"}
	}
	set, clear, err := parseUserModes(cmd.Param(1))
	if err != nil {
		return Result{}, &ParameterError{Name: "MODE", Reason: err.Error()}
	}
	return Result{Events: []core.Event{{Kind: core.EventModeChanged, Mode: &core.ModeChange{
		Target:    cmd.Param(0),
		UserID:    state.UserID(cmd.Source),
		SetUser:   set,
		ClearUser: clear,
	}}}}, nil
}

// :<setter> TOPIC <channel> <text> or :<src> TB <channel> <ts> <setter> <text>
func (t *TSLite) translateTopic(cmd codec.Command) (Result, error) {
	info := &core.TopicInfo{Channel: cmd.Param(0), SetBy: cmd.Source}
	switch cmd.Name {
	case "TOPIC":
		if len(cmd.Params) < 2 {
			return Result{}, &ParameterError{Name: "TOPIC", Reason: "need channel, text"}
		}
		info.Text = cmd.Param(1)
	case "TB":
		if len(cmd.Params) < 4 {
			return Result{}, &ParameterError{Name: "TB", Reason: "need channel, ts, setter, text"}
		}
		ts, err := strconv.ParseInt(cmd.Param(1), 10, 64)
		if err != nil {
			return Result{}, &ParameterError{Name: "TB", Reason: "bad timestamp"}
		}
		info.TS = ts
		info.SetBy = cmd.Param(2)
		info.Text = cmd.Param(3)
	}
	return Result{Events: []core.Event{{Kind: core.EventTopicChanged, Topic: info}}}, nil
}

// :<uid> AWAY [message]; no message marks the user back.
func awayResult(cmd codec.Command) Result {
	return Result{Events: []core.Event{{Kind: core.EventAwayChanged, Away: &core.AwayInfo{
		User:    state.UserID(cmd.Source),
		Message: cmd.Trailing(),
	}}}}
}

// :<uid> ACCOUNT <account>; "*" logs out.
func accountResult(cmd codec.Command) Result {
	account := cmd.Param(0)
	if account == "*" {
		account = ""
	}
	return Result{Events: []core.Event{{Kind: core.EventAccountChanged, Account: &core.AccountInfo{
		User:    state.UserID(cmd.Source),
		Account: account,
	}}}}
}

// :<uid> PRIVMSG <target> <text>
func (t *TSLite) translateMessage(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 2 || cmd.Source == "" {
		return Result{}, &ParameterError{Name: cmd.Name, Reason: "need prefix, target, text"}
	}
	return Result{Events: []core.Event{{Kind: core.EventMessage, Message: &core.MessageInfo{
		From:   state.UserID(cmd.Source),
		Target: cmd.Param(0),
		Text:   cmd.Param(1),
		Notice: cmd.Name == "NOTICE",
	}}}}, nil
}

// SQUIT <sid> <reason>
func (t *TSLite) translateSquit(cmd codec.Command) (Result, error) {
	if len(cmd.Params) < 1 {
		return Result{}, &ParameterError{Name: "SQUIT", Reason: "missing server"}
	}
	return Result{Events: []core.Event{{Kind: core.EventServerSplit, Split: &core.SplitInfo{
		Server: state.ServerID(cmd.Param(0)),
		Reason: cmd.Trailing(),
	}}}}, nil
}

var userModeLetters = map[byte]state.UserMode{
	'i': state.UserInvisible,
	'o': state.UserOper,
	'w': state.UserWallops,
	'D': state.UserDeaf,
	'S': state.UserService,
	'x': state.UserHiddenHost,
	'r': state.UserRegistered,
}

func parseUserModes(s string) (set, clear state.UserMode, err error) {
	adding := true
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			adding = true
		case '-':
			adding = false
		default:
			m, ok := userModeLetters[c]
			if !ok {
				return 0, 0, &ParameterError{Name: "MODE", Reason: "unknown user mode " + string(c)}
			}
			if adding {
				set |= m
			} else {
				clear |= m
			}
		}
	}
	return set, clear, nil
}

func formatUserModes(m state.UserMode) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, c := range []byte("iowDSxr") {
		if m&userModeLetters[c] != 0 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

var chanModeLetters = map[byte]state.ChannelMode{
	'p': state.ChanPrivate,
	's': state.ChanSecret,
	'm': state.ChanModerated,
	't': state.ChanTopicLock,
	'i': state.ChanInviteOnly,
	'n': state.ChanNoExternal,
	'r': state.ChanRegOnly,
	'R': state.ChanRegistered,
}

// chanModes is the parsed form of a channel mode string plus its
// arguments.
type chanModes struct {
	set, clear state.ChannelMode
	key        *string
	limit      *int
	bans       []core.BanChange
	members    []core.MemberChange
}

func (c chanModes) empty() bool {
	return c.set == 0 && c.clear == 0 && c.key == nil && c.limit == nil &&
		len(c.bans) == 0 && len(c.members) == 0
}

func (c chanModes) change(channel string) *core.ModeChange {
	return &core.ModeChange{
		Target:    channel,
		Channel:   true,
		SetChan:   c.set,
		ClearChan: c.clear,
		Key:       c.key,
		Limit:     c.limit,
		Bans:      c.bans,
		Members:   c.members,
	}
}

// parseChannelModes walks a mode string, taking arguments from args in
// order: k and +l and b and o/v consume one each (-l does not).
func parseChannelModes(s string, args []string) (chanModes, error) {
	var out chanModes
	adding := true
	next := func() (string, bool) {
		if len(args) == 0 {
			return "", false
		}
		a := args[0]
		args = args[1:]
		return a, true
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'k':
			if adding {
				a, ok := next()
				if !ok {
					return out, &ParameterError{Name: "MODE", Reason: "+k missing key"}
				}
				out.key = &a
				out.set |= state.ChanKeyed
			} else {
				next() // some servers echo the key on removal
				empty := ""
				out.key = &empty
				out.clear |= state.ChanKeyed
			}
		case 'l':
			if adding {
				a, ok := next()
				if !ok {
					return out, &ParameterError{Name: "MODE", Reason: "+l missing limit"}
				}
				n, err := strconv.Atoi(a)
				if err != nil {
					return out, &ParameterError{Name: "MODE", Reason: "bad limit " + a}
				}
				out.limit = &n
				out.set |= state.ChanLimited
			} else {
				zero := 0
				out.limit = &zero
				out.clear |= state.ChanLimited
			}
		case 'b':
			a, ok := next()
			if !ok {
				return out, &ParameterError{Name: "MODE", Reason: "b missing mask"}
			}
			out.bans = append(out.bans, core.BanChange{Mask: a, Adding: adding})
		case 'o', 'v':
			a, ok := next()
			if !ok {
				return out, &ParameterError{Name: "MODE", Reason: string(c) + " missing target"}
			}
			flag := state.MemberOp
			if c == 'v' {
				flag = state.MemberVoice
			}
			mc := core.MemberChange{User: state.UserID(a)}
			if adding {
				mc.Set = flag
			} else {
				mc.Clear = flag
			}
			out.members = append(out.members, mc)
		default:
			m, ok := chanModeLetters[c]
			if !ok {
				return out, &ParameterError{Name: "MODE", Reason: "unknown channel mode " + string(c)}
			}
			if adding {
				out.set |= m
			} else {
				out.clear |= m
			}
		}
	}
	return out, nil
}
