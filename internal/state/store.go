package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel causes carried by ConflictError, for callers that resolve
// specific conflicts (errors.Is).
var (
	ErrDuplicateServer = errors.New("duplicate server ID")
	ErrDuplicateName   = errors.New("duplicate server name")
	ErrUnknownServer   = errors.New("unknown server")
	ErrDuplicateUser   = errors.New("duplicate user ID")
	ErrNickInUse       = errors.New("nickname in use")
	ErrUnknownUser     = errors.New("unknown user")
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrAlreadyMember   = errors.New("already a member")
	ErrNotMember       = errors.New("not a member")
	ErrSelfRemoval     = errors.New("cannot remove own server")
	ErrEmptyID         = errors.New("empty entity ID")
)

// ConflictError reports a mutation the Store refused because it would
// collide with existing state. The Store never overwrites on conflict;
// the protocol layer decides how to resolve and may retry.
type ConflictError struct {
	Op     string // the operation that was refused
	Entity string // contextual ID: SID, UID, nick, or channel name
	Err    error  // one of the sentinel causes above
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Entity, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func conflict(op, entity string, cause error) *ConflictError {
	return &ConflictError{Op: op, Entity: entity, Err: cause}
}

// RemovalSummary lists everything a RemoveServer cascade destroyed, in
// the order it was collected.
type RemovalSummary struct {
	Servers  []ServerID
	Users    []UserID
	Channels []string // channels that became empty and were deleted
}

type channelState struct {
	Channel
	members map[UserID]MemberFlag
}

// Store is the network graph. Writes are serialized by the event
// dispatcher; lookups may run concurrently with the write path under
// reader-writer isolation. Every mutating operation either commits in
// full, cascades included, or leaves the Store unchanged.
type Store struct {
	mu sync.RWMutex

	self     ServerID
	servers  map[ServerID]*Server
	children map[ServerID]map[ServerID]struct{}
	users    map[UserID]*User
	byNick   map[string]UserID // folded nick -> UID
	channels map[string]*channelState
	chansOf  map[UserID]map[string]struct{}
}

// NewStore returns a store seeded with this process's own server entity
// as the root of the graph.
func NewStore(self Server) *Store {
	s := &Store{
		self:     self.ID,
		servers:  make(map[ServerID]*Server),
		children: make(map[ServerID]map[ServerID]struct{}),
		users:    make(map[UserID]*User),
		byNick:   make(map[string]UserID),
		channels: make(map[string]*channelState),
		chansOf:  make(map[UserID]map[string]struct{}),
	}
	self.Parent = ""
	cp := self
	s.servers[self.ID] = &cp
	s.children[self.ID] = make(map[ServerID]struct{})
	return s
}

// Self returns the ID of this process's own server entity.
func (s *Store) Self() ServerID { return s.self }

// IntroduceServer adds a server to the graph. The parent must already
// be live; the ID and name must be unused.
func (s *Store) IntroduceServer(srv Server) (Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "introduce-server"
	if srv.ID == "" {
		return Server{}, conflict(op, string(srv.ID), ErrEmptyID)
	}
	if _, ok := s.servers[srv.ID]; ok {
		return Server{}, conflict(op, string(srv.ID), ErrDuplicateServer)
	}
	for _, other := range s.servers {
		if Fold(other.Name) == Fold(srv.Name) {
			return Server{}, conflict(op, srv.Name, ErrDuplicateName)
		}
	}
	if _, ok := s.servers[srv.Parent]; !ok {
		return Server{}, conflict(op, string(srv.Parent), ErrUnknownServer)
	}

	cp := srv
	s.servers[srv.ID] = &cp
	s.children[srv.ID] = make(map[ServerID]struct{})
	s.children[srv.Parent][srv.ID] = struct{}{}
	return srv, nil
}

// RemoveServer removes a server and everything it transitively owns:
// child servers, their users, and all of those users' memberships.
// The dependent set is collected in full before anything is removed, so
// a failure leaves the Store untouched.
func (s *Store) RemoveServer(id ServerID) (RemovalSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "remove-server"
	if id == s.self {
		return RemovalSummary{}, conflict(op, string(id), ErrSelfRemoval)
	}
	if _, ok := s.servers[id]; !ok {
		return RemovalSummary{}, conflict(op, string(id), ErrUnknownServer)
	}

	// Collect phase: walk the subtree rooted at id.
	var sum RemovalSummary
	stack := []ServerID{id}
	doomed := make(map[ServerID]struct{})
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := doomed[cur]; seen {
			continue
		}
		doomed[cur] = struct{}{}
		sum.Servers = append(sum.Servers, cur)
		for child := range s.children[cur] {
			stack = append(stack, child)
		}
	}
	for uid, u := range s.users {
		if _, gone := doomed[u.Server]; gone {
			sum.Users = append(sum.Users, uid)
		}
	}
	sort.Slice(sum.Users, func(i, j int) bool { return sum.Users[i] < sum.Users[j] })

	// Commit phase.
	for _, uid := range sum.Users {
		sum.Channels = append(sum.Channels, s.removeUserLocked(uid)...)
	}
	for _, sid := range sum.Servers {
		parent := s.servers[sid].Parent
		if set, ok := s.children[parent]; ok {
			delete(set, sid)
		}
		delete(s.children, sid)
		delete(s.servers, sid)
	}
	return sum, nil
}

// IntroduceUser adds a user owned by a live server. The UID must be
// unused and the nickname free network-wide.
func (s *Store) IntroduceUser(u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "introduce-user"
	if u.ID == "" {
		return User{}, conflict(op, string(u.ID), ErrEmptyID)
	}
	if _, ok := s.users[u.ID]; ok {
		return User{}, conflict(op, string(u.ID), ErrDuplicateUser)
	}
	if _, ok := s.byNick[Fold(u.Nick)]; ok {
		return User{}, conflict(op, u.Nick, ErrNickInUse)
	}
	if _, ok := s.servers[u.Server]; !ok {
		return User{}, conflict(op, string(u.Server), ErrUnknownServer)
	}

	cp := u
	s.users[u.ID] = &cp
	s.byNick[Fold(u.Nick)] = u.ID
	s.chansOf[u.ID] = make(map[string]struct{})
	return u, nil
}

// ChangeNick is the single authoritative rename operation. A rename
// onto a nickname held by a different live user is refused with
// ErrNickInUse; collision policy lives above the Store so resolution
// order stays deterministic.
func (s *Store) ChangeNick(id UserID, nick string, ts int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "change-nick"
	u, ok := s.users[id]
	if !ok {
		return User{}, conflict(op, string(id), ErrUnknownUser)
	}
	if holder, ok := s.byNick[Fold(nick)]; ok && holder != id {
		return User{}, conflict(op, nick, ErrNickInUse)
	}

	delete(s.byNick, Fold(u.Nick))
	u.Nick = nick
	if ts != 0 {
		u.TS = ts
	}
	s.byNick[Fold(nick)] = id
	return *u, nil
}

// QuitUser removes a user and all of their memberships. It returns the
// user as last seen plus any channels deleted by becoming empty.
func (s *Store) QuitUser(id UserID) (User, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, nil, conflict("quit-user", string(id), ErrUnknownUser)
	}
	gone := *u
	emptied := s.removeUserLocked(id)
	return gone, emptied, nil
}

// JoinChannel adds a membership, creating the channel lazily on first
// join. When the join carries an older creation timestamp than the
// existing channel, the older timestamp wins and the channel's topic
// and modes are reset, per the merge tie-break rule.
func (s *Store) JoinChannel(id UserID, name string, ts int64, flags MemberFlag) (Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "join-channel"
	if _, ok := s.users[id]; !ok {
		return Channel{}, false, conflict(op, string(id), ErrUnknownUser)
	}
	key := Fold(name)
	ch, ok := s.channels[key]
	created := false
	if !ok {
		ch = &channelState{
			Channel: Channel{Name: name, CreatedTS: ts},
			members: make(map[UserID]MemberFlag),
		}
		s.channels[key] = ch
		created = true
	} else if ts != 0 && ts < ch.CreatedTS {
		ch.CreatedTS = ts
		ch.Topic = Topic{}
		ch.Modes = 0
		ch.Key = ""
		ch.Limit = 0
	}
	if _, member := ch.members[id]; member {
		return Channel{}, false, conflict(op, name, ErrAlreadyMember)
	}
	ch.members[id] = flags
	s.chansOf[id][key] = struct{}{}
	return ch.copyLocked(), created, nil
}

// PartChannel removes a membership. It reports whether the channel was
// deleted by becoming empty.
func (s *Store) PartChannel(id UserID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "part-channel"
	key := Fold(name)
	ch, ok := s.channels[key]
	if !ok {
		return false, conflict(op, name, ErrUnknownChannel)
	}
	if _, member := ch.members[id]; !member {
		return false, conflict(op, name, ErrNotMember)
	}
	delete(ch.members, id)
	delete(s.chansOf[id], key)
	return s.reapIfEmptyLocked(key), nil
}

// SetMemberFlags sets and clears status flags on a membership.
func (s *Store) SetMemberFlags(name string, id UserID, set, clear MemberFlag) (MemberFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "set-member-flags"
	ch, ok := s.channels[Fold(name)]
	if !ok {
		return 0, conflict(op, name, ErrUnknownChannel)
	}
	cur, member := ch.members[id]
	if !member {
		return 0, conflict(op, name, ErrNotMember)
	}
	cur = (cur &^ clear) | set
	ch.members[id] = cur
	return cur, nil
}

// UpdateChannelModes sets and clears channel modes. Key and limit are
// applied only when the corresponding pointer is non-nil.
func (s *Store) UpdateChannelModes(name string, set, clear ChannelMode, key *string, limit *int) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[Fold(name)]
	if !ok {
		return Channel{}, conflict("set-mode", name, ErrUnknownChannel)
	}
	ch.Modes = (ch.Modes &^ clear) | set
	if key != nil {
		ch.Key = *key
	}
	if limit != nil {
		ch.Limit = *limit
	}
	return ch.copyLocked(), nil
}

// SetBan adds or removes a ban mask on a channel. Duplicate adds and
// removals of unknown masks are no-ops.
func (s *Store) SetBan(name, mask string, adding bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[Fold(name)]
	if !ok {
		return conflict("set-ban", name, ErrUnknownChannel)
	}
	idx := -1
	for i, b := range ch.Bans {
		if b == mask {
			idx = i
			break
		}
	}
	if adding && idx < 0 {
		ch.Bans = append(ch.Bans, mask)
	} else if !adding && idx >= 0 {
		ch.Bans = append(ch.Bans[:idx], ch.Bans[idx+1:]...)
	}
	return nil
}

// SetTopic replaces a channel's topic.
func (s *Store) SetTopic(name, text, setBy string, ts int64) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[Fold(name)]
	if !ok {
		return Channel{}, conflict("set-topic", name, ErrUnknownChannel)
	}
	ch.Topic = Topic{Text: text, SetBy: setBy, SetAt: ts}
	return ch.copyLocked(), nil
}

// SetPersistent flips the plugin-visible persistence flag. Clearing it
// on an already-empty channel deletes the channel.
func (s *Store) SetPersistent(name string, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Fold(name)
	ch, ok := s.channels[key]
	if !ok {
		return conflict("set-persistent", name, ErrUnknownChannel)
	}
	ch.Persistent = persistent
	s.reapIfEmptyLocked(key)
	return nil
}

// SetUserModes sets and clears user modes.
func (s *Store) SetUserModes(id UserID, set, clear UserMode) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, conflict("set-mode", string(id), ErrUnknownUser)
	}
	u.Modes = (u.Modes &^ clear) | set
	return *u, nil
}

// SetAccount records the services account a user is logged into.
func (s *Store) SetAccount(id UserID, account string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, conflict("set-account", string(id), ErrUnknownUser)
	}
	u.Account = account
	u.Modes |= UserRegistered
	return *u, nil
}

// SetAway sets or clears (empty message) a user's away state.
func (s *Store) SetAway(id UserID, message string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, conflict("set-away", string(id), ErrUnknownUser)
	}
	u.Away = message
	return *u, nil
}

// removeUserLocked deletes a user and their memberships, reaping any
// channels that become empty. It returns the deleted channel names.
func (s *Store) removeUserLocked(id UserID) []string {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	var emptied []string
	for key := range s.chansOf[id] {
		if ch, ok := s.channels[key]; ok {
			delete(ch.members, id)
			if s.reapIfEmptyLocked(key) {
				emptied = append(emptied, ch.Name)
			}
		}
	}
	delete(s.chansOf, id)
	delete(s.byNick, Fold(u.Nick))
	delete(s.users, id)
	sort.Strings(emptied)
	return emptied
}

func (s *Store) reapIfEmptyLocked(key string) bool {
	ch, ok := s.channels[key]
	if !ok || len(ch.members) > 0 || ch.Persistent {
		return false
	}
	delete(s.channels, key)
	return true
}

func (c *channelState) copyLocked() Channel {
	cp := c.Channel
	cp.Bans = append([]string(nil), c.Bans...)
	return cp
}
