package state

import "sort"

// Queries is the read-only surface of the Store, the only view handed
// to plugins and monitoring collaborators. Results are copies; holding
// one across events observes stale data, never corrupts the graph.
type Queries interface {
	Self() ServerID
	ServerByID(id ServerID) (Server, bool)
	ServerByName(name string) (Server, bool)
	UserByID(id UserID) (User, bool)
	UserByNick(nick string) (User, bool)
	ChannelByName(name string) (Channel, bool)
	MembersOf(channel string) []Member
	ChannelsOf(id UserID) []string
	Servers() []Server
	Counts() (servers, users, channels int)
}

var _ Queries = (*Store)(nil)

// ServerByID looks up a server by its ID.
func (s *Store) ServerByID(id ServerID) (Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[id]
	if !ok {
		return Server{}, false
	}
	return *srv, true
}

// ServerByName looks up a server by its case-folded name.
func (s *Store) ServerByName(name string) (Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, srv := range s.servers {
		if Fold(srv.Name) == Fold(name) {
			return *srv, true
		}
	}
	return Server{}, false
}

// UserByID looks up a user by UID.
func (s *Store) UserByID(id UserID) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// UserByNick looks up a user by case-folded nickname.
func (s *Store) UserByNick(nick string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNick[Fold(nick)]
	if !ok {
		return User{}, false
	}
	return *s.users[id], true
}

// ChannelByName looks up a channel by case-folded name.
func (s *Store) ChannelByName(name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[Fold(name)]
	if !ok {
		return Channel{}, false
	}
	return ch.copyLocked(), true
}

// MembersOf returns the membership edges of a channel, sorted by UID.
func (s *Store) MembersOf(channel string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[Fold(channel)]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(ch.members))
	for id, flags := range ch.members {
		out = append(out, Member{User: id, Flags: flags})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

// ChannelsOf returns the names of the channels a user is on, sorted.
func (s *Store) ChannelsOf(id UserID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, ok := s.chansOf[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, s.channels[key].Name)
	}
	sort.Strings(out)
	return out
}

// Servers returns all live servers, sorted by ID.
func (s *Store) Servers() []Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, *srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns entity counters; the server count excludes this
// process's own entity.
func (s *Store) Counts() (servers, users, channels int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.servers) - 1, len(s.users), len(s.channels)
}
