package state

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(Server{ID: "00A", Name: "perch.example", Description: "services"})
}

func addServer(t *testing.T, s *Store, id ServerID, name string, parent ServerID) {
	t.Helper()
	if _, err := s.IntroduceServer(Server{ID: id, Name: name, Parent: parent, Hops: 1}); err != nil {
		t.Fatalf("IntroduceServer(%s): %v", id, err)
	}
}

func addUser(t *testing.T, s *Store, id UserID, nick string, server ServerID) {
	t.Helper()
	u := User{ID: id, Nick: nick, Ident: "u", Host: "host.example", Server: server}
	if _, err := s.IntroduceUser(u); err != nil {
		t.Fatalf("IntroduceUser(%s): %v", id, err)
	}
}

func TestIntroduceRemoveServerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	before := s.Servers()

	addServer(t, s, "1AA", "alpha.example", "00A")
	if _, err := s.RemoveServer("1AA"); err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}

	if diff := cmp.Diff(before, s.Servers()); diff != "" {
		t.Errorf("server set not restored (-want +got):\n%s", diff)
	}
	if sv, us, ch := s.Counts(); sv != 0 || us != 0 || ch != 0 {
		t.Errorf("Counts = %d/%d/%d, want 0/0/0", sv, us, ch)
	}
}

func TestBurstScenario(t *testing.T) {
	// SERVER alpha, UID bob on alpha, SJOIN #chan bob.
	s := newTestStore(t)
	addServer(t, s, "1AA", "alpha.example", "00A")
	addUser(t, s, "1AAAAAA", "bob", "1AA")

	ch, created, err := s.JoinChannel("1AAAAAA", "#chan", 1000, MemberOp)
	if err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if !created {
		t.Error("expected lazy channel creation on first join")
	}
	if ch.Name != "#chan" || ch.CreatedTS != 1000 {
		t.Errorf("channel = %+v", ch)
	}

	u, ok := s.UserByNick("BOB")
	if !ok || u.ID != "1AAAAAA" || u.Server != "1AA" {
		t.Errorf("UserByNick(BOB) = %+v, %v", u, ok)
	}
	members := s.MembersOf("#CHAN")
	want := []Member{{User: "1AAAAAA", Flags: MemberOp}}
	if diff := cmp.Diff(want, members); diff != "" {
		t.Errorf("members (-want +got):\n%s", diff)
	}
}

func TestServerSplitCascades(t *testing.T) {
	s := newTestStore(t)
	addServer(t, s, "1AA", "alpha.example", "00A")
	addServer(t, s, "2BB", "beta.example", "1AA") // linked behind alpha
	addUser(t, s, "1AAAAAA", "bob", "1AA")
	addUser(t, s, "2BBAAAA", "eve", "2BB")
	addUser(t, s, "00AAAAA", "svc", "00A")

	if _, _, err := s.JoinChannel("1AAAAAA", "#chan", 10, 0); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if _, _, err := s.JoinChannel("2BBAAAA", "#chan", 10, 0); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if _, _, err := s.JoinChannel("00AAAAA", "#keep", 10, 0); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}

	sum, err := s.RemoveServer("1AA")
	if err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}

	wantSum := RemovalSummary{
		Servers:  []ServerID{"1AA", "2BB"},
		Users:    []UserID{"1AAAAAA", "2BBAAAA"},
		Channels: []string{"#chan"},
	}
	if diff := cmp.Diff(wantSum, sum); diff != "" {
		t.Errorf("removal summary (-want +got):\n%s", diff)
	}

	if _, ok := s.UserByID("1AAAAAA"); ok {
		t.Error("user on split server survived")
	}
	if _, ok := s.ChannelByName("#chan"); ok {
		t.Error("emptied channel survived split")
	}
	if _, ok := s.ChannelByName("#keep"); !ok {
		t.Error("unrelated channel removed by split")
	}
	if _, ok := s.UserByID("00AAAAA"); !ok {
		t.Error("local user removed by split")
	}
	checkInvariants(t, s)
}

func TestIntroduceConflicts(t *testing.T) {
	s := newTestStore(t)
	addServer(t, s, "1AA", "alpha.example", "00A")
	addUser(t, s, "1AAAAAA", "bob", "1AA")

	var conflictErr *ConflictError

	_, err := s.IntroduceServer(Server{ID: "1AA", Name: "other.example", Parent: "00A"})
	if !errors.As(err, &conflictErr) {
		t.Errorf("duplicate SID: got %v, want ConflictError", err)
	}
	_, err = s.IntroduceServer(Server{ID: "3CC", Name: "ALPHA.example", Parent: "00A"})
	if !errors.As(err, &conflictErr) {
		t.Errorf("duplicate name: got %v, want ConflictError", err)
	}
	_, err = s.IntroduceServer(Server{ID: "4DD", Name: "delta.example", Parent: "9ZZ"})
	if !errors.As(err, &conflictErr) {
		t.Errorf("unknown parent: got %v, want ConflictError", err)
	}
	_, err = s.IntroduceUser(User{ID: "9XXAAAA", Nick: "BOB", Server: "1AA"})
	if !errors.As(err, &conflictErr) || !errors.Is(err, ErrNickInUse) {
		t.Errorf("nick collision: got %v, want ConflictError(ErrNickInUse)", err)
	}
	_, err = s.IntroduceUser(User{ID: "1AAAAAA", Nick: "fresh", Server: "1AA"})
	if !errors.As(err, &conflictErr) || !errors.Is(err, ErrDuplicateUser) {
		t.Errorf("duplicate UID: got %v, want ConflictError(ErrDuplicateUser)", err)
	}

	// Failed operations leave no trace.
	if _, ok := s.UserByNick("fresh"); ok {
		t.Error("failed introduce left entity behind")
	}
	checkInvariants(t, s)
}

func TestChangeNick(t *testing.T) {
	s := newTestStore(t)
	addServer(t, s, "1AA", "alpha.example", "00A")
	addUser(t, s, "1AAAAAA", "bob", "1AA")
	addUser(t, s, "1AAAAAB", "eve", "1AA")

	u, err := s.ChangeNick("1AAAAAA", "robert", 99)
	if err != nil {
		t.Fatalf("ChangeNick: %v", err)
	}
	if u.Nick != "robert" || u.TS != 99 {
		t.Errorf("renamed user = %+v", u)
	}
	if _, ok := s.UserByNick("bob"); ok {
		t.Error("old nickname still resolves")
	}

	// Case-only rename of your own nick is allowed.
	if _, err := s.ChangeNick("1AAAAAA", "Robert", 100); err != nil {
		t.Errorf("case-only rename: %v", err)
	}

	var conflictErr *ConflictError
	if _, err := s.ChangeNick("1AAAAAB", "ROBERT", 101); !errors.As(err, &conflictErr) || !errors.Is(err, ErrNickInUse) {
		t.Errorf("rename onto held nick: got %v, want ConflictError(ErrNickInUse)", err)
	}
	checkInvariants(t, s)
}

func TestQuitCleansMemberships(t *testing.T) {
	s := newTestStore(t)
	addServer(t, s, "1AA", "alpha.example", "00A")
	addUser(t, s, "1AAAAAA", "bob", "1AA")
	addUser(t, s, "1AAAAAB", "eve", "1AA")

	mustJoin(t, s, "1AAAAAA", "#a")
	mustJoin(t, s, "1AAAAAA", "#b")
	mustJoin(t, s, "1AAAAAB", "#b")

	_, emptied, err := s.QuitUser("1AAAAAA")
	if err != nil {
		t.Fatalf("QuitUser: %v", err)
	}
	if diff := cmp.Diff([]string{"#a"}, emptied); diff != "" {
		t.Errorf("emptied channels (-want +got):\n%s", diff)
	}
	if _, ok := s.ChannelByName("#b"); !ok {
		t.Error("#b removed though still populated")
	}
	checkInvariants(t, s)
}

func TestPersistentChannelSurvivesEmpty(t *testing.T) {
	s := newTestStore(t)
	addServer(t, s, "1AA", "alpha.example", "00A")
	addUser(t, s, "1AAAAAA", "bob", "1AA")
	mustJoin(t, s, "1AAAAAA", "#stay")

	if err := s.SetPersistent("#stay", true); err != nil {
		t.Fatalf("SetPersistent: %v", err)
	}
	if _, _, err := s.QuitUser("1AAAAAA"); err != nil {
		t.Fatalf("QuitUser: %v", err)
	}
	if _, ok := s.ChannelByName("#stay"); !ok {
		t.Fatal("persistent channel reaped while empty")
	}

	// Clearing the flag on an empty channel deletes it.
	if err := s.SetPersistent("#stay", false); err != nil {
		t.Fatalf("SetPersistent: %v", err)
	}
	if _, ok := s.ChannelByName("#stay"); ok {
		t.Error("empty channel survived after clearing persistence")
	}
}

func TestJoinOlderTimestampWins(t *testing.T) {
	s := newTestStore(t)
	addServer(t, s, "1AA", "alpha.example", "00A")
	addUser(t, s, "1AAAAAA", "bob", "1AA")
	addUser(t, s, "1AAAAAB", "eve", "1AA")

	if _, _, err := s.JoinChannel("1AAAAAA", "#chan", 2000, MemberOp); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if _, err := s.SetTopic("#chan", "hello", "bob", 2001); err != nil {
		t.Fatalf("SetTopic: %v", err)
	}

	ch, _, err := s.JoinChannel("1AAAAAB", "#chan", 1000, 0)
	if err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if ch.CreatedTS != 1000 {
		t.Errorf("CreatedTS = %d, want 1000 (older side wins)", ch.CreatedTS)
	}
	if ch.Topic.Text != "" {
		t.Errorf("topic survived a losing merge: %+v", ch.Topic)
	}
}

func TestChannelModesAndBans(t *testing.T) {
	s := newTestStore(t)
	addServer(t, s, "1AA", "alpha.example", "00A")
	addUser(t, s, "1AAAAAA", "bob", "1AA")
	mustJoin(t, s, "1AAAAAA", "#chan")

	key := "sekrit"
	limit := 25
	ch, err := s.UpdateChannelModes("#chan", ChanKeyed|ChanLimited|ChanNoExternal, 0, &key, &limit)
	if err != nil {
		t.Fatalf("UpdateChannelModes: %v", err)
	}
	if ch.Key != "sekrit" || ch.Limit != 25 || ch.Modes&ChanNoExternal == 0 {
		t.Errorf("channel = %+v", ch)
	}

	if err := s.SetBan("#chan", "*!*@bad.example", true); err != nil {
		t.Fatalf("SetBan: %v", err)
	}
	if err := s.SetBan("#chan", "*!*@bad.example", true); err != nil {
		t.Fatalf("SetBan dup: %v", err)
	}
	got, _ := s.ChannelByName("#chan")
	if len(got.Bans) != 1 {
		t.Errorf("Bans = %v, want one entry", got.Bans)
	}
	if err := s.SetBan("#chan", "*!*@bad.example", false); err != nil {
		t.Fatalf("SetBan remove: %v", err)
	}
	got, _ = s.ChannelByName("#chan")
	if len(got.Bans) != 0 {
		t.Errorf("Bans = %v, want empty", got.Bans)
	}

	flags, err := s.SetMemberFlags("#chan", "1AAAAAA", MemberVoice, 0)
	if err != nil {
		t.Fatalf("SetMemberFlags: %v", err)
	}
	if flags&MemberVoice == 0 {
		t.Errorf("flags = %v, want voice", flags)
	}
}

// checkInvariants asserts the structural invariants that must hold
// after every applied operation.
func checkInvariants(t *testing.T, s *Store) {
	t.Helper()

	seen := make(map[string]bool)
	for _, srv := range s.Servers() {
		if srv.ID != s.Self() {
			if _, ok := s.ServerByID(srv.Parent); !ok {
				t.Errorf("server %s has dangling parent %s", srv.ID, srv.Parent)
			}
		}
	}
	for _, srv := range s.Servers() {
		for _, other := range s.Servers() {
			if srv.ID != other.ID && Fold(srv.Name) == Fold(other.Name) {
				t.Errorf("duplicate server name %s", srv.Name)
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, u := range s.users {
		if _, ok := s.servers[u.Server]; !ok {
			t.Errorf("user %s owned by dead server %s", id, u.Server)
		}
		if seen[Fold(u.Nick)] {
			t.Errorf("nickname %s held twice", u.Nick)
		}
		seen[Fold(u.Nick)] = true
		if s.byNick[Fold(u.Nick)] != id {
			t.Errorf("nick index for %s does not resolve to %s", u.Nick, id)
		}
	}
	for key, ch := range s.channels {
		if len(ch.members) == 0 && !ch.Persistent {
			t.Errorf("empty non-persistent channel %s persisted", key)
		}
		for uid := range ch.members {
			if _, ok := s.users[uid]; !ok {
				t.Errorf("membership in %s references dead user %s", key, uid)
			}
			if _, ok := s.chansOf[uid][key]; !ok {
				t.Errorf("membership index out of sync for %s in %s", uid, key)
			}
		}
	}
	for uid, keys := range s.chansOf {
		for key := range keys {
			ch, ok := s.channels[key]
			if !ok {
				t.Errorf("user %s indexed on dead channel %s", uid, key)
				continue
			}
			if _, ok := ch.members[uid]; !ok {
				t.Errorf("reverse index lists %s on %s without membership", uid, key)
			}
		}
	}
}

// TestRandomOperationsKeepInvariants drives the store with a randomized
// but valid-shaped event stream and checks the invariants after every
// single application.
func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := newTestStore(t)

	var servers []ServerID
	var users []UserID
	channels := []string{"#one", "#two", "#three"}
	nextSrv, nextUser := 0, 0

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(10); {
		case op == 0: // introduce server
			nextSrv++
			id := ServerID(fmt.Sprintf("S%02d", nextSrv))
			parent := s.Self()
			if len(servers) > 0 && rng.Intn(2) == 0 {
				parent = servers[rng.Intn(len(servers))]
			}
			if _, err := s.IntroduceServer(Server{ID: id, Name: fmt.Sprintf("s%d.example", nextSrv), Parent: parent}); err == nil {
				servers = append(servers, id)
			}
		case op == 1 && len(servers) > 0: // split
			victim := servers[rng.Intn(len(servers))]
			if _, err := s.RemoveServer(victim); err == nil {
				var liveS []ServerID
				for _, id := range servers {
					if _, ok := s.ServerByID(id); ok {
						liveS = append(liveS, id)
					}
				}
				servers = liveS
				var liveU []UserID
				for _, id := range users {
					if _, ok := s.UserByID(id); ok {
						liveU = append(liveU, id)
					}
				}
				users = liveU
			}
		case op <= 4 && len(servers) > 0: // introduce user
			nextUser++
			id := UserID(fmt.Sprintf("U%04d", nextUser))
			u := User{ID: id, Nick: fmt.Sprintf("nick%d", nextUser), Server: servers[rng.Intn(len(servers))]}
			if _, err := s.IntroduceUser(u); err == nil {
				users = append(users, id)
			}
		case op == 5 && len(users) > 0: // quit
			victim := users[rng.Intn(len(users))]
			if _, _, err := s.QuitUser(victim); err == nil {
				var live []UserID
				for _, id := range users {
					if id != victim {
						live = append(live, id)
					}
				}
				users = live
			}
		case op <= 7 && len(users) > 0: // join
			_, _, _ = s.JoinChannel(users[rng.Intn(len(users))], channels[rng.Intn(len(channels))], int64(1000+rng.Intn(100)), 0)
		case op == 8 && len(users) > 0: // part
			_, _ = s.PartChannel(users[rng.Intn(len(users))], channels[rng.Intn(len(channels))])
		case op == 9 && len(users) > 0: // rename
			_, _ = s.ChangeNick(users[rng.Intn(len(users))], fmt.Sprintf("nick%d-%d", rng.Intn(nextUser+1), step), int64(step))
		}
		checkInvariants(t, s)
	}
}

func mustJoin(t *testing.T, s *Store, id UserID, name string) {
	t.Helper()
	if _, _, err := s.JoinChannel(id, name, 1000, 0); err != nil {
		t.Fatalf("JoinChannel(%s, %s): %v", id, name, err)
	}
}
