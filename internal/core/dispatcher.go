package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/perch-irc/perch/internal/state"
	"github.com/perch-irc/perch/internal/telemetry"
)

// Subscriber receives settled events after they have been applied to
// the store. Handlers run sequentially in registration order; a slow
// handler delays everything behind it, so subscribers that talk to the
// outside world must bound their own work.
type Subscriber interface {
	HandleEvent(ctx context.Context, ev Event, q state.Queries)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, ev Event, q state.Queries)

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, ev Event, q state.Queries) {
	f(ctx, ev, q)
}

// Dispatcher is the single writer of the network state. It consumes
// events in arrival order, applies each one to the store, and only then
// fans the settled event out to subscribers. Subscribers therefore
// always observe a store that already reflects the event in hand.
type Dispatcher struct {
	store *state.Store
	sink  telemetry.Sink
	log   zerolog.Logger

	mu   sync.RWMutex
	subs []Subscriber

	// dispatchMu admits Dispatch callers outside the event loop (the
	// plugin host injecting local-client events); arrival order is then
	// lock-acquisition order, still a single total order.
	dispatchMu sync.Mutex
}

// NewDispatcher builds a dispatcher over the given store. Anomalies
// (conflicts, dropped events) go to sink.
func NewDispatcher(store *state.Store, sink telemetry.Sink, logger zerolog.Logger) *Dispatcher {
	if sink == nil {
		sink = telemetry.Discard{}
	}
	return &Dispatcher{
		store: store,
		sink:  sink,
		log:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// Subscribe registers a subscriber. Delivery order follows registration
// order. Safe to call while Run is active; the new subscriber sees
// every event dispatched after registration.
func (d *Dispatcher) Subscribe(sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, sub)
}

// Run consumes events until ctx is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Dispatch applies one event to the store and fans the settled form out
// to subscribers. Events the store refuses are reported and dropped;
// nickname collisions are instead resolved by a corrective forced
// rename so both sides of the link converge on the same nick.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	settled, ok := d.apply(ev)
	if !ok {
		return
	}

	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	for _, sub := range subs {
		sub.HandleEvent(ctx, settled, d.store)
	}
}

// apply mutates the store for ev and returns the settled event, with
// dispatcher-owned fields (Removed, Emptied, Created, Deleted, forced
// renames) filled in. ok is false when the event was dropped.
func (d *Dispatcher) apply(ev Event) (Event, bool) {
	switch ev.Kind {
	case EventServerIntroduced:
		srv, err := d.store.IntroduceServer(*ev.Server)
		if err != nil {
			return ev, d.drop(ev, err)
		}
		ev.Server = &srv
		d.log.Info().Str("sid", string(srv.ID)).Str("name", srv.Name).Msg("server introduced")

	case EventServerSplit:
		sum, err := d.store.RemoveServer(ev.Split.Server)
		if err != nil {
			return ev, d.drop(ev, err)
		}
		ev.Split.Removed = sum
		d.log.Info().
			Str("sid", string(ev.Split.Server)).
			Int("servers", len(sum.Servers)).
			Int("users", len(sum.Users)).
			Msg("server split")

	case EventUserIntroduced:
		u, err := d.store.IntroduceUser(*ev.User)
		if errors.Is(err, state.ErrNickInUse) {
			// Collision with a live user. The incoming user loses:
			// force their nick to their UID, which is unique by
			// construction, and introduce them under that.
			forced := *ev.User
			forced.Nick = string(forced.ID)
			u, err = d.store.IntroduceUser(forced)
			if err == nil {
				d.log.Warn().
					Str("uid", string(u.ID)).
					Str("nick", ev.User.Nick).
					Msg("nick collision, introduced under UID")
			}
		}
		if err != nil {
			return ev, d.drop(ev, err)
		}
		ev.User = &u

	case EventNickChanged:
		r := ev.Rename
		if prev, ok := d.store.UserByID(r.User); ok {
			r.OldNick = prev.Nick
		}
		u, err := d.store.ChangeNick(r.User, r.NewNick, r.TS)
		if errors.Is(err, state.ErrNickInUse) {
			u, err = d.store.ChangeNick(r.User, string(r.User), r.TS)
			if err == nil {
				r.Forced = true
				d.log.Warn().
					Str("uid", string(r.User)).
					Str("nick", r.NewNick).
					Msg("nick collision, forced rename to UID")
			}
		}
		if err != nil {
			return ev, d.drop(ev, err)
		}
		r.NewNick = u.Nick

	case EventUserQuit:
		u, emptied, err := d.store.QuitUser(ev.Quit.User)
		if err != nil {
			return ev, d.drop(ev, err)
		}
		ev.Quit.Nick = u.Nick
		ev.Quit.Emptied = emptied

	case EventChannelJoined:
		j := ev.Join
		_, created, err := d.store.JoinChannel(j.User, j.Channel, j.TS, j.Flags)
		if err != nil {
			return ev, d.drop(ev, err)
		}
		j.Created = created

	case EventChannelParted:
		deleted, err := d.store.PartChannel(ev.Part.User, ev.Part.Channel)
		if err != nil {
			return ev, d.drop(ev, err)
		}
		ev.Part.Deleted = deleted

	case EventModeChanged:
		if !d.applyMode(ev) {
			return ev, false
		}

	case EventTopicChanged:
		t := ev.Topic
		if _, err := d.store.SetTopic(t.Channel, t.Text, t.SetBy, t.TS); err != nil {
			return ev, d.drop(ev, err)
		}

	case EventAwayChanged:
		if _, err := d.store.SetAway(ev.Away.User, ev.Away.Message); err != nil {
			return ev, d.drop(ev, err)
		}

	case EventAccountChanged:
		if _, err := d.store.SetAccount(ev.Account.User, ev.Account.Account); err != nil {
			return ev, d.drop(ev, err)
		}

	case EventMessage, EventSynced:
		// No state to mutate.

	default:
		return ev, d.drop(ev, errors.New("unhandled event kind"))
	}
	return ev, true
}

// applyMode applies the batched mutations of a mode event. A missing
// target drops the whole event; a failed member change is reported and
// stripped from the delivered batch so subscribers never see mutations
// that did not take.
func (d *Dispatcher) applyMode(ev Event) bool {
	m := ev.Mode
	if !m.Channel {
		if _, err := d.store.SetUserModes(m.UserID, m.SetUser, m.ClearUser); err != nil {
			return d.drop(ev, err)
		}
		return true
	}

	if _, ok := d.store.ChannelByName(m.Target); !ok {
		return d.drop(ev, &state.ConflictError{
			Op: "apply-mode", Entity: m.Target, Err: state.ErrUnknownChannel,
		})
	}
	if m.SetChan != 0 || m.ClearChan != 0 || m.Key != nil || m.Limit != nil {
		if _, err := d.store.UpdateChannelModes(m.Target, m.SetChan, m.ClearChan, m.Key, m.Limit); err != nil {
			return d.drop(ev, err)
		}
	}
	for _, b := range m.Bans {
		if err := d.store.SetBan(m.Target, b.Mask, b.Adding); err != nil {
			return d.drop(ev, err)
		}
	}
	applied := m.Members[:0]
	for _, mc := range m.Members {
		if _, err := d.store.SetMemberFlags(m.Target, mc.User, mc.Set, mc.Clear); err != nil {
			d.report(ev, err)
			continue
		}
		applied = append(applied, mc)
	}
	m.Members = applied
	return true
}

// drop reports a refused event and always returns false.
func (d *Dispatcher) drop(ev Event, err error) bool {
	d.report(ev, err)
	d.log.Debug().Str("event", ev.Kind.String()).Err(err).Msg("event dropped")
	return false
}

func (d *Dispatcher) report(ev Event, err error) {
	d.sink.Report(telemetry.Record{
		Component: "dispatch",
		Kind:      "conflict",
		Context:   map[string]string{"event": ev.Kind.String()},
		Err:       err,
	})
}
