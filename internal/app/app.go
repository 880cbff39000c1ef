// Package app wires the link, the network state, the dispatcher, the
// plugin host, and the admin API into one running process.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	"github.com/perch-irc/perch/internal/admin"
	"github.com/perch-irc/perch/internal/auth"
	"github.com/perch-irc/perch/internal/codec"
	"github.com/perch-irc/perch/internal/config"
	"github.com/perch-irc/perch/internal/core"
	"github.com/perch-irc/perch/internal/dialect"
	"github.com/perch-irc/perch/internal/link"
	"github.com/perch-irc/perch/internal/plugin"
	"github.com/perch-irc/perch/internal/state"
	"github.com/perch-irc/perch/internal/telemetry"
)

// App owns the process. The plugin host and admin API live for the
// whole run; the store, dispatcher, and link session are rebuilt for
// every connection attempt, because network state is only valid for the
// burst that produced it.
type App struct {
	cfg  config.Config
	log  *zerolog.Logger
	sink telemetry.Sink

	host  *plugin.Host
	admin *stdhttp.Server

	mu    sync.RWMutex
	store *state.Store
	disp  *core.Dispatcher
	sess  *link.Session
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if cfg.Server.Name == "" || len(cfg.Server.SID) != 3 {
		return nil, fmt.Errorf("server identity: need a name and a 3-character sid")
	}
	if cfg.Uplink.Addr == "" {
		return nil, fmt.Errorf("uplink: addr is required")
	}

	a := &App{
		cfg:  *cfg,
		log:  logger,
		sink: telemetry.NewLogSink(logger),
	}

	a.host = plugin.NewHost(plugin.Config{
		Dir:              cfg.Plugins.Dir,
		Enabled:          cfg.EnabledSet(),
		EventBudget:      cfg.Plugins.EventBudget,
		HandshakeTimeout: cfg.Plugins.HandshakeTimeout,
		ServerName:       cfg.Server.Name,
		SID:              state.ServerID(cfg.Server.SID),
	}, plugin.Deps{
		Queries:  a,
		Dispatch: a.dispatch,
		Submit:   a.submit,
		Dialect:  dialect.NewTSLite(a.identity()),
		Sink:     a.sink,
		Logger:   *logger,
	})

	a.newEpoch()

	if cfg.Admin.Addr != "" && len(cfg.Admin.Operators) > 0 {
		authService := auth.NewService(cfg.Admin.Operators, &auth.JWTConfig{
			Secret:   []byte(cfg.Admin.JWTSecret),
			Issuer:   cfg.Server.Name,
			Audience: "perch-admin",
			TTL:      cfg.Admin.TokenTTL,
		})
		a.admin = admin.NewServer(cfg.Admin.Addr, admin.Deps{
			Auth:      authService,
			Queries:   a,
			LinkState: a.linkState,
			Plugins:   a.host,
		}, logger)
	}

	return a, nil
}

func (a *App) identity() dialect.Identity {
	return dialect.Identity{
		Name:        a.cfg.Server.Name,
		SID:         state.ServerID(a.cfg.Server.SID),
		Description: a.cfg.Server.Description,
	}
}

// newEpoch builds a fresh store, dispatcher, and session for one
// connection attempt and makes them current.
func (a *App) newEpoch() (*link.Session, *core.Dispatcher) {
	st := state.NewStore(state.Server{
		ID:          state.ServerID(a.cfg.Server.SID),
		Name:        a.cfg.Server.Name,
		Description: a.cfg.Server.Description,
		BootTS:      time.Now().Unix(),
	})
	disp := core.NewDispatcher(st, a.sink, *a.log)
	disp.Subscribe(a.host)
	disp.Subscribe(core.SubscriberFunc(func(ctx context.Context, ev core.Event, _ state.Queries) {
		if ev.Kind == core.EventSynced {
			a.host.ResyncClients()
		}
	}))

	sess := link.NewSession(link.Config{
		Addr:         a.cfg.Uplink.Addr,
		SendPassword: a.cfg.Uplink.SendPassword,
		RecvPassword: a.cfg.Uplink.RecvPassword,
		DialTimeout:  a.cfg.Uplink.DialTimeout,
		PingInterval: a.cfg.Uplink.PingInterval,
		PongTimeout:  a.cfg.Uplink.PongTimeout,
		SendInterval: a.cfg.Uplink.SendInterval,
	}, dialect.NewTSLite(a.identity()), a.sink, *a.log)

	a.mu.Lock()
	a.store, a.disp, a.sess = st, disp, sess
	a.mu.Unlock()
	return sess, disp
}

// Run starts everything and blocks until ctx is cancelled or a fatal
// error occurs.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Any fatal task error cancels the rest.
	g := taskgroup.New(taskgroup.Trigger(cancel))

	g.Go(func() error {
		a.host.Run(ctx)
		return nil
	})
	if a.cfg.Plugins.Watch {
		g.Go(func() error {
			if err := a.host.Watch(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn().Err(err).Msg("plugin watcher stopped")
			}
			return nil
		})
	}
	if err := a.host.LoadAll(); err != nil {
		a.log.Warn().Err(err).Msg("plugin scan failed")
	}

	if a.admin != nil {
		g.Go(func() error {
			a.log.Info().Str("addr", a.admin.Addr).Msg("admin api listening")
			if err := a.admin.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.admin.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return a.linkLoop(ctx) })

	err := g.Wait()
	a.host.Shutdown()
	return err
}

// linkLoop dials the uplink, replays its event stream into the
// dispatcher, and redials after a pause when the link drops.
func (a *App) linkLoop(ctx context.Context) error {
	for {
		sess, disp := a.newEpoch()

		epoch := taskgroup.New(nil)
		epoch.Go(func() error { return disp.Run(ctx, sess.Events()) })

		a.log.Info().Str("addr", a.cfg.Uplink.Addr).Msg("connecting to uplink")
		err := sess.Run(ctx)
		epoch.Wait()

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.log.Warn().Err(err).Msg("link lost")
		} else {
			a.log.Info().Msg("link closed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.Uplink.ReconnectDelay):
		}
	}
}

// dispatch routes an injected event into the current epoch's
// dispatcher.
func (a *App) dispatch(ctx context.Context, ev core.Event) {
	a.mu.RLock()
	disp := a.disp
	a.mu.RUnlock()
	disp.Dispatch(ctx, ev)
}

// submit queues commands on the current link session.
func (a *App) submit(cmds ...codec.Command) error {
	a.mu.RLock()
	sess := a.sess
	a.mu.RUnlock()
	if sess == nil {
		return link.ErrClosed
	}
	return sess.Submit(cmds...)
}

func (a *App) linkState() link.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.sess == nil {
		return link.Disconnected
	}
	return a.sess.State()
}

// App is the stable state.Queries handle given to the plugin host and
// the admin API; it follows the current epoch's store.

func (a *App) queries() state.Queries {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store
}

func (a *App) Self() state.ServerID { return a.queries().Self() }

func (a *App) ServerByID(id state.ServerID) (state.Server, bool) { return a.queries().ServerByID(id) }

func (a *App) ServerByName(name string) (state.Server, bool) { return a.queries().ServerByName(name) }

func (a *App) UserByID(id state.UserID) (state.User, bool) { return a.queries().UserByID(id) }

func (a *App) UserByNick(nick string) (state.User, bool) { return a.queries().UserByNick(nick) }

func (a *App) ChannelByName(name string) (state.Channel, bool) {
	return a.queries().ChannelByName(name)
}

func (a *App) MembersOf(channel string) []state.Member { return a.queries().MembersOf(channel) }

func (a *App) ChannelsOf(id state.UserID) []string { return a.queries().ChannelsOf(id) }

func (a *App) Servers() []state.Server { return a.queries().Servers() }

func (a *App) Counts() (servers, users, channels int) { return a.queries().Counts() }

var _ state.Queries = (*App)(nil)
