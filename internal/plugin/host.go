package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/perch-irc/perch/internal/codec"
	"github.com/perch-irc/perch/internal/core"
	"github.com/perch-irc/perch/internal/dialect"
	"github.com/perch-irc/perch/internal/state"
	"github.com/perch-irc/perch/internal/telemetry"
)

// Status is a registration's lifecycle state.
type Status int

const (
	// StatusActive receives events.
	StatusActive Status = iota
	// StatusFaulted means the plugin violated its contract or timed
	// out; its process is gone and it is not retried until an explicit
	// reload.
	StatusFaulted
)

func (s Status) String() string {
	if s == StatusFaulted {
		return "faulted"
	}
	return "active"
}

// LoadError means the module never activated.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Path, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }

// IncompatibleABIError means the plugin declared a contract revision
// the host does not speak.
type IncompatibleABIError struct {
	Path string
	Got  int
}

func (e *IncompatibleABIError) Error() string {
	return fmt.Sprintf("load %s: plugin ABI %d, host speaks %d", e.Path, e.Got, ABIVersion)
}

// ErrUnknownPlugin is returned for operations on a name that is not
// loaded.
var ErrUnknownPlugin = errors.New("plugin not loaded")

// Process is one running plugin child. Implementations are driven by a
// single goroutine at a time; Kill may be called from anywhere and must
// unblock a pending Recv.
type Process interface {
	Send(f Frame) error
	Recv() (Frame, error)
	Kill()
}

// Starter launches the plugin binary at path. Tests inject in-memory
// implementations; production uses Spawn.
type Starter func(path string) (Process, error)

type execProcess struct {
	cmd *exec.Cmd
	enc *json.Encoder
	dec *json.Decoder

	once sync.Once
}

// Spawn starts path as a child process in serve mode, wiring frames
// over its stdio.
func Spawn(path string) (Process, error) {
	cmd := exec.Command(path)
	cmd.Env = append(os.Environ(), EnvServe+"=serve")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{
		cmd: cmd,
		enc: json.NewEncoder(stdin),
		dec: json.NewDecoder(stdout),
	}, nil
}

func (p *execProcess) Send(f Frame) error { return p.enc.Encode(f) }

func (p *execProcess) Recv() (Frame, error) {
	var f Frame
	err := p.dec.Decode(&f)
	return f, err
}

func (p *execProcess) Kill() {
	p.once.Do(func() {
		p.cmd.Process.Kill()
		go p.cmd.Wait()
	})
}

// Handle identifies one loaded plugin across reloads: the ID is stable,
// the generation increments each reload so stale handles are
// detectable.
type Handle struct {
	ID         uuid.UUID
	Name       string
	Generation int
}

// Info is a listing snapshot of one registration.
type Info struct {
	Handle
	Path          string
	Version       string
	Status        Status
	Subscriptions []string
	Clients       []string
}

type registration struct {
	// mu serializes event dispatch against lifecycle operations: a
	// reload or unload waits out an in-flight handler, and no handler
	// runs on a torn-down process.
	mu sync.Mutex

	id         uuid.UUID
	name       string
	path       string
	version    string
	generation int
	status     Status
	subs       map[core.EventKind]bool
	subNames   []string
	// clients maps folded nick to the UID the host introduced; specs
	// keeps the declarations so clients can be re-burst after a relink.
	clients map[string]state.UserID
	specs   []ClientSpec
	proc    Process
	seq     uint64
}

// Config carries the host's tunables.
type Config struct {
	// Dir is the plugin binary directory.
	Dir string
	// Enabled filters LoadAll and the watcher by binary base name.
	// Empty means everything in Dir.
	Enabled map[string]bool
	// EventBudget bounds one plugin's handling of one event.
	EventBudget time.Duration
	// HandshakeTimeout bounds the hello exchange at load.
	HandshakeTimeout time.Duration

	ServerName string
	SID        state.ServerID
}

func (c Config) withDefaults() Config {
	if c.EventBudget <= 0 {
		c.EventBudget = 2 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	return c
}

// Deps are the host's seams into the rest of the process.
type Deps struct {
	// Queries answers plugin state lookups.
	Queries state.Queries
	// Dispatch applies an injected event in total order. The host never
	// calls it during fan-out; injected events go through Run's drain.
	Dispatch func(context.Context, core.Event)
	// Submit queues wire commands on the link.
	Submit func(...codec.Command) error
	// Dialect builds the wire commands for plugin clients.
	Dialect dialect.Dialect
	Sink    telemetry.Sink
	Logger  zerolog.Logger
	// Start launches plugin processes; nil means Spawn.
	Start Starter
}

// Host owns every plugin registration. It implements core.Subscriber:
// register it on the dispatcher and start Run for injected events.
type Host struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu     sync.Mutex
	regs   map[string]*registration
	order  []string
	byPath map[string]string
	uidN   uint64

	inject chan core.Event
}

// NewHost builds a host. Run must be started for plugin client
// lifecycle events to reach the store.
func NewHost(cfg Config, deps Deps) *Host {
	if deps.Sink == nil {
		deps.Sink = telemetry.Discard{}
	}
	if deps.Start == nil {
		deps.Start = Spawn
	}
	return &Host{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		log:    deps.Logger.With().Str("component", "plugin").Logger(),
		regs:   make(map[string]*registration),
		byPath: make(map[string]string),
		inject: make(chan core.Event, 128),
	}
}

// Run drains injected events (plugin client introductions, joins,
// quits) into the dispatcher until ctx is cancelled.
func (h *Host) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-h.inject:
			h.deps.Dispatch(ctx, ev)
		}
	}
}

// push hands an event to Run's drain. Full mailbox means something is
// badly wedged; the event is dropped and reported rather than blocking
// dispatch.
func (h *Host) push(ev core.Event) {
	select {
	case h.inject <- ev:
	default:
		h.report("plugin", "conflict", map[string]string{"event": ev.Kind.String()},
			errors.New("inject mailbox full, event dropped"))
	}
}

// LoadAll scans the plugin directory and loads every enabled
// executable. Individual load failures are reported and skipped.
func (h *Host) LoadAll() error {
	entries, err := os.ReadDir(h.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		path := filepath.Join(h.cfg.Dir, ent.Name())
		if !h.loadable(path) {
			continue
		}
		if _, err := h.Load(path); err != nil {
			h.report("plugin", "load_error", map[string]string{"path": path}, err)
		}
	}
	return nil
}

// loadable reports whether path is an enabled executable.
func (h *Host) loadable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() || fi.Mode()&0111 == 0 {
		return false
	}
	if len(h.cfg.Enabled) == 0 {
		return true
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return h.cfg.Enabled[base]
}

// Load starts the binary at path, performs the handshake, introduces
// its declared clients, and activates it.
func (h *Host) Load(path string) (Handle, error) {
	proc, err := h.deps.Start(path)
	if err != nil {
		return Handle{}, &LoadError{Path: path, Err: err}
	}
	hello, err := h.handshake(path, proc)
	if err != nil {
		proc.Kill()
		return Handle{}, err
	}

	reg := &registration{
		id:      uuid.New(),
		name:    hello.Name,
		path:    path,
		version: hello.Version,
		status:  StatusActive,
		proc:    proc,
	}
	if err := h.applyHello(reg, hello); err != nil {
		proc.Kill()
		return Handle{}, &LoadError{Path: path, Err: err}
	}

	h.mu.Lock()
	if _, dup := h.regs[reg.name]; dup {
		h.mu.Unlock()
		proc.Kill()
		return Handle{}, &LoadError{Path: path, Err: fmt.Errorf("name %q already loaded", reg.name)}
	}
	h.regs[reg.name] = reg
	h.order = append(h.order, reg.name)
	h.byPath[path] = reg.name
	h.mu.Unlock()

	reg.mu.Lock()
	h.introduceClients(reg, hello.Clients)
	reg.mu.Unlock()
	h.log.Info().Str("name", reg.name).Str("version", reg.version).
		Strs("subscriptions", reg.subNames).Msg("plugin loaded")
	return Handle{ID: reg.id, Name: reg.name, Generation: reg.generation}, nil
}

// handshake runs the hello/welcome exchange within the configured
// timeout.
func (h *Host) handshake(path string, proc Process) (*Hello, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.HandshakeTimeout)
	defer cancel()

	f, err := recvFrame(ctx, proc)
	if err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("hello: %w", err)}
	}
	if f.Type != "hello" || f.Hello == nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("expected hello, got %q", f.Type)}
	}
	if f.Hello.ABI != ABIVersion {
		return nil, &IncompatibleABIError{Path: path, Got: f.Hello.ABI}
	}
	if f.Hello.Name == "" {
		return nil, &LoadError{Path: path, Err: errors.New("hello missing name")}
	}
	welcome := Frame{Type: "welcome", Welcome: &Welcome{
		ABI:        ABIVersion,
		ServerName: h.cfg.ServerName,
		SID:        string(h.cfg.SID),
	}}
	if err := proc.Send(welcome); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("welcome: %w", err)}
	}
	return f.Hello, nil
}

// applyHello validates and installs the hello's declarations on reg.
func (h *Host) applyHello(reg *registration, hello *Hello) error {
	subs := make(map[core.EventKind]bool, len(hello.Subscriptions))
	for _, name := range hello.Subscriptions {
		kind, ok := core.ParseEventKind(name)
		if !ok {
			return fmt.Errorf("unknown event kind %q", name)
		}
		subs[kind] = true
	}
	reg.subs = subs
	reg.subNames = append([]string(nil), hello.Subscriptions...)
	reg.clients = make(map[string]state.UserID, len(hello.Clients))
	reg.specs = append([]ClientSpec(nil), hello.Clients...)
	return nil
}

// introduceClients brings the plugin's declared service clients onto
// the network: into the store via the event order, and to the uplink.
func (h *Host) introduceClients(reg *registration, specs []ClientSpec) {
	now := time.Now().Unix()
	for _, spec := range specs {
		if spec.Nick == "" {
			continue
		}
		uid, ok := reg.clients[state.Fold(spec.Nick)]
		if !ok {
			uid = h.nextUID()
		}
		if _, present := h.deps.Queries.UserByID(uid); present {
			// Already on the network this epoch.
			reg.clients[state.Fold(spec.Nick)] = uid
			continue
		}
		u := state.User{
			ID:     uid,
			Nick:   spec.Nick,
			Ident:  spec.Ident,
			Host:   spec.Host,
			Gecos:  spec.Gecos,
			Modes:  state.UserService | state.UserInvisible,
			Server: h.cfg.SID,
			TS:     now,
		}
		if u.Ident == "" {
			u.Ident = strings.ToLower(spec.Nick)
		}
		if u.Host == "" {
			u.Host = h.cfg.ServerName
		}
		reg.clients[state.Fold(spec.Nick)] = u.ID
		h.push(core.Event{Kind: core.EventUserIntroduced, User: &u})
		if err := h.deps.Submit(h.deps.Dialect.IntroduceClient(u)); err != nil {
			h.report("plugin", "transport", map[string]string{"client": spec.Nick}, err)
		}
	}
}

// ResyncClients reintroduces every active plugin's service clients.
// Called after a relink, when the rebuilt network state no longer knows
// them and the new uplink has not seen them.
func (h *Host) ResyncClients() {
	h.mu.Lock()
	names := append([]string(nil), h.order...)
	h.mu.Unlock()
	for _, name := range names {
		h.mu.Lock()
		reg := h.regs[name]
		h.mu.Unlock()
		if reg == nil {
			continue
		}
		reg.mu.Lock()
		if reg.status == StatusActive {
			h.introduceClients(reg, reg.specs)
		}
		reg.mu.Unlock()
	}
}

// removeClients quits reg's service clients everywhere.
func (h *Host) removeClients(reg *registration, reason string) {
	for _, uid := range reg.clients {
		h.push(core.Event{Kind: core.EventUserQuit, Quit: &core.QuitInfo{User: uid, Reason: reason}})
		h.deps.Submit(h.deps.Dialect.RemoveClient(uid, reason))
	}
	reg.clients = make(map[string]state.UserID)
}

const uidAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// nextUID allocates the next local user ID under our SID.
func (h *Host) nextUID() state.UserID {
	h.mu.Lock()
	n := h.uidN
	h.uidN++
	h.mu.Unlock()

	suffix := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		suffix[i] = uidAlphabet[n%uint64(len(uidAlphabet))]
		n /= uint64(len(uidAlphabet))
	}
	return state.UserID(string(h.cfg.SID) + string(suffix))
}

// Unload tears the named plugin down, quiescing any in-flight handler
// first.
func (h *Host) Unload(name string) error {
	h.mu.Lock()
	reg, ok := h.regs[name]
	if ok {
		delete(h.regs, name)
		delete(h.byPath, reg.path)
		for i, n := range h.order {
			if n == name {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.proc != nil {
		reg.proc.Kill()
		reg.proc = nil
	}
	h.removeClients(reg, "plugin unloaded")
	h.log.Info().Str("name", name).Msg("plugin unloaded")
	return nil
}

// Reload restarts the named plugin from its binary: the old process is
// torn down after any in-flight handler finishes, the new one is
// handshaken, and the handle's generation is bumped. Subscriptions and
// clients follow the new hello. On failure the registration is removed.
func (h *Host) Reload(name string) (Handle, error) {
	h.mu.Lock()
	reg, ok := h.regs[name]
	h.mu.Unlock()
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.proc != nil {
		reg.proc.Kill()
		reg.proc = nil
	}
	h.removeClients(reg, "plugin reloading")

	proc, err := h.deps.Start(reg.path)
	if err != nil {
		h.drop(reg)
		return Handle{}, &LoadError{Path: reg.path, Err: err}
	}
	hello, err := h.handshake(reg.path, proc)
	if err != nil {
		proc.Kill()
		h.drop(reg)
		return Handle{}, err
	}
	if hello.Name != reg.name {
		proc.Kill()
		h.drop(reg)
		return Handle{}, &LoadError{Path: reg.path, Err: fmt.Errorf("renamed to %q across reload", hello.Name)}
	}
	if err := h.applyHello(reg, hello); err != nil {
		proc.Kill()
		h.drop(reg)
		return Handle{}, &LoadError{Path: reg.path, Err: err}
	}

	reg.proc = proc
	reg.version = hello.Version
	reg.generation++
	reg.status = StatusActive
	h.introduceClients(reg, hello.Clients)
	h.log.Info().Str("name", name).Int("generation", reg.generation).Msg("plugin reloaded")
	return Handle{ID: reg.id, Name: reg.name, Generation: reg.generation}, nil
}

// drop removes reg from the registry; callers hold reg.mu.
func (h *Host) drop(reg *registration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.regs, reg.name)
	delete(h.byPath, reg.path)
	for i, n := range h.order {
		if n == reg.name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// List snapshots every registration in load order.
func (h *Host) List() []Info {
	h.mu.Lock()
	names := append([]string(nil), h.order...)
	regs := make([]*registration, 0, len(names))
	for _, n := range names {
		regs = append(regs, h.regs[n])
	}
	h.mu.Unlock()

	out := make([]Info, 0, len(regs))
	for _, reg := range regs {
		reg.mu.Lock()
		info := Info{
			Handle:        Handle{ID: reg.id, Name: reg.name, Generation: reg.generation},
			Path:          reg.path,
			Version:       reg.version,
			Status:        reg.status,
			Subscriptions: append([]string(nil), reg.subNames...),
		}
		for nick := range reg.clients {
			info.Clients = append(info.Clients, nick)
		}
		reg.mu.Unlock()
		out = append(out, info)
	}
	return out
}

// Shutdown unloads everything.
func (h *Host) Shutdown() {
	h.mu.Lock()
	names := append([]string(nil), h.order...)
	h.mu.Unlock()
	for _, name := range names {
		h.Unload(name)
	}
}

// HandleEvent implements core.Subscriber: fan the settled event out to
// every subscribed plugin, in load order, each within its own budget.
func (h *Host) HandleEvent(ctx context.Context, ev core.Event, q state.Queries) {
	h.mu.Lock()
	regs := make([]*registration, 0, len(h.order))
	for _, name := range h.order {
		regs = append(regs, h.regs[name])
	}
	h.mu.Unlock()

	for _, reg := range regs {
		h.invoke(ctx, reg, ev, q)
	}
}

// invoke delivers one event to one plugin and services its queries and
// commands until it acknowledges or exhausts the budget.
func (h *Host) invoke(ctx context.Context, reg *registration, ev core.Event, q state.Queries) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.status != StatusActive || reg.proc == nil || !reg.subs[ev.Kind] {
		return
	}

	data, err := eventData(ev, q)
	if err != nil {
		h.report("plugin", "conflict", map[string]string{"plugin": reg.name}, err)
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		h.report("plugin", "conflict", map[string]string{"plugin": reg.name}, err)
		return
	}

	reg.seq++
	seq := reg.seq
	frame := Frame{Type: "event", Event: &EventFrame{Seq: seq, Kind: ev.Kind.String(), Data: raw}}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.EventBudget)
	defer cancel()

	if err := reg.proc.Send(frame); err != nil {
		h.fault(reg, fmt.Errorf("send event: %w", err))
		return
	}
	for {
		f, err := recvFrame(ctx, reg.proc)
		if err != nil {
			h.fault(reg, fmt.Errorf("event %d: %w", seq, err))
			return
		}
		switch f.Type {
		case "command":
			if f.Command == nil {
				h.fault(reg, errors.New("empty command frame"))
				return
			}
			if err := h.handleCommand(reg, f.Command); err != nil {
				h.fault(reg, err)
				return
			}
		case "query":
			if f.Query == nil {
				h.fault(reg, errors.New("empty query frame"))
				return
			}
			if err := reg.proc.Send(h.answer(q, f.Query)); err != nil {
				h.fault(reg, fmt.Errorf("send reply: %w", err))
				return
			}
		case "done":
			if f.Done == nil || f.Done.Seq != seq {
				h.fault(reg, fmt.Errorf("done out of sequence"))
				return
			}
			if f.Done.Error != "" {
				h.report("plugin", "plugin_error",
					map[string]string{"plugin": reg.name, "event": ev.Kind.String()},
					errors.New(f.Done.Error))
			}
			return
		default:
			h.fault(reg, fmt.Errorf("unexpected frame %q", f.Type))
			return
		}
	}
}

// fault isolates a misbehaving plugin: kill, mark, report, and retire
// its clients. Callers hold reg.mu.
func (h *Host) fault(reg *registration, err error) {
	if reg.proc != nil {
		reg.proc.Kill()
		reg.proc = nil
	}
	reg.status = StatusFaulted
	h.removeClients(reg, "plugin faulted")
	h.report("plugin", "plugin_fault", map[string]string{"plugin": reg.name}, err)
	h.log.Warn().Str("name", reg.name).Err(err).Msg("plugin faulted")
}

// handleCommand validates and executes one plugin-issued action. A
// command from a client the plugin does not own is a contract
// violation.
func (h *Host) handleCommand(reg *registration, c *CommandFrame) error {
	uid, ok := reg.clients[state.Fold(c.Client)]
	if !ok {
		return fmt.Errorf("command from unowned client %q", c.Client)
	}
	switch c.Kind {
	case "message":
		return h.deps.Submit(h.deps.Dialect.Message(uid, c.Target, c.Text, c.Notice))
	case "join":
		ts := time.Now().Unix()
		h.push(core.Event{Kind: core.EventChannelJoined, Join: &core.JoinInfo{
			User: uid, Channel: c.Channel, TS: ts,
		}})
		return h.deps.Submit(h.deps.Dialect.Join(uid, c.Channel, ts))
	case "part":
		h.push(core.Event{Kind: core.EventChannelParted, Part: &core.PartInfo{
			User: uid, Channel: c.Channel, Reason: c.Reason,
		}})
		return h.deps.Submit(h.deps.Dialect.Part(uid, c.Channel, c.Reason))
	}
	return fmt.Errorf("unknown command kind %q", c.Kind)
}

// answer resolves one query against the store.
func (h *Host) answer(q state.Queries, qf *QueryFrame) Frame {
	reply := &ReplyFrame{QID: qf.QID}
	var data any
	switch qf.What {
	case "user_by_nick":
		if u, ok := q.UserByNick(qf.Arg); ok {
			reply.Found, data = true, userDTO(&u)
		}
	case "user_by_id":
		if u, ok := q.UserByID(state.UserID(qf.Arg)); ok {
			reply.Found, data = true, userDTO(&u)
		}
	case "channel":
		if ch, ok := q.ChannelByName(qf.Arg); ok {
			reply.Found, data = true, channelDTO(ch)
		}
	case "members":
		members := q.MembersOf(qf.Arg)
		dtos := make([]MemberDTO, 0, len(members))
		for _, m := range members {
			dto := MemberDTO{
				ID:    string(m.User),
				Op:    m.Flags&state.MemberOp != 0,
				Voice: m.Flags&state.MemberVoice != 0,
			}
			if u, ok := q.UserByID(m.User); ok {
				dto.Nick = u.Nick
			}
			dtos = append(dtos, dto)
		}
		reply.Found, data = true, dtos
	case "channels_of":
		reply.Found, data = true, q.ChannelsOf(state.UserID(qf.Arg))
	case "counts":
		servers, users, channels := q.Counts()
		reply.Found, data = true, CountsDTO{Servers: servers, Users: users, Channels: channels}
	default:
		reply.Error = fmt.Sprintf("unknown query %q", qf.What)
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			reply.Found, reply.Error = false, err.Error()
		} else {
			reply.Data = raw
		}
	}
	return Frame{Type: "reply", Reply: reply}
}

// recvFrame reads one frame, killing the process if ctx expires first.
func recvFrame(ctx context.Context, proc Process) (Frame, error) {
	type result struct {
		f   Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := proc.Recv()
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		return r.f, r.err
	case <-ctx.Done():
		proc.Kill()
		return Frame{}, fmt.Errorf("budget exhausted: %w", ctx.Err())
	}
}

func (h *Host) report(component, kind string, extra map[string]string, err error) {
	h.deps.Sink.Report(telemetry.Record{
		Component: component,
		Kind:      kind,
		Context:   extra,
		Err:       err,
	})
}
