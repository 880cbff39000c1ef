// Package sdk is the plugin-side half of the host's wire contract. A
// plugin binary declares itself and calls Serve; the sdk handles the
// handshake and the per-event exchange, handing the handler a Ctx for
// state queries and client commands.
package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/perch-irc/perch/internal/plugin"
)

// Client declares one service client the host introduces for this
// plugin.
type Client = plugin.ClientSpec

// Config identifies the plugin to the host.
type Config struct {
	Name    string
	Version string
	// Subscriptions are event kind names the plugin wants delivered.
	Subscriptions []string
	Clients       []Client
}

// Event is one delivered event. Data holds the kind-specific payload;
// decode it with As.
type Event struct {
	Kind string
	Data json.RawMessage
}

// As decodes the event payload into the matching DTO type.
func As[T any](ev Event) (T, error) {
	var out T
	err := json.Unmarshal(ev.Data, &out)
	return out, err
}

// Handler handles one event. A returned error is reported to the host
// but does not fault the plugin.
type Handler func(ctx *Ctx, ev Event) error

// Ctx is the per-event capability surface: read-only state queries and
// outbound commands from the plugin's clients.
type Ctx struct {
	// ServerName and SID identify the hosting pseudo-server.
	ServerName string
	SID        string

	enc *json.Encoder
	dec *json.Decoder
	qid uint64
}

// Message sends a PRIVMSG from one of the plugin's clients.
func (c *Ctx) Message(client, target, text string) error {
	return c.command(&plugin.CommandFrame{Kind: "message", Client: client, Target: target, Text: text})
}

// Notice sends a NOTICE from one of the plugin's clients.
func (c *Ctx) Notice(client, target, text string) error {
	return c.command(&plugin.CommandFrame{Kind: "message", Client: client, Target: target, Text: text, Notice: true})
}

// Join puts a client into a channel.
func (c *Ctx) Join(client, channel string) error {
	return c.command(&plugin.CommandFrame{Kind: "join", Client: client, Channel: channel})
}

// Part removes a client from a channel.
func (c *Ctx) Part(client, channel, reason string) error {
	return c.command(&plugin.CommandFrame{Kind: "part", Client: client, Channel: channel, Reason: reason})
}

func (c *Ctx) command(cmd *plugin.CommandFrame) error {
	return c.enc.Encode(plugin.Frame{Type: "command", Command: cmd})
}

// UserByNick looks a user up by nickname.
func (c *Ctx) UserByNick(nick string) (plugin.UserDTO, bool, error) {
	return query[plugin.UserDTO](c, "user_by_nick", nick)
}

// UserByID looks a user up by UID.
func (c *Ctx) UserByID(id string) (plugin.UserDTO, bool, error) {
	return query[plugin.UserDTO](c, "user_by_id", id)
}

// Channel looks a channel up by name.
func (c *Ctx) Channel(name string) (plugin.ChannelDTO, bool, error) {
	return query[plugin.ChannelDTO](c, "channel", name)
}

// Members lists a channel's members with status flags.
func (c *Ctx) Members(channel string) ([]plugin.MemberDTO, error) {
	out, _, err := query[[]plugin.MemberDTO](c, "members", channel)
	return out, err
}

// ChannelsOf lists the channels a user is in.
func (c *Ctx) ChannelsOf(id string) ([]string, error) {
	out, _, err := query[[]string](c, "channels_of", id)
	return out, err
}

// Counts reports network-wide entity counts.
func (c *Ctx) Counts() (plugin.CountsDTO, error) {
	out, _, err := query[plugin.CountsDTO](c, "counts", "")
	return out, err
}

func query[T any](c *Ctx, what, arg string) (T, bool, error) {
	var out T
	c.qid++
	qid := c.qid
	if err := c.enc.Encode(plugin.Frame{Type: "query", Query: &plugin.QueryFrame{
		QID: qid, What: what, Arg: arg,
	}}); err != nil {
		return out, false, err
	}
	var f plugin.Frame
	if err := c.dec.Decode(&f); err != nil {
		return out, false, err
	}
	if f.Type != "reply" || f.Reply == nil || f.Reply.QID != qid {
		return out, false, fmt.Errorf("expected reply %d, got %q", qid, f.Type)
	}
	if f.Reply.Error != "" {
		return out, false, errors.New(f.Reply.Error)
	}
	if !f.Reply.Found {
		return out, false, nil
	}
	if len(f.Reply.Data) > 0 {
		if err := json.Unmarshal(f.Reply.Data, &out); err != nil {
			return out, false, err
		}
	}
	return out, true, nil
}

// Serve runs the plugin loop over stdio. It returns immediately when
// the process was not started by the host in serve mode, so a plugin's
// main can call it unconditionally. Serve returns when the host closes
// the pipe.
func Serve(cfg Config, h Handler) error {
	if os.Getenv(plugin.EnvServe) != "serve" {
		return nil
	}
	return serve(cfg, h, os.Stdin, os.Stdout)
}

func serve(cfg Config, h Handler, in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	dec := json.NewDecoder(in)

	if err := enc.Encode(plugin.Frame{Type: "hello", Hello: &plugin.Hello{
		Name:          cfg.Name,
		Version:       cfg.Version,
		ABI:           plugin.ABIVersion,
		Subscriptions: cfg.Subscriptions,
		Clients:       cfg.Clients,
	}}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	var f plugin.Frame
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("welcome: %w", err)
	}
	if f.Type != "welcome" || f.Welcome == nil {
		return fmt.Errorf("expected welcome, got %q", f.Type)
	}
	if f.Welcome.ABI != plugin.ABIVersion {
		return fmt.Errorf("host ABI %d, plugin speaks %d", f.Welcome.ABI, plugin.ABIVersion)
	}

	ctx := &Ctx{
		ServerName: f.Welcome.ServerName,
		SID:        f.Welcome.SID,
		enc:        enc,
		dec:        dec,
	}
	for {
		var f plugin.Frame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if f.Type != "event" || f.Event == nil {
			return fmt.Errorf("expected event, got %q", f.Type)
		}
		done := plugin.DoneFrame{Seq: f.Event.Seq}
		if err := h(ctx, Event{Kind: f.Event.Kind, Data: f.Event.Data}); err != nil {
			done.Error = err.Error()
		}
		if err := enc.Encode(plugin.Frame{Type: "done", Done: &done}); err != nil {
			return err
		}
	}
}
