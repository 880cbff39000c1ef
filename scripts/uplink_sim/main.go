// Command uplink_sim plays the uplink side of a server link for manual
// smoke testing: it accepts one connection, negotiates, sends a small
// burst, then answers pings and logs everything the peer sends.
package main

import (
	"flag"
	"log"
	"net"
	"os"

	"github.com/perch-irc/perch/internal/codec"
)

func main() {
	if err := run(); err != nil {
		log.Printf("uplink_sim: %v", err)
		os.Exit(1)
	}
}

func run() error {
	listen := flag.String("listen", "127.0.0.1:6667", "listen address")
	sid := flag.String("sid", "1AA", "server ID to announce")
	name := flag.String("name", "hub.example", "server name to announce")
	password := flag.String("password", "linkpass", "link password to send")
	flag.Parse()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Printf("listening on %s as %s (%s)", *listen, *name, *sid)

	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("link from %s", conn.RemoteAddr())

	send := func(cmd codec.Command) {
		if _, err := conn.Write(cmd.Encode()); err != nil {
			log.Printf("write: %v", err)
		}
		log.Printf(">> %s", cmd)
	}

	// Our half of the negotiation, then a burst of two users sharing a
	// channel.
	send(codec.Command{Name: "PASS", Params: []string{*password, "TS", "6", *sid}})
	send(codec.Command{Name: "CAPAB", Params: []string{"QS EX IE EOB"}})
	send(codec.Command{Name: "SERVER", Params: []string{*name, "1", "uplink simulator"}})
	send(codec.Command{Source: *sid, Name: "UID", Params: []string{
		"alice", "1", "1000", "+i", "alice", "host-a.example", "10.0.0.1", *sid + "AAAAAA", "Alice",
	}})
	send(codec.Command{Source: *sid, Name: "UID", Params: []string{
		"bob", "1", "1001", "+i", "bob", "host-b.example", "10.0.0.2", *sid + "AAAAAB", "Bob",
	}})
	send(codec.Command{Source: *sid, Name: "SJOIN", Params: []string{
		"900", "#lounge", "+nt", "@" + *sid + "AAAAAA " + *sid + "AAAAAB",
	}})
	send(codec.Command{Source: *sid, Name: "EOB"})

	dec := codec.NewDecoder(0)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Printf("link closed: %v", err)
			return nil
		}
		cmds, derr := dec.Feed(buf[:n])
		if derr != nil {
			log.Printf("decode: %v", derr)
		}
		for _, cmd := range cmds {
			log.Printf("<< %s", cmd)
			if cmd.Name == "PING" {
				send(codec.Command{Source: *sid, Name: "PONG", Params: []string{cmd.Param(0)}})
			}
		}
	}
}
