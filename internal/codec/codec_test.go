package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeSingleLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{
			name: "bare command",
			line: "PING\r\n",
			want: Command{Name: "PING"},
		},
		{
			name: "params",
			line: "SERVER alpha.example 1 :Test Server\r\n",
			want: Command{Name: "SERVER", Params: []string{"alpha.example", "1", "Test Server"}},
		},
		{
			name: "source prefix",
			line: ":42X SQUIT alpha.example 0 :split\r\n",
			want: Command{Source: "42X", Name: "SQUIT", Params: []string{"alpha.example", "0", "split"}},
		},
		{
			name: "trailing with colon only",
			line: "TOPIC #chan :\r\n",
			want: Command{Name: "TOPIC", Params: []string{"#chan", ""}},
		},
		{
			name: "bare LF terminator",
			line: "PONG server\n",
			want: Command{Name: "PONG", Params: []string{"server"}},
		},
		{
			name: "extra spaces between params",
			line: "MODE  #chan   +nt\r\n",
			want: Command{Name: "MODE", Params: []string{"#chan", "+nt"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDecoder(0)
			got, err := d.Feed([]byte(tc.line))
			if err != nil {
				t.Fatalf("Feed: unexpected error: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("Feed: got %d commands, want 1", len(got))
			}
			if diff := cmp.Diff(tc.want, got[0]); diff != "" {
				t.Errorf("command mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodePartialLines(t *testing.T) {
	d := NewDecoder(0)

	got, err := d.Feed([]byte(":42X N bo"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no commands from partial line, got %v", got)
	}

	got, err = d.Feed([]byte("b 1 :Bob\r\nPING :x"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	want := Command{Source: "42X", Name: "N", Params: []string{"bob", "1", "Bob"}}
	if len(got) != 1 || !cmp.Equal(want, got[0]) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	got, err = d.Feed([]byte("yz\r\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(got) != 1 || got[0].Trailing() != "xyz" {
		t.Fatalf("got %+v, want trailing xyz", got)
	}
}

func TestDecodeFrameTooLong(t *testing.T) {
	d := NewDecoder(32)

	long := strings.Repeat("a", 64)
	got, err := d.Feed([]byte("PING one\r\n" + long + "\r\nPING two\r\n"))

	var tooLong *FrameTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected FrameTooLongError, got %v", err)
	}
	if tooLong.Limit != 32 {
		t.Errorf("Limit = %d, want 32", tooLong.Limit)
	}
	if len(got) != 2 || got[0].Param(0) != "one" || got[1].Param(0) != "two" {
		t.Fatalf("surrounding commands not preserved: %+v", got)
	}
}

func TestDecodeFrameTooLongAcrossFeeds(t *testing.T) {
	d := NewDecoder(16)

	// Overflow without ever seeing a terminator, then recover.
	for range 4 {
		if _, err := d.Feed([]byte(strings.Repeat("b", 8))); err != nil {
			t.Fatalf("Feed during overflow: %v", err)
		}
	}
	got, err := d.Feed([]byte("\r\nPING ok\r\n"))
	var tooLong *FrameTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected FrameTooLongError after terminator, got %v", err)
	}
	if len(got) != 1 || got[0].Param(0) != "ok" {
		t.Fatalf("decoder did not resync after oversized frame: %+v", got)
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	d := NewDecoder(0)
	got, err := d.Feed([]byte("\r\n   \r\nPING x\r\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "PING" {
		t.Fatalf("got %+v, want single PING", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cmds := []Command{
		{Name: "PING"},
		{Name: "PONG", Params: []string{"alpha.example"}},
		{Source: "42X", Name: "SERVER", Params: []string{"alpha.example", "1", "Some description here"}},
		{Source: "42XAB", Name: "NICK", Params: []string{"newnick"}},
		{Name: "TOPIC", Params: []string{"#chan", ""}},
		{Name: "PRIVMSG", Params: []string{"#chan", ":starts with colon"}},
		{Name: "MODE", Params: []string{"#chan", "+ntk", "sekrit"}},
	}

	for _, cmd := range cmds {
		d := NewDecoder(0)
		got, err := d.Feed(cmd.Encode())
		if err != nil {
			t.Fatalf("Feed(%q): %v", cmd.Encode(), err)
		}
		if len(got) != 1 {
			t.Fatalf("Feed(%q): got %d commands", cmd.Encode(), len(got))
		}
		if diff := cmp.Diff(cmd, got[0]); diff != "" {
			t.Errorf("round trip mismatch for %q (-want +got):\n%s", cmd.Encode(), diff)
		}
	}
}
