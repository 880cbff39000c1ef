// Package codec frames and parses line-oriented server-to-server protocol
// messages. It is dialect-agnostic: a Command is the untyped wire shape
// (source prefix, name, parameters); giving commands protocol meaning is
// the dialect's job.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxLine is the frame limit applied when a Decoder is created
// with a non-positive maximum.
const DefaultMaxLine = 512

// Command is a single parsed protocol message. The last parameter may
// contain spaces (trailing-parameter convention); all others may not.
type Command struct {
	// Source is the sender prefix without the leading colon, empty when
	// the message carried none.
	Source string
	Name   string
	Params []string
}

// Param returns the i-th parameter, or the empty string when absent.
func (c Command) Param(i int) string {
	if i < 0 || i >= len(c.Params) {
		return ""
	}
	return c.Params[i]
}

// Trailing returns the last parameter, or the empty string when there
// are none.
func (c Command) Trailing() string {
	if len(c.Params) == 0 {
		return ""
	}
	return c.Params[len(c.Params)-1]
}

// Encode renders the command in wire format, terminated by CRLF. The
// last parameter is written as a trailing parameter when it contains a
// space, starts with a colon, or is empty.
func (c Command) Encode() []byte {
	var b bytes.Buffer
	if c.Source != "" {
		b.WriteByte(':')
		b.WriteString(c.Source)
		b.WriteByte(' ')
	}
	b.WriteString(c.Name)
	for i, p := range c.Params {
		b.WriteByte(' ')
		if i == len(c.Params)-1 && needsTrailing(p) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func needsTrailing(p string) bool {
	return p == "" || strings.HasPrefix(p, ":") || strings.ContainsRune(p, ' ')
}

func (c Command) String() string {
	line := c.Encode()
	return string(bytes.TrimRight(line, "\r\n"))
}

// FrameTooLongError reports a line that exceeded the decoder's frame
// limit and was discarded.
type FrameTooLongError struct {
	Length int // bytes accumulated before the line was abandoned
	Limit  int
}

func (e *FrameTooLongError) Error() string {
	return fmt.Sprintf("frame too long: %d bytes exceeds limit %d", e.Length, e.Limit)
}

// Decoder splits a byte stream into Commands. Partial lines are carried
// over between Feed calls, so the stream may be fed in arbitrary chunks.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	max      int
	buf      []byte
	skipping bool // discarding the remainder of an oversized line
	skipped  int
}

// NewDecoder returns a decoder enforcing the given frame limit.
// A non-positive limit selects DefaultMaxLine.
func NewDecoder(maxLine int) *Decoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &Decoder{max: maxLine}
}

// Feed appends data to the decoder and returns the commands completed by
// it. Lines that exceed the frame limit are discarded and reported as
// FrameTooLongError values joined into the returned error; decoding
// continues with the next line, so a non-nil error never invalidates the
// returned commands.
func (d *Decoder) Feed(data []byte) ([]Command, error) {
	var cmds []Command
	var errs []error

	rest := data
	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			break
		}
		line, tail := rest[:nl], rest[nl+1:]
		rest = tail

		if d.skipping {
			d.skipped += len(line) + 1
			err := &FrameTooLongError{Length: d.skipped, Limit: d.max}
			d.skipping = false
			d.skipped = 0
			errs = append(errs, err)
			continue
		}

		full := line
		if len(d.buf) > 0 {
			full = append(d.buf, line...)
			d.buf = nil
		}
		if len(full) > d.max {
			errs = append(errs, &FrameTooLongError{Length: len(full), Limit: d.max})
			continue
		}
		if cmd, ok := parseLine(full); ok {
			cmds = append(cmds, cmd)
		}
	}

	if d.skipping {
		d.skipped += len(rest)
		return cmds, errors.Join(errs...)
	}

	if len(rest) > 0 {
		d.buf = append(d.buf, rest...)
		if len(d.buf) > d.max {
			d.skipping = true
			d.skipped = len(d.buf)
			d.buf = nil
		}
	}
	return cmds, errors.Join(errs...)
}

// parseLine parses one line without its terminator. It reports ok=false
// for blank lines; malformed content never fails at this level, the
// tokens are delivered as-is for the dialect to judge.
func parseLine(line []byte) (Command, bool) {
	line = bytes.TrimRight(line, "\r")
	s := string(line)

	var cmd Command
	if strings.HasPrefix(s, ":") {
		sp := strings.IndexByte(s, ' ')
		if sp < 0 {
			return Command{}, false
		}
		cmd.Source = s[1:sp]
		s = s[sp+1:]
	}

	for s != "" {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			break
		}
		if cmd.Name != "" && strings.HasPrefix(s, ":") {
			cmd.Params = append(cmd.Params, s[1:])
			break
		}
		tok := s
		if sp := strings.IndexByte(s, ' '); sp >= 0 {
			tok, s = s[:sp], s[sp+1:]
		} else {
			s = ""
		}
		if cmd.Name == "" {
			cmd.Name = tok
		} else {
			cmd.Params = append(cmd.Params, tok)
		}
	}

	if cmd.Name == "" {
		return Command{}, false
	}
	return cmd, true
}
