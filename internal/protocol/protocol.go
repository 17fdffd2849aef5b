package protocol

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

const (
	// DefaultClientName is the prefix sent by a client that has no name.
	DefaultClientName = "[DEFAULT]"
	// NotFoundReply is sent for a read of a name that is not stored.
	NotFoundReply = "NO such variable"
	// ErrorPrefix starts every error reply line.
	ErrorPrefix = "ERR "
)

var (
	ErrEmptyLine        = errors.New("empty line")
	ErrMissingVerb      = errors.New("missing command")
	ErrUnknownVerb      = errors.New("unknown command")
	ErrMissingDelimiter = errors.New("save expects <name>:<value>")
	ErrEmptyName        = errors.New("missing variable name")
	ErrInvalidName      = errors.New("variable name must not contain spaces")
	ErrEmptyValue       = errors.New("missing variable value")
	ErrUnexpectedArgs   = errors.New("unexpected arguments")
	ErrLineTooLong      = errors.New("line too long")
)

// Error is returned by Parse for a line that does not form a command, and by
// the server for a line longer than its limit.
// Reason is one of the Err* sentinels of this package.
type Error struct {
	Reason error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Reason
}

func fail(reason error, detail string) error {
	return &Error{Reason: reason, Detail: detail}
}

// Verb is the command word of a request line.
type Verb int

const (
	VerbSave Verb = iota
	VerbRead
	VerbClear
)

func (v Verb) String() string {
	switch v {
	case VerbSave:
		return "save"
	case VerbRead:
		return "read"
	case VerbClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Command is a decoded request line.
type Command struct {
	Client string
	Verb   Verb
	Name   string
	Value  string
}

// Line encodes the command as a request line, newline included.
func (c Command) Line() string {
	client := c.Client
	if client == "" {
		client = DefaultClientName
	}
	switch c.Verb {
	case VerbSave:
		return fmt.Sprintf("%s save %s:%s\n", client, c.Name, c.Value)
	case VerbRead:
		return fmt.Sprintf("%s read %s\n", client, c.Name)
	default:
		return fmt.Sprintf("%s clear\n", client)
	}
}

// cutSpace splits s at the first run of whitespace.
func cutSpace(s string) (head, tail string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

// Parse decodes "<clientName> <verb> [args]". The trailing line terminator
// is optional. Blank lines yield ErrEmptyLine.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{}, fail(ErrEmptyLine, "")
	}

	client, rest := cutSpace(line)
	verb, args := cutSpace(rest)
	if verb == "" {
		return Command{}, fail(ErrMissingVerb, "")
	}

	cmd := Command{Client: client}
	switch verb {
	case "save":
		cmd.Verb = VerbSave
		name, value, ok := strings.Cut(args, ":")
		if !ok {
			return Command{}, fail(ErrMissingDelimiter, "")
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return Command{}, fail(ErrEmptyName, "")
		}
		if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
			return Command{}, fail(ErrInvalidName, fmt.Sprintf("%q", name))
		}
		if value == "" {
			return Command{}, fail(ErrEmptyValue, name)
		}
		cmd.Name, cmd.Value = name, value

	case "read":
		cmd.Verb = VerbRead
		fields := strings.Fields(args)
		if len(fields) == 0 {
			return Command{}, fail(ErrEmptyName, "")
		}
		if len(fields) > 1 {
			return Command{}, fail(ErrUnexpectedArgs, strings.Join(fields[1:], " "))
		}
		cmd.Name = fields[0]

	case "clear":
		cmd.Verb = VerbClear
		if extra := strings.TrimSpace(args); extra != "" {
			return Command{}, fail(ErrUnexpectedArgs, extra)
		}

	default:
		return Command{}, fail(ErrUnknownVerb, fmt.Sprintf("%q", verb))
	}

	return cmd, nil
}

// FormatRequest prefixes a line typed by a user with the client name.
func FormatRequest(client, input string) string {
	if client == "" {
		client = DefaultClientName
	}
	return client + " " + strings.TrimRight(input, "\r\n") + "\n"
}

// FormatReply terminates a reply line.
func FormatReply(s string) string {
	return s + "\n"
}

// FormatError renders err as an error reply line.
func FormatError(err error) string {
	return ErrorPrefix + err.Error() + "\n"
}

// IsErrorReply reports whether a reply line (without terminator) is an error.
func IsErrorReply(line string) bool {
	return strings.HasPrefix(line, ErrorPrefix)
}
