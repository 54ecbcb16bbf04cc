// Package admin parses and executes administrator chat commands.
package admin

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/block"
	"github.com/sells-group/formguard/internal/model"
)

// Verb is a command name without the leading slash.
type Verb string

const (
	VerbBlock   Verb = "block"
	VerbUnblock Verb = "unblock"
	VerbLookup  Verb = "lookup"
	VerbAlerts  Verb = "alerts"
	VerbHelp    Verb = "help"
)

// DefaultAlertCount is used by /alerts without an argument.
const DefaultAlertCount = 10

const maxAlertCount = 50

// ErrUnknownCommand is returned for text that is not one of the verbs.
var ErrUnknownCommand = eris.New("admin: unknown command")

// Usage lists the supported commands.
const Usage = "commands:\n" +
	"/block vid|ip|phone <value> [reason...]\n" +
	"/unblock vid|ip|phone <value>\n" +
	"/lookup <site> <vid>\n" +
	"/alerts [n]"

// Command is a parsed administrator command.
type Command struct {
	Verb   Verb
	Kind   model.BlockKind
	Value  string
	Reason string
	Site   string
	Count  int
}

// Target converts a block or unblock command into a registry target.
func (c Command) Target() block.Target {
	switch c.Kind {
	case model.BlockVisitor:
		return block.Target{VisitorID: c.Value}
	case model.BlockIP:
		return block.Target{IP: c.Value}
	case model.BlockPhone:
		return block.Target{Phone: c.Value}
	}
	return block.Target{}
}

// Parse reads one command line. A bot mention suffix such as
// "/block@formguard_bot" is accepted.
func Parse(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, ErrUnknownCommand
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	args := fields[1:]

	switch verb := Verb(strings.ToLower(name)); verb {
	case VerbBlock, VerbUnblock:
		if len(args) >= 2 {
			if kind, ok := model.ParseBlockKind(args[0]); ok && kind == model.BlockPhone {
				value, rest := splitPhone(args[1:])
				args = append([]string{args[0], value}, rest...)
			}
		}
		return FromArgs(verb, args)

	case VerbLookup:
		if len(args) != 2 {
			return Command{}, eris.New("admin: usage /lookup <site> <vid>")
		}
		return Command{Verb: VerbLookup, Site: args[0], Value: args[1]}, nil

	case VerbAlerts:
		n := DefaultAlertCount
		if len(args) > 1 {
			return Command{}, eris.New("admin: usage /alerts [n]")
		}
		if len(args) == 1 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				return Command{}, eris.Errorf("admin: alert count must be a positive number, got %q", args[0])
			}
			n = min(v, maxAlertCount)
		}
		return Command{Verb: VerbAlerts, Count: n}, nil

	case VerbHelp, "start":
		return Command{Verb: VerbHelp}, nil
	}
	return Command{}, ErrUnknownCommand
}

// FromArgs builds a block or unblock command from arguments that are
// already split, such as shell arguments: kind, value, then the reason
// words for block.
func FromArgs(verb Verb, args []string) (Command, error) {
	switch verb {
	case VerbBlock:
		if len(args) < 2 {
			return Command{}, eris.New("admin: usage /block vid|ip|phone <value> [reason...]")
		}
	case VerbUnblock:
		if len(args) != 2 {
			return Command{}, eris.New("admin: usage /unblock vid|ip|phone <value>")
		}
	default:
		return Command{}, eris.Errorf("admin: %s does not take a target", verb)
	}

	kind, ok := model.ParseBlockKind(args[0])
	if !ok {
		return Command{}, eris.Errorf("admin: unknown block kind %q", args[0])
	}
	value := strings.TrimSpace(args[1])
	if value == "" {
		return Command{}, eris.Errorf("admin: empty %s value", kind)
	}
	cmd := Command{Verb: verb, Kind: kind, Value: value}
	if verb == VerbBlock {
		cmd.Reason = strings.TrimSpace(strings.Join(args[2:], " "))
		if cmd.Reason == "" {
			cmd.Reason = "admin"
		}
	}
	return cmd, nil
}

// splitPhone joins the leading tokens that make up a phone number written
// with spaces, e.g. "+1 (555) 010-2030". The remaining tokens are returned
// as the rest. A reason that starts with a bare number is read as part of
// the phone.
func splitPhone(tokens []string) (string, []string) {
	n := 0
	for n < len(tokens) && isPhoneToken(tokens[n]) {
		n++
	}
	if n == 0 {
		return tokens[0], tokens[1:]
	}
	return strings.Join(tokens[:n], " "), tokens[n:]
}

func isPhoneToken(tok string) bool {
	digits := false
	for _, r := range tok {
		switch {
		case unicode.IsDigit(r):
			digits = true
		case strings.ContainsRune("+()-.", r):
		default:
			return false
		}
	}
	return digits || tok == "+" || tok == "(" || tok == ")"
}
