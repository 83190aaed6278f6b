// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"
)

// The directory speaks a line protocol. Each request is one line of
// space-separated tokens; each response is one line.
//
//	REGISTER <id> [<address>] <port> [<relay_url> <relay_username> <relay_secret>]
//	    -> OK | ALREADY_REGISTERED | ERROR:<reason>
//	LOOKUP <id>
//	    -> <address>:<port>[,<relay_url> <relay_username> <relay_secret>] | NOT_FOUND
//	DEREGISTER <id>
//	    -> OK | ERROR:<reason>
//	PING
//	    -> PONG
//
// A REGISTER without an address registers the address the connection
// came from.
const (
	VerbRegister   = "REGISTER"
	VerbLookup     = "LOOKUP"
	VerbDeregister = "DEREGISTER"
	VerbPing       = "PING"

	ResponseOK                = "OK"
	ResponseAlreadyRegistered = "ALREADY_REGISTERED"
	ResponseNotFound          = "NOT_FOUND"
	ResponsePong              = "PONG"
	ResponseErrorPrefix       = "ERROR:"
)

// MaxLineLength bounds one request or response line, terminator
// included.
const MaxLineLength = 4096

// Command is one parsed request line.
type Command struct {
	Verb    string
	ID      string
	Address string // empty on REGISTER means "use the connection's address"
	Port    int
	Relay   RelayInfo
}

// ProtocolError is a malformed request or an unparseable response.
// Reason is what the server sends after ERROR:.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "discovery protocol: " + e.Reason
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ParseCommand parses one request line without its terminator.
func ParseCommand(line string) (Command, error) {
	if !utf8.ValidString(line) {
		return Command{}, protocolErrorf("request is not valid UTF-8")
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, protocolErrorf("empty request")
	}
	command := Command{Verb: fields[0]}
	args := fields[1:]

	switch command.Verb {
	case VerbPing:
		if len(args) != 0 {
			return Command{}, protocolErrorf("PING takes no arguments")
		}
		return command, nil

	case VerbLookup, VerbDeregister:
		if len(args) != 1 {
			return Command{}, protocolErrorf("%s takes exactly one id", command.Verb)
		}
		if err := ValidateID(args[0]); err != nil {
			return Command{}, protocolErrorf("invalid id: %v", err)
		}
		command.ID = args[0]
		return command, nil

	case VerbRegister:
		return parseRegister(command, args)

	default:
		return Command{}, protocolErrorf("unknown command %q", truncate(command.Verb, 32))
	}
}

func parseRegister(command Command, args []string) (Command, error) {
	var portToken string
	var relayTokens []string
	switch len(args) {
	case 2: // id port
		portToken = args[1]
	case 3: // id address port
		command.Address, portToken = args[1], args[2]
	case 5: // id port url user secret
		portToken, relayTokens = args[1], args[2:]
	case 6: // id address port url user secret
		command.Address, portToken, relayTokens = args[1], args[2], args[3:]
	default:
		return Command{}, protocolErrorf("REGISTER expects <id> [<address>] <port> [<relay_url> <relay_username> <relay_secret>]")
	}
	command.ID = args[0]
	if err := ValidateID(command.ID); err != nil {
		return Command{}, protocolErrorf("invalid id: %v", err)
	}
	port, err := strconv.Atoi(portToken)
	if err != nil || port < 1 || port > 65535 {
		return Command{}, protocolErrorf("invalid port %q", truncate(portToken, 16))
	}
	command.Port = port
	if command.Address != "" {
		if err := validateAddress(command.Address); err != nil {
			return Command{}, protocolErrorf("invalid address: %v", err)
		}
	}
	if relayTokens != nil {
		command.Relay = RelayInfo{URL: relayTokens[0], Username: relayTokens[1], Secret: relayTokens[2]}
	}
	return command, nil
}

// String renders the command as a request line without terminator.
func (c Command) String() string {
	switch c.Verb {
	case VerbRegister:
		tokens := []string{VerbRegister, c.ID}
		if c.Address != "" {
			tokens = append(tokens, c.Address)
		}
		tokens = append(tokens, strconv.Itoa(c.Port))
		if !c.Relay.IsZero() {
			tokens = append(tokens, c.Relay.URL, c.Relay.Username, c.Relay.Secret)
		}
		return strings.Join(tokens, " ")
	case VerbPing:
		return VerbPing
	default:
		return c.Verb + " " + c.ID
	}
}

// FormatLookup renders a LOOKUP hit.
func FormatLookup(record PeerRecord) string {
	response := record.HostPort()
	if !record.Relay.IsZero() {
		response += "," + record.Relay.URL + " " + record.Relay.Username + " " + record.Relay.Secret
	}
	return response
}

// ParseLookup parses a LOOKUP hit for id. NOT_FOUND and ERROR lines
// are handled by the caller.
func ParseLookup(id, response string) (PeerRecord, error) {
	endpoint, relay, hasRelay := strings.Cut(response, ",")
	host, portToken, err := net.SplitHostPort(endpoint)
	if err != nil {
		return PeerRecord{}, protocolErrorf("malformed endpoint %q: %v", truncate(endpoint, 64), err)
	}
	port, err := strconv.Atoi(portToken)
	if err != nil || port < 1 || port > 65535 {
		return PeerRecord{}, protocolErrorf("malformed port %q", truncate(portToken, 16))
	}
	record := PeerRecord{ID: id, Address: host, Port: port}
	if hasRelay {
		fields := strings.Fields(relay)
		if len(fields) != 3 {
			return PeerRecord{}, protocolErrorf("relay info has %d fields, want 3", len(fields))
		}
		record.Relay = RelayInfo{URL: fields[0], Username: fields[1], Secret: fields[2]}
	}
	return record, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
