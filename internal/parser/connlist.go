// Package parser converts raw external-tool output into structured
// records. All column-position heuristics for the tools' textual
// formats live here, behind stable record interfaces, so format drift
// stays a localized change.
//
// Parsers never fail: a line or row that cannot be minimally parsed is
// dropped and counted, and empty input yields an empty result.
package parser

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/constripacity/SentryBar/internal/classify"
	"github.com/constripacity/SentryBar/internal/logging"
	"github.com/constripacity/SentryBar/internal/models"
)

const (
	// minConnectionFields is the minimum whitespace-delimited column
	// count for a socket line. Shorter lines are silently dropped.
	minConnectionFields = 9

	// protocolColumn is the column carrying the TCP/UDP marker.
	protocolColumn = 7

	// addressFallbackColumn is the address:port column when no
	// parenthesized state suffix is present. With a state suffix the
	// address is instead the second-to-last token; real tool output
	// shows both shapes and the ambiguity must be reproduced exactly.
	addressFallbackColumn = 8
)

// ConnectionListParser parses the connection-enumeration tool's
// multi-line output into Connection records.
type ConnectionListParser struct {
	log     *logging.Logger
	dropped atomic.Uint64
}

// NewConnectionListParser creates a connection-list parser.
func NewConnectionListParser() *ConnectionListParser {
	return &ConnectionListParser{log: logging.ParserLogger()}
}

// DroppedLines returns the cumulative count of lines dropped as
// unparseable since the parser was created.
func (p *ConnectionListParser) DroppedLines() uint64 {
	return p.dropped.Load()
}

// Parse converts raw tool output into Connection records. Each record
// is heuristic-evaluated and kill-eligibility-evaluated once, at
// observation time. Malformed lines are dropped, never an error; the
// result is never longer than the input line count.
func (p *ConnectionListParser) Parse(raw string) []*models.Connection {
	if raw == "" {
		return nil
	}

	var conns []*models.Connection

	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		conn, ok := p.parseLine(line)
		if !ok {
			p.dropped.Add(1)
			continue
		}
		conns = append(conns, conn)
	}

	return conns
}

// parseLine parses a single socket line.
func (p *ConnectionListParser) parseLine(line string) (*models.Connection, bool) {
	fields := strings.Fields(line)
	if len(fields) < minConnectionFields {
		return nil, false
	}

	protocol, ok := detectProtocol(fields[protocolColumn])
	if !ok {
		// Header lines and non-socket rows land here.
		return nil, false
	}

	// A parenthesized last token is the connection state; the address
	// field then shifts to second-to-last.
	state := "UNKNOWN"
	addrField := fields[addressFallbackColumn]
	last := fields[len(fields)-1]
	if len(last) >= 2 && last[0] == '(' && last[len(last)-1] == ')' {
		state = last[1 : len(last)-1]
		addrField = fields[len(fields)-2]
	}

	address, port := splitAddressPort(addrField)

	name := fields[0]
	if strings.Contains(name, hexEscapeMarker) {
		name = UnescapeHex(name)
	}

	pid, err := strconv.Atoi(fields[1])
	if err != nil || pid < 0 {
		pid = 0
	}

	return &models.Connection{
		ProcessName:    name,
		PID:            pid,
		RemoteAddress:  address,
		RemotePort:     port,
		Protocol:       protocol,
		State:          state,
		Suspicious:     classify.IsSuspicious(name, port, address),
		Classification: models.ClassificationNone,
		Killable:       classify.Killable(name),
	}, true
}

// detectProtocol extracts TCP/UDP from the protocol column by
// case-insensitive substring match.
func detectProtocol(field string) (string, bool) {
	upper := strings.ToUpper(field)
	switch {
	case strings.Contains(upper, "TCP"):
		return "TCP", true
	case strings.Contains(upper, "UDP"):
		return "UDP", true
	default:
		return "", false
	}
}

// splitAddressPort splits an address:port field into its halves.
// When the field is a local->remote pair, the remote half is taken.
// The split uses the last colon so IPv6 literals survive, and a
// bracketed IPv6 address has its brackets stripped. A field without
// any colon yields the "?" port placeholder.
func splitAddressPort(field string) (address, port string) {
	if idx := strings.Index(field, "->"); idx >= 0 {
		field = field[idx+2:]
	}

	colon := strings.LastIndex(field, ":")
	if colon < 0 {
		return stripBrackets(field), "?"
	}

	return stripBrackets(field[:colon]), field[colon+1:]
}

// stripBrackets removes one enclosing [ ] pair from IPv6 literals.
func stripBrackets(addr string) string {
	if len(addr) >= 2 && addr[0] == '[' && addr[len(addr)-1] == ']' {
		return addr[1 : len(addr)-1]
	}
	return addr
}
