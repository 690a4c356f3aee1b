package parser

import (
	"strings"
	"testing"

	"github.com/constripacity/SentryBar/internal/models"
)

const realisticDump = `COMMAND     PID  USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
rapportd    612 alice    8u  IPv6 0x9a8b12           0t0  TCP [2001:db8::1]:49200->[2001:db8::2]:443 (ESTABLISHED)
534         987   bob   12u  IPv4 0xdead01           0t0  UDP *:5353
Brave\x20Browser 1337 alice 88u IPv4 0xbeef02        0t0  TCP 192.168.1.10:55123->151.101.1.69:443 (ESTABLISHED)
`

func TestParseRealisticDump(t *testing.T) {
	p := NewConnectionListParser()
	conns := p.Parse(realisticDump)

	if len(conns) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(conns))
	}

	rapportd := conns[0]
	if rapportd.ProcessName != "rapportd" {
		t.Errorf("expected process 'rapportd', got %q", rapportd.ProcessName)
	}
	if rapportd.PID != 612 {
		t.Errorf("expected pid 612, got %d", rapportd.PID)
	}
	if rapportd.RemoteAddress != "2001:db8::2" {
		t.Errorf("expected IPv6 remote '2001:db8::2', got %q", rapportd.RemoteAddress)
	}
	if rapportd.RemotePort != "443" {
		t.Errorf("expected port '443', got %q", rapportd.RemotePort)
	}
	if rapportd.Protocol != "TCP" {
		t.Errorf("expected TCP, got %q", rapportd.Protocol)
	}
	if rapportd.State != "ESTABLISHED" {
		t.Errorf("expected state ESTABLISHED, got %q", rapportd.State)
	}

	numeric := conns[1]
	if numeric.ProcessName != "534" {
		t.Errorf("expected numeric process name '534', got %q", numeric.ProcessName)
	}
	if numeric.PID != 987 {
		t.Errorf("expected pid 987, got %d", numeric.PID)
	}
	if numeric.RemoteAddress != "*" || numeric.RemotePort != "5353" {
		t.Errorf("expected wildcard address and port 5353, got %q:%q", numeric.RemoteAddress, numeric.RemotePort)
	}
	if numeric.Protocol != "UDP" {
		t.Errorf("expected UDP, got %q", numeric.Protocol)
	}
	if numeric.State != "UNKNOWN" {
		t.Errorf("expected state UNKNOWN without parenthesized suffix, got %q", numeric.State)
	}

	brave := conns[2]
	if brave.ProcessName != "Brave Browser" {
		t.Errorf("expected hex-unescaped 'Brave Browser', got %q", brave.ProcessName)
	}
	if brave.RemoteAddress != "151.101.1.69" || brave.RemotePort != "443" {
		t.Errorf("expected remote half of arrow pair, got %q:%q", brave.RemoteAddress, brave.RemotePort)
	}
	if brave.Suspicious {
		t.Error("known browser on port 443 must not be suspicious")
	}
}

func TestParseNeverExceedsLineCount(t *testing.T) {
	inputs := []string{
		"",
		"garbage",
		realisticDump,
		"a b c\nd e f\n\n\n",
		strings.Repeat("short line\n", 100),
	}

	p := NewConnectionListParser()
	for _, input := range inputs {
		lines := strings.Count(input, "\n") + 1
		conns := p.Parse(input)
		if len(conns) > lines {
			t.Errorf("got %d connections from %d lines", len(conns), lines)
		}
	}
}

func TestParseDropsMalformedLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"blank lines only", "\n\n\n"},
		{"too few columns", "proc 123 user 4u IPv4 0x1 0t0 TCP"},
		{"header row", "COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME"},
		{"no protocol marker", "proc 123 user 4u IPv4 0x1 0t0 ICMP 1.2.3.4:80 (ESTABLISHED)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewConnectionListParser()
			if conns := p.Parse(tt.input); len(conns) != 0 {
				t.Errorf("expected 0 connections, got %d", len(conns))
			}
		})
	}
}

func TestParseDroppedLineCounter(t *testing.T) {
	p := NewConnectionListParser()
	p.Parse("too short\nway too short\n")
	if got := p.DroppedLines(); got != 2 {
		t.Errorf("expected 2 dropped lines, got %d", got)
	}
}

func TestParseSuspiciousEvaluatedAtObservation(t *testing.T) {
	line := "unknownproc 777 alice 4u IPv4 0x1 0t0 TCP 10.0.0.1:50000->93.184.216.34:4444 (SYN_SENT)\n"
	p := NewConnectionListParser()
	conns := p.Parse(line)
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(conns))
	}
	if !conns[0].Suspicious {
		t.Error("port 4444 must be flagged suspicious")
	}
	if conns[0].Classification != models.ClassificationNone {
		t.Errorf("parser must not classify, got %q", conns[0].Classification)
	}
	if !conns[0].Killable {
		t.Error("non-system process must be kill-eligible")
	}
}

func TestSplitAddressPort(t *testing.T) {
	tests := []struct {
		field   string
		address string
		port    string
	}{
		{"[2001:db8::1]:443", "2001:db8::1", "443"},
		{"1.2.3.4:443", "1.2.3.4", "443"},
		{"*:*", "*", "*"},
		{"10.0.0.1:52000->[2001:db8::9]:993", "2001:db8::9", "993"},
		{"noport", "noport", "?"},
		{"*", "*", "?"},
	}

	for _, tt := range tests {
		addr, port := splitAddressPort(tt.field)
		if addr != tt.address || port != tt.port {
			t.Errorf("splitAddressPort(%q) = %q,%q; want %q,%q",
				tt.field, addr, port, tt.address, tt.port)
		}
	}
}

func TestDetectProtocol(t *testing.T) {
	tests := []struct {
		field string
		proto string
		ok    bool
	}{
		{"TCP", "TCP", true},
		{"tcp", "TCP", true},
		{"UDP", "UDP", true},
		{"NODE", "", false},
		{"ICMP", "", false},
	}

	for _, tt := range tests {
		proto, ok := detectProtocol(tt.field)
		if proto != tt.proto || ok != tt.ok {
			t.Errorf("detectProtocol(%q) = %q,%v; want %q,%v",
				tt.field, proto, ok, tt.proto, tt.ok)
		}
	}
}
