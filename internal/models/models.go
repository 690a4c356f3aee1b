// Package models defines the core data structures for SentryBar.
// Records are produced fresh each sampling cycle and are never mutated
// across cycles; collaborators receive copies or immutable snapshots.
package models

import (
	"time"
)

// Classification is the user-assigned verdict for a connection.
// It is an explicit three-state enum so the rule-over-heuristic
// precedence is a visible switch, not a nil check.
type Classification string

const (
	ClassificationNone    Classification = "unclassified"
	ClassificationAllowed Classification = "allowed"
	ClassificationBlocked Classification = "blocked"
)

// Connection represents one observed network socket.
type Connection struct {
	ProcessName    string         `json:"process_name"`
	PID            int            `json:"pid"` // 0 means unknown
	RemoteAddress  string         `json:"remote_address"`
	RemotePort     string         `json:"remote_port"` // numeric, "*", or "?" when unparseable
	Protocol       string         `json:"protocol"`    // "TCP" or "UDP"
	State          string         `json:"state"`       // e.g. "ESTABLISHED", "UNKNOWN" if absent
	Suspicious     bool           `json:"suspicious"`  // heuristic flag, computed once per observation
	Classification Classification `json:"classification"`
	BytesIn        int64          `json:"bytes_in"`  // per-interval, 0 when no bandwidth record matched
	BytesOut       int64          `json:"bytes_out"` // per-interval
	Killable       bool           `json:"killable"`
}

// EffectivelySuspicious returns the heuristic verdict as overridden by
// the user classification: blocked forces true, allowed forces false.
func (c *Connection) EffectivelySuspicious() bool {
	switch c.Classification {
	case ClassificationBlocked:
		return true
	case ClassificationAllowed:
		return false
	default:
		return c.Suspicious
	}
}

// ProcessBandwidth is the bandwidth attributed to one process over one
// sampling window. Multiple sockets of the same process are summed.
type ProcessBandwidth struct {
	ProcessName string `json:"process_name"`
	PID         int    `json:"pid"` // 0 if unresolved
	BytesIn     int64  `json:"bytes_in"`
	BytesOut    int64  `json:"bytes_out"`
}

// TotalBytes returns the combined in+out byte count for the window.
func (pb *ProcessBandwidth) TotalBytes() int64 {
	return pb.BytesIn + pb.BytesOut
}

// BandwidthSnapshot is one completed sampling window.
type BandwidthSnapshot struct {
	CapturedAt time.Time `json:"captured_at"`

	// Duration is the measured wall-clock time the sampling tool ran,
	// not an assumed constant. Rate math divides by this.
	Duration time.Duration `json:"duration"`

	Processes []ProcessBandwidth `json:"processes"`
}

// Rate converts a byte count from this window into bytes per second.
// A non-positive duration yields 0, never a division by zero.
func (s *BandwidthSnapshot) Rate(bytes int64) float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) / secs
}

// TotalBytes returns the combined traffic of all processes in the window.
func (s *BandwidthSnapshot) TotalBytes() (in, out int64) {
	for i := range s.Processes {
		in += s.Processes[i].BytesIn
		out += s.Processes[i].BytesOut
	}
	return in, out
}

// RuleType is the verdict a rule assigns to matching connections.
type RuleType string

const (
	RuleAllowed RuleType = "allowed"
	RuleBlocked RuleType = "blocked"
)

// RuleField selects which connection attribute a rule matches against.
type RuleField string

const (
	FieldProcessName   RuleField = "processName"
	FieldRemoteAddress RuleField = "remoteAddress"
	FieldRemotePort    RuleField = "remotePort"
)

// ConnectionRule is a persistent user policy entry. Rules are evaluated
// in insertion order; the first match wins.
type ConnectionRule struct {
	ID        string    `json:"id"`
	Type      RuleType  `json:"type"`
	Field     RuleField `json:"field"`
	Value     string    `json:"value"` // exact match, no normalization
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the rule's field/value matches the connection.
func (r *ConnectionRule) Matches(conn *Connection) bool {
	switch r.Field {
	case FieldProcessName:
		return conn.ProcessName == r.Value
	case FieldRemoteAddress:
		return conn.RemoteAddress == r.Value
	case FieldRemotePort:
		return conn.RemotePort == r.Value
	default:
		return false
	}
}

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertBlockedConnection    AlertType = "blocked_connection"
	AlertSuspiciousConnection AlertType = "suspicious_connection"
	AlertHighBandwidth        AlertType = "high_bandwidth"
)

// Alert is a de-duplicated notification published to collaborators.
type Alert struct {
	ID            string    `json:"id"`
	Type          AlertType `json:"type"`
	ProcessName   string    `json:"process_name"`
	PID           int       `json:"pid,omitempty"`
	RemoteAddress string    `json:"remote_address,omitempty"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// ProcessTotal is the cumulative traffic of one process name for the
// monitoring session.
type ProcessTotal struct {
	ProcessName string `json:"process_name"`
	BytesIn     int64  `json:"bytes_in"`
	BytesOut    int64  `json:"bytes_out"`
}

// TotalBytes returns the combined session traffic for the process.
func (pt *ProcessTotal) TotalBytes() int64 {
	return pt.BytesIn + pt.BytesOut
}

// SessionTotals are cumulative counters since monitor start. They reset
// only on process restart.
type SessionTotals struct {
	BytesIn    int64          `json:"bytes_in"`
	BytesOut   int64          `json:"bytes_out"`
	PerProcess []ProcessTotal `json:"per_process"`
}

// ProcessCPUSample is one row of the process/CPU ranking capture.
type ProcessCPUSample struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	Name       string  `json:"name"`
}
