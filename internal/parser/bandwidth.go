package parser

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/constripacity/SentryBar/internal/logging"
	"github.com/constripacity/SentryBar/internal/models"
)

// BandwidthParser parses the bandwidth sampling tool's CSV-style output
// into per-process byte counts.
//
// The tool emits two or more blank-line-separated sample blocks. The
// first block reports cumulative-since-boot counters and is discarded
// as dirty; the second block is the clean per-interval delta. This
// two-block convention is tool behavior, not an inherent property of
// the format, so verify it against the sampling tool actually deployed.
type BandwidthParser struct {
	log         *logging.Logger
	droppedRows atomic.Uint64
}

// NewBandwidthParser creates a bandwidth-sample parser.
func NewBandwidthParser() *BandwidthParser {
	return &BandwidthParser{log: logging.ParserLogger()}
}

// DroppedRows returns the cumulative count of rows dropped as
// unparseable since the parser was created.
func (p *BandwidthParser) DroppedRows() uint64 {
	return p.droppedRows.Load()
}

// Parse converts raw sampler output into a BandwidthSnapshot. The
// elapsed argument is the measured wall-clock time the sampling tool
// ran; downstream rate math divides by it, so it must be the real
// duration rather than the nominal interval.
//
// Within the selected block, rows for the same process name are summed
// (one process may hold several sockets) and rows with zero traffic in
// both directions are skipped as noise.
func (p *BandwidthParser) Parse(raw string, capturedAt time.Time, elapsed time.Duration) *models.BandwidthSnapshot {
	snapshot := &models.BandwidthSnapshot{
		CapturedAt: capturedAt,
		Duration:   elapsed,
	}

	block := selectSampleBlock(raw)
	if len(block) == 0 {
		return snapshot
	}

	// Aggregate by process name, preserving first-seen order.
	index := make(map[string]int)

	for _, row := range block {
		if isHeaderRow(row) {
			continue
		}

		rec, ok := parseBandwidthRow(row)
		if !ok {
			p.droppedRows.Add(1)
			continue
		}
		if rec.BytesIn == 0 && rec.BytesOut == 0 {
			continue
		}

		if i, seen := index[rec.ProcessName]; seen {
			snapshot.Processes[i].BytesIn += rec.BytesIn
			snapshot.Processes[i].BytesOut += rec.BytesOut
			continue
		}
		index[rec.ProcessName] = len(snapshot.Processes)
		snapshot.Processes = append(snapshot.Processes, rec)
	}

	return snapshot
}

// selectSampleBlock splits raw output on blank lines and picks the
// second block when at least two exist, falling back to the only block
// otherwise.
func selectSampleBlock(raw string) []string {
	var blocks [][]string
	var current []string

	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}

	switch {
	case len(blocks) >= 2:
		return blocks[1]
	case len(blocks) == 1:
		return blocks[0]
	default:
		return nil
	}
}

// isHeaderRow detects column-header rows heuristically: their first
// field carries the sampler's "time" column label.
func isHeaderRow(row string) bool {
	first := row
	if idx := strings.Index(row, ","); idx >= 0 {
		first = row[:idx]
	}
	return strings.Contains(strings.ToLower(first), "time")
}

// parseBandwidthRow parses one "processName.pid,bytesIn,bytesOut" row.
// Byte counts parse defensively: a non-numeric field counts as zero.
func parseBandwidthRow(row string) (models.ProcessBandwidth, bool) {
	fields := strings.Split(row, ",")
	if len(fields) < 3 {
		return models.ProcessBandwidth{}, false
	}

	name, pid := splitProcessField(strings.TrimSpace(fields[0]))
	if name == "" {
		return models.ProcessBandwidth{}, false
	}

	return models.ProcessBandwidth{
		ProcessName: name,
		PID:         pid,
		BytesIn:     parseByteCount(fields[1]),
		BytesOut:    parseByteCount(fields[2]),
	}, true
}

// splitProcessField splits "name.pid" on the last dot. Process names
// may themselves contain dots (reverse-DNS-style identifiers), so only
// an integer suffix is treated as a pid; otherwise the whole field is
// the name and the pid is unresolved.
func splitProcessField(field string) (name string, pid int) {
	dot := strings.LastIndex(field, ".")
	if dot < 0 {
		return field, 0
	}

	suffix := field[dot+1:]
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return field, 0
	}

	return field[:dot], n
}

// parseByteCount parses a byte counter, treating garbage as zero.
func parseByteCount(field string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
