package parser

import (
	"strconv"
	"strings"

	"github.com/constripacity/SentryBar/internal/models"
)

// ProcessRankingParser parses the process/CPU ranking tool's columnar
// output ("pid pcpu comm"). Like the other parsers it tolerates
// malformed rows by dropping them.
type ProcessRankingParser struct{}

// NewProcessRankingParser creates a process-ranking parser.
func NewProcessRankingParser() *ProcessRankingParser {
	return &ProcessRankingParser{}
}

// Parse converts raw ranking output into CPU samples. The command name
// is everything after the second column, so names containing spaces
// survive intact.
func (p *ProcessRankingParser) Parse(raw string) []models.ProcessCPUSample {
	var samples []models.ProcessCPUSample

	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		pid, err := strconv.Atoi(fields[0])
		if err != nil || pid <= 0 {
			// Header row or garbage.
			continue
		}

		cpu, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || cpu < 0 {
			cpu = 0
		}

		name := strings.Join(fields[2:], " ")
		if strings.Contains(name, hexEscapeMarker) {
			name = UnescapeHex(name)
		}

		samples = append(samples, models.ProcessCPUSample{
			PID:        pid,
			CPUPercent: cpu,
			Name:       name,
		})
	}

	return samples
}
