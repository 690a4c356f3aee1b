package monitor

import (
	"context"
	"time"

	"github.com/constripacity/SentryBar/internal/config"
	"github.com/constripacity/SentryBar/internal/toolexec"
)

// Sampler acquires raw textual samples from the external tools. The
// controller only ever sees text; acquisition failures surface as empty
// strings (the tool wrapper's contract), never as errors.
type Sampler interface {
	// Connections captures the connection-enumeration tool's output.
	Connections(ctx context.Context) string

	// Bandwidth captures the bandwidth sampler's output and the
	// measured wall-clock duration of the invocation.
	Bandwidth(ctx context.Context) (raw string, elapsed time.Duration)

	// ProcessRanking captures the process/CPU ranking tool's output.
	ProcessRanking(ctx context.Context) string
}

// ToolSampler is the production Sampler backed by the tool runner and
// the configured command templates.
type ToolSampler struct {
	runner *toolexec.Runner
	tools  config.ToolsConfig
}

// NewToolSampler creates a sampler running the configured commands.
func NewToolSampler(runner *toolexec.Runner, tools config.ToolsConfig) *ToolSampler {
	return &ToolSampler{runner: runner, tools: tools}
}

func (s *ToolSampler) Connections(ctx context.Context) string {
	return s.runner.Capture(ctx, s.tools.Timeout, s.tools.ConnectionsCommand)
}

func (s *ToolSampler) Bandwidth(ctx context.Context) (string, time.Duration) {
	return s.runner.CaptureTimed(ctx, s.tools.BandwidthTimeout, s.tools.BandwidthCommand)
}

func (s *ToolSampler) ProcessRanking(ctx context.Context) string {
	return s.runner.Capture(ctx, s.tools.Timeout, s.tools.ProcessesCommand)
}
