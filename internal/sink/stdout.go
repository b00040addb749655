// Package sink implements the two output sinks described in SPEC_FULL.md
// §4.7: a JSON-stdout sink and a reconnecting mTLS gRPC sink. Both consume
// an independent subscription to the fan-out bus and react to the agent's
// running flag, in the idiom of the original Rust implementation's
// output::stdout and output::grpc clients.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stackrox/fact/internal/bus"
	"github.com/stackrox/fact/internal/event"
	"github.com/stackrox/fact/internal/metrics"
)

// sinkNameStdout labels every metric emitted by StdoutSink.
const sinkNameStdout = "stdout"

// StdoutSink serializes every event it receives to a single-line JSON
// object on standard output. It is active when the gRPC sink is inactive at
// startup or json is enabled (the caller decides activation; StdoutSink
// itself just runs until ctx is cancelled).
type StdoutSink struct {
	logger  *slog.Logger
	metrics *metrics.Registry
	print   func(string)
}

// NewStdoutSink creates a StdoutSink. metricsReg may be nil in tests.
func NewStdoutSink(logger *slog.Logger, metricsReg *metrics.Registry) *StdoutSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdoutSink{logger: logger, metrics: metricsReg, print: defaultPrint}
}

func defaultPrint(line string) {
	fmt.Println(line)
}

// Run consumes sub until ctx is cancelled or sub's channel is closed. Each
// event is marshalled to JSON and printed on its own line; a marshal error
// drops that one event (dropped 1) and continues. Bus lag observed between
// iterations is reported as dropped N.
func (s *StdoutSink) Run(ctx context.Context, sub *bus.Subscription[*event.Event]) {
	var lastDropped uint64

	reportLag := func() {
		dropped := sub.Dropped()
		if n := dropped - lastDropped; n > 0 {
			s.logger.Warn("stdout sink lagged, dropped events", slog.Uint64("n", uint64(n)))
			if s.metrics != nil {
				s.metrics.SinkDropped(sinkNameStdout, n)
			}
		}
		lastDropped = dropped
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			reportLag()

			b, err := json.Marshal(evt)
			if err != nil {
				s.logger.Warn("stdout sink: failed to marshal event", slog.Any("error", err))
				if s.metrics != nil {
					s.metrics.SinkDropped(sinkNameStdout, 1)
				}
				continue
			}
			s.print(string(b))
			if s.metrics != nil {
				s.metrics.SinkAdded(sinkNameStdout, 1)
			}
		}
	}
}
