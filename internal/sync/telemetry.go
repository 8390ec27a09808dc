package sync

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope        = "watchsync/sync"
	spanLoad         = "sync.load"
	spanSettingsLoad = "sync.settings.load"

	metricPushed      = "watchsync.sync.pushed"
	metricRemoteErrs  = "watchsync.sync.remote_errors"
	metricRollbacks   = "watchsync.sync.rollbacks"
	metricTruncations = "watchsync.sync.truncations"
	metricDropped     = "watchsync.sync.dropped"
	metricOverwritten = "watchsync.sync.overwritten"
)

// instruments are always non-nil (no-op when telemetry is disabled).
type instruments struct {
	tracer       trace.Tracer
	cntPushed    metric.Int64Counter
	cntRemoteErr metric.Int64Counter
	cntRollbacks metric.Int64Counter
	cntTruncated metric.Int64Counter
	cntDropped   metric.Int64Counter
	cntOverwrote metric.Int64Counter
}

func newInstruments(logger *slog.Logger) instruments {
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return instruments{
		tracer:       otel.Tracer(otelScope),
		cntPushed:    mustCounter(metricPushed, "Number of local-only items pushed to the remote store"),
		cntRemoteErr: mustCounter(metricRemoteErrs, "Number of failed remote operations"),
		cntRollbacks: mustCounter(metricRollbacks, "Number of optimistic mutations rolled back"),
		cntTruncated: mustCounter(metricTruncations, "Number of local snapshots truncated to fit the quota"),
		cntDropped:   mustCounter(metricDropped, "Number of stale local items dropped because they were deleted remotely"),
		cntOverwrote: mustCounter(metricOverwritten, "Number of local items whose content was replaced by a differing remote copy"),
	}
}
