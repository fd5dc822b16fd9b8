package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowpbx/callcore/internal/audio"
	"github.com/flowpbx/callcore/internal/call"
	"github.com/flowpbx/callcore/internal/incall"
	"github.com/flowpbx/callcore/internal/recording"
	"github.com/flowpbx/callcore/internal/redial"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CallStateProvider exposes the live call set.
type CallStateProvider interface {
	GetActiveCallCount() int
	ComputePhoneState() call.PhoneState
	AudioState() audio.State
}

// RecordingProvider exposes the recorder.
type RecordingProvider interface {
	RecordingStats() (recording.Stats, bool)
	RecordingTotals() incall.RecordingTotals
}

// RedialStatusProvider exposes the auto-redial controller.
type RedialStatusProvider interface {
	Status() redial.Status
}

// RecordingDirectionCounter returns indexed recording counts grouped by
// direction.
type RecordingDirectionCounter interface {
	CountByDirection(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers callcore metrics at
// scrape time.
type Collector struct {
	calls     CallStateProvider
	recorder  RecordingProvider
	redial    RedialStatusProvider
	index     RecordingDirectionCounter
	startTime time.Time

	activeCallsDesc        *prometheus.Desc
	phoneStateDesc         *prometheus.Desc
	audioRouteDesc         *prometheus.Desc
	recordingActiveDesc    *prometheus.Desc
	recordingPausedDesc    *prometheus.Desc
	recordingFramesDesc    *prometheus.Desc
	recordingOverrunsDesc  *prometheus.Desc
	recordingsStartedDesc  *prometheus.Desc
	recordingsFinishedDesc *prometheus.Desc
	indexFailuresDesc      *prometheus.Desc
	recordingsIndexedDesc  *prometheus.Desc
	redialPendingDesc      *prometheus.Desc
	redialRetryDesc        *prometheus.Desc
	redialScheduledDesc    *prometheus.Desc
	uptimeDesc             *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(
	calls CallStateProvider,
	recorder RecordingProvider,
	redial RedialStatusProvider,
	index RecordingDirectionCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		calls:     calls,
		recorder:  recorder,
		redial:    redial,
		index:     index,
		startTime: startTime,

		activeCallsDesc: prometheus.NewDesc(
			"callcore_active_calls",
			"Number of calls currently held by the registry",
			nil, nil,
		),
		phoneStateDesc: prometheus.NewDesc(
			"callcore_phone_state",
			"Current phone state (1 for the active state label)",
			[]string{"state"}, nil,
		),
		audioRouteDesc: prometheus.NewDesc(
			"callcore_audio_route",
			"Current audio route reported by the platform (1 for the active route label)",
			[]string{"route"}, nil,
		),
		recordingActiveDesc: prometheus.NewDesc(
			"callcore_recording_active",
			"Whether a call recording is running",
			nil, nil,
		),
		recordingPausedDesc: prometheus.NewDesc(
			"callcore_recording_paused",
			"Whether the running recording is paused by the user or by hold",
			nil, nil,
		),
		recordingFramesDesc: prometheus.NewDesc(
			"callcore_recording_frames",
			"Frames captured by the running recording",
			[]string{"kind"}, nil,
		),
		recordingOverrunsDesc: prometheus.NewDesc(
			"callcore_recording_buffer_overruns",
			"Capture buffer overruns in the running recording",
			nil, nil,
		),
		recordingsStartedDesc: prometheus.NewDesc(
			"callcore_recordings_started_total",
			"Recordings started since process start",
			nil, nil,
		),
		recordingsFinishedDesc: prometheus.NewDesc(
			"callcore_recordings_finished_total",
			"Recordings finalized since process start",
			nil, nil,
		),
		indexFailuresDesc: prometheus.NewDesc(
			"callcore_recording_index_failures_total",
			"Finished recordings that could not be written to the index",
			nil, nil,
		),
		recordingsIndexedDesc: prometheus.NewDesc(
			"callcore_recordings_indexed",
			"Recordings held in the index",
			[]string{"direction"}, nil,
		),
		redialPendingDesc: prometheus.NewDesc(
			"callcore_redial_pending",
			"Whether an automatic redial is scheduled",
			nil, nil,
		),
		redialRetryDesc: prometheus.NewDesc(
			"callcore_redial_retry_count",
			"Automatic redials scheduled in the current dial session",
			nil, nil,
		),
		redialScheduledDesc: prometheus.NewDesc(
			"callcore_redials_scheduled_total",
			"Automatic redials scheduled since process start",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callcore_uptime_seconds",
			"Seconds since the callcore process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.phoneStateDesc
	ch <- c.audioRouteDesc
	ch <- c.recordingActiveDesc
	ch <- c.recordingPausedDesc
	ch <- c.recordingFramesDesc
	ch <- c.recordingOverrunsDesc
	ch <- c.recordingsStartedDesc
	ch <- c.recordingsFinishedDesc
	ch <- c.indexFailuresDesc
	ch <- c.recordingsIndexedDesc
	ch <- c.redialPendingDesc
	ch <- c.redialRetryDesc
	ch <- c.redialScheduledDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.calls.GetActiveCallCount()),
		)

		kind := c.calls.ComputePhoneState().Kind
		for _, k := range []call.PhoneStateKind{call.NoCall, call.SingleCall, call.TwoCalls} {
			ch <- prometheus.MustNewConstMetric(
				c.phoneStateDesc, prometheus.GaugeValue,
				boolValue(k == kind), k.String(),
			)
		}

		if route := c.calls.AudioState().Route; route != 0 {
			ch <- prometheus.MustNewConstMetric(
				c.audioRouteDesc, prometheus.GaugeValue, 1, route.String(),
			)
		}
	}

	if c.recorder != nil {
		stats, active := c.recorder.RecordingStats()
		ch <- prometheus.MustNewConstMetric(
			c.recordingActiveDesc, prometheus.GaugeValue, boolValue(active),
		)
		ch <- prometheus.MustNewConstMetric(
			c.recordingPausedDesc, prometheus.GaugeValue, boolValue(active && stats.Paused),
		)
		ch <- prometheus.MustNewConstMetric(
			c.recordingFramesDesc, prometheus.GaugeValue, float64(stats.FramesTotal), "total",
		)
		ch <- prometheus.MustNewConstMetric(
			c.recordingFramesDesc, prometheus.GaugeValue, float64(stats.FramesEncoded), "encoded",
		)
		ch <- prometheus.MustNewConstMetric(
			c.recordingOverrunsDesc, prometheus.GaugeValue, float64(stats.BufferOverruns),
		)

		totals := c.recorder.RecordingTotals()
		ch <- prometheus.MustNewConstMetric(
			c.recordingsStartedDesc, prometheus.CounterValue, float64(totals.Started),
		)
		ch <- prometheus.MustNewConstMetric(
			c.recordingsFinishedDesc, prometheus.CounterValue, float64(totals.Finished),
		)
		ch <- prometheus.MustNewConstMetric(
			c.indexFailuresDesc, prometheus.CounterValue, float64(totals.Failed),
		)
	}

	if c.index != nil {
		counts, err := c.index.CountByDirection(ctx)
		if err != nil {
			slog.Error("metrics: failed to count recordings by direction", "error", err)
		} else {
			for _, dir := range []string{"incoming", "outgoing"} {
				ch <- prometheus.MustNewConstMetric(
					c.recordingsIndexedDesc, prometheus.GaugeValue,
					float64(counts[dir]), dir,
				)
			}
		}
	}

	if c.redial != nil {
		st := c.redial.Status()
		ch <- prometheus.MustNewConstMetric(
			c.redialPendingDesc, prometheus.GaugeValue, boolValue(st.Pending),
		)
		ch <- prometheus.MustNewConstMetric(
			c.redialRetryDesc, prometheus.GaugeValue, float64(st.RetryCount),
		)
		ch <- prometheus.MustNewConstMetric(
			c.redialScheduledDesc, prometheus.CounterValue, float64(st.Scheduled),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// Handler registers c on a fresh registry, together with the Go runtime and
// process collectors, and returns the scrape handler.
func Handler(c *Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
