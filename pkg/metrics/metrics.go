// Package metrics exposes the sync stack as Prometheus metrics.
//
// Subscription, upload and archive counters are fed from the callbacks of
// the components on the protocol thread. Event log levels are read at
// scrape time.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/subscription"
	"github.com/mash-protocol/mash-sync/pkg/transfer"
	"github.com/mash-protocol/mash-sync/pkg/upload"
)

// Namespace prefixes every metric.
const Namespace = "mash_sync"

// Metrics holds the collectors of one process.
type Metrics struct {
	established  *prometheus.CounterVec
	terminated   *prometheus.CounterVec
	resubscribes prometheus.Counter
	backoff      prometheus.Histogram
	notifies     prometheus.Counter
	elements     prometheus.Counter
	notifyBytes  prometheus.Counter

	uploads     *prometheus.CounterVec
	blocks      prometheus.Counter
	uploaded    prometheus.Counter
	uploadBytes *prometheus.CounterVec
	gaps        prometheus.Counter

	archives       prometheus.Counter
	archivedEvents prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		established: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "subscription",
			Name:      "established_total",
			Help:      "Subscriptions that reached the established state.",
		}, []string{"side"}),
		terminated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "subscription",
			Name:      "terminated_total",
			Help:      "Subscriptions that ended without a pending resubscribe.",
		}, []string{"side"}),
		resubscribes: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "subscription",
			Name:      "resubscribes_total",
			Help:      "Resubscribe attempts scheduled by clients.",
		}),
		backoff: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "subscription",
			Name:      "resubscribe_delay_seconds",
			Help:      "Backoff delay chosen before a resubscribe.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		notifies: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notify requests sent by handlers.",
		}),
		elements: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "notify",
			Name:      "elements_total",
			Help:      "Data elements carried by notify requests.",
		}),
		notifyBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "notify",
			Name:      "bytes_total",
			Help:      "Encoded size of notify requests.",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upload",
			Name:      "sessions_total",
			Help:      "Finished upload sessions by result.",
		}, []string{"result"}),
		blocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upload",
			Name:      "blocks_total",
			Help:      "Acknowledged upload blocks.",
		}),
		uploaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upload",
			Name:      "events_total",
			Help:      "Events acknowledged by collectors.",
		}),
		uploadBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Acknowledged block bytes, on the wire and before compression.",
		}, []string{"kind"}),
		gaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upload",
			Name:      "gap_events_total",
			Help:      "Events evicted before they could be uploaded.",
		}),
		archives: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "collector",
			Name:      "archives_total",
			Help:      "Completed upload archives.",
		}),
		archivedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "collector",
			Name:      "events_total",
			Help:      "Events stored in completed archives.",
		}),
	}
}

// ObserveSubscription records an engine event. Pass it to Engine.OnEvent.
func (m *Metrics) ObserveSubscription(ev subscription.Event) {
	switch ev.Kind {
	case subscription.EventEstablished:
		m.established.WithLabelValues(ev.Side.String()).Inc()
	case subscription.EventTerminated:
		m.terminated.WithLabelValues(ev.Side.String()).Inc()
	case subscription.EventResubscribeScheduled:
		m.resubscribes.Inc()
		m.backoff.Observe(ev.Delay.Seconds())
	case subscription.EventNotifySent:
		m.notifies.Inc()
		m.elements.Add(float64(ev.Elements))
		m.notifyBytes.Add(float64(ev.Bytes))
	}
}

// ObserveUpload records a finished upload session. Pass it to
// Uploader.OnComplete.
func (m *Metrics) ObserveUpload(s upload.Summary, err error) {
	m.uploads.WithLabelValues(uploadResult(err)).Inc()
	m.blocks.Add(float64(s.Blocks))
	m.uploaded.Add(float64(s.Events))
	m.uploadBytes.WithLabelValues("wire").Add(float64(s.Bytes))
	m.uploadBytes.WithLabelValues("raw").Add(float64(s.RawBytes))
	m.gaps.Add(float64(s.Gaps))
}

// ObserveArchive records a completed archive. Pass it to
// Receiver.OnArchive.
func (m *Metrics) ObserveArchive(a transfer.Archive) {
	m.archives.Inc()
	m.archivedEvents.Add(float64(a.Events))
}

func uploadResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, upload.ErrAborted), errors.Is(err, upload.ErrShutdown):
		return "aborted"
	case errors.Is(err, upload.ErrTimeout):
		return "timeout"
	case errors.Is(err, upload.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}

// EventLogCollector reads event log statistics at scrape time.
type EventLogCollector struct {
	log *eventlog.Log

	logged   *prometheus.Desc
	evicted  *prometheus.Desc
	filtered *prometheus.Desc
	tooLarge *prometheus.Desc
	entries  *prometheus.Desc
	bytes    *prometheus.Desc
	capacity *prometheus.Desc
	lastID   *prometheus.Desc
}

// NewEventLogCollector returns a collector for l. Register it with a
// prometheus.Registerer.
func NewEventLogCollector(l *eventlog.Log) *EventLogCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "eventlog", name), help, []string{"importance"}, nil)
	}
	return &EventLogCollector{
		log:      l,
		logged:   desc("logged_total", "Events stored."),
		evicted:  desc("evicted_total", "Events overwritten by newer ones."),
		filtered: desc("filtered_total", "Events dropped by the importance filter."),
		tooLarge: desc("too_large_total", "Events larger than their ring buffer."),
		entries:  desc("entries", "Events currently retained."),
		bytes:    desc("bytes", "Bytes currently retained."),
		capacity: desc("capacity_bytes", "Ring buffer size."),
		lastID:   desc("last_id", "Last assigned event id."),
	}
}

// Describe implements prometheus.Collector.
func (c *EventLogCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.logged, c.evicted, c.filtered, c.tooLarge, c.entries, c.bytes, c.capacity, c.lastID} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *EventLogCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.log.Stats() {
		imp := s.Importance.String()
		ch <- prometheus.MustNewConstMetric(c.logged, prometheus.CounterValue, float64(s.Logged), imp)
		ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(s.Evicted), imp)
		ch <- prometheus.MustNewConstMetric(c.filtered, prometheus.CounterValue, float64(s.Filtered), imp)
		ch <- prometheus.MustNewConstMetric(c.tooLarge, prometheus.CounterValue, float64(s.TooLarge), imp)
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Entries), imp)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.Bytes), imp)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity), imp)
		ch <- prometheus.MustNewConstMetric(c.lastID, prometheus.GaugeValue, float64(s.LastID), imp)
	}
}
