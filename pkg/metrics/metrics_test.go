package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/persistence"
	"github.com/mash-protocol/mash-sync/pkg/subscription"
	"github.com/mash-protocol/mash-sync/pkg/transfer"
	"github.com/mash-protocol/mash-sync/pkg/upload"
)

func TestObserveSubscription(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSubscription(subscription.Event{Kind: subscription.EventEstablished, Side: subscription.SideHandler})
	m.ObserveSubscription(subscription.Event{Kind: subscription.EventEstablished, Side: subscription.SideClient})
	m.ObserveSubscription(subscription.Event{Kind: subscription.EventTerminated, Side: subscription.SideClient})
	m.ObserveSubscription(subscription.Event{Kind: subscription.EventResubscribeScheduled, Delay: 2 * time.Second})
	m.ObserveSubscription(subscription.Event{Kind: subscription.EventNotifySent, Elements: 3, Bytes: 120})
	m.ObserveSubscription(subscription.Event{Kind: subscription.EventNotifySent, Elements: 1, Bytes: 40})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.established.WithLabelValues("handler")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.established.WithLabelValues("client")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.terminated.WithLabelValues("client")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resubscribes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifies))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.elements))
	assert.Equal(t, 160.0, testutil.ToFloat64(m.notifyBytes))
}

func TestObserveUpload(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveUpload(upload.Summary{Blocks: 2, Events: 10, Bytes: 300, RawBytes: 500, Gaps: 4}, nil)
	m.ObserveUpload(upload.Summary{}, upload.ErrAborted)
	m.ObserveUpload(upload.Summary{}, errors.New("boom"))
	m.ObserveArchive(transfer.Archive{Events: 10})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("aborted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.uploaded))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.uploadBytes.WithLabelValues("wire")))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.uploadBytes.WithLabelValues("raw")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.gaps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.archives))
}

func TestEventLogCollector(t *testing.T) {
	l, err := eventlog.New(eventlog.Config{Store: persistence.NewMemoryStore()})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.LogEvent(eventlog.Schema{ProfileID: 1, StructureType: 1, Importance: eventlog.Production, SchemaVersion: 1}, i)
		require.NoError(t, err)
	}

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewEventLogCollector(l)))

	expected := `
# HELP mash_sync_eventlog_logged_total Events stored.
# TYPE mash_sync_eventlog_logged_total counter
mash_sync_eventlog_logged_total{importance="critical"} 0
mash_sync_eventlog_logged_total{importance="debug"} 0
mash_sync_eventlog_logged_total{importance="info"} 0
mash_sync_eventlog_logged_total{importance="production"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "mash_sync_eventlog_logged_total"))
	assert.Equal(t, 32, testutil.CollectAndCount(NewEventLogCollector(l)))
}
