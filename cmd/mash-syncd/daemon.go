package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mash-protocol/mash-sync/pkg/catalog"
	"github.com/mash-protocol/mash-sync/pkg/discovery"
	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/loop"
	"github.com/mash-protocol/mash-sync/pkg/metrics"
	"github.com/mash-protocol/mash-sync/pkg/model"
	"github.com/mash-protocol/mash-sync/pkg/persistence"
	"github.com/mash-protocol/mash-sync/pkg/schema"
	"github.com/mash-protocol/mash-sync/pkg/subscription"
	"github.com/mash-protocol/mash-sync/pkg/transfer"
	"github.com/mash-protocol/mash-sync/pkg/transport"
	"github.com/mash-protocol/mash-sync/pkg/upload"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Daemon errors.
var (
	ErrNoCollector  = errors.New("no collector configured or discovered")
	ErrUploadActive = errors.New("upload already in progress")
	errPeerLost     = errors.New("connection lost")
)

const (
	loopQueueSize   = 1024
	catalogCapacity = 64
	traceMaxBytes   = 64 << 20
)

// remote is one configured publisher the daemon mirrors. All fields are
// owned by the loop.
type remote struct {
	config  RemoteSubscription
	mirrors map[uint32]*model.Object

	peer    subscription.PeerID
	client  *subscription.Client
	dialing bool
	backoff *subscription.Backoff
	timer   *loop.Timer
}

// Daemon runs one sync endpoint: it publishes the local objects, mirrors
// remote publishers, records events and uploads them to a collector. With
// the collector role enabled it also accepts uploads from other devices.
type Daemon struct {
	cfg       Config
	logger    *slog.Logger
	trace     log.Logger
	traceFile *log.FileLogger

	loop       *loop.Loop
	catalog    catalog.Catalog
	engine     *subscription.Engine
	events     *eventlog.Log
	receiver   *transfer.Receiver
	dispatcher *transfer.Dispatcher
	server     transport.PeerServer

	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	httpServer  *http.Server
	metricsAddr net.Addr

	advertiser *discovery.Advertiser
	browser    *discovery.Browser

	deviceInfo        *model.Object
	measurement       *model.Object
	measurementHandle catalog.Handle

	remotes []*remote

	uploader      *upload.Uploader
	uploadChannel *transfer.Channel
	uploadPeer    subscription.PeerID
	uploading     bool
	uploadTimer   *loop.Timer
	lastUpload    *uploadResult

	stopping bool

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type uploadResult struct {
	Summary upload.Summary
	Err     error
	At      time.Time
}

// NewDaemon builds every component. Nothing runs until Start.
func NewDaemon(cfg Config, logger *slog.Logger) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	d := &Daemon{cfg: cfg, logger: logger}
	if err := d.setupTrace(); err != nil {
		return nil, err
	}

	d.loop = loop.New(loop.Config{QueueSize: loopQueueSize, Logger: logger})

	cat, err := catalog.NewMap(catalog.Config{
		Capacity:      catalogCapacity,
		LocalDeviceID: cfg.Device.ID,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	d.catalog = cat

	engineCfg := subscription.DefaultConfig()
	engineCfg.MaxHandlers = cfg.Subscription.MaxHandlers
	engineCfg.MaxClients = cfg.Subscription.MaxClients
	engineCfg.PathStoreCapacity = cfg.Subscription.PathStoreCapacity
	engineCfg.MaxNotifySize = cfg.Subscription.MaxNotifySize
	engineCfg.LivenessTimeout = cfg.Subscription.LivenessTimeout
	engineCfg.ResponseTimeout = cfg.Subscription.ResponseTimeout
	engineCfg.Logger = logger
	engineCfg.Trace = d.trace
	d.engine = subscription.New(engineCfg, d.loop, cat, d)

	if err := d.setupEventLog(); err != nil {
		return nil, err
	}
	if err := d.setupLocalObjects(); err != nil {
		return nil, err
	}
	if err := d.setupRemotes(); err != nil {
		return nil, err
	}

	if cfg.Collector.Enabled {
		d.receiver, err = transfer.NewReceiver(transfer.ReceiverConfig{
			Dir:         cfg.Collector.ArchiveDir,
			IdleTimeout: cfg.Collector.IdleTimeout,
			MaxSessions: cfg.Collector.MaxSessions,
			Logger:      logger,
			Trace:       d.trace,
		}, d.loop, d)
		if err != nil {
			return nil, err
		}
	}
	d.dispatcher = transfer.NewDispatcher(d.engine, d.receiver, logger)

	if err := d.setupUploader(); err != nil {
		return nil, err
	}
	d.setupMetrics()

	d.server = transport.NewServer(transport.ServerConfig{
		Address:      cfg.Listen,
		Trace:        d.trace,
		Logger:       logger,
		OnDisconnect: d.onDisconnect,
		OnMessage:    d.onMessage,
		OnError: func(p *transport.Peer, err error) {
			if p != nil {
				logger.Debug("transport error", "peer", p.ID(), "error", err)
				return
			}
			logger.Warn("transport error", "error", err)
		},
	})

	if cfg.Discovery.Enabled {
		d.advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Interface: cfg.Discovery.Interface,
			TTL:       cfg.Discovery.TTL,
			Logger:    logger,
		})
		d.browser = discovery.NewBrowser(discovery.BrowserConfig{
			BrowseTimeout: discovery.BrowseTimeout,
			Interface:     cfg.Discovery.Interface,
		})
	}
	return d, nil
}

func (d *Daemon) setupTrace() error {
	console := log.NewSlogAdapter(d.logger)
	if d.cfg.TraceFile == "" {
		d.trace = console
		return nil
	}
	fl, err := log.NewRotatingFileLogger(d.cfg.TraceFile, traceMaxBytes)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	d.traceFile = fl
	d.trace = log.NewMultiLogger(fl, console)
	return nil
}

func (d *Daemon) setupEventLog() error {
	level, err := d.cfg.Level()
	if err != nil {
		return err
	}
	buffers, err := d.cfg.BufferSizes()
	if err != nil {
		return err
	}
	d.events, err = eventlog.New(eventlog.Config{
		BufferSizes: buffers,
		Store:       persistence.NewFileStore(filepath.Join(d.cfg.DataDir, "counters.json")),
		KeyPrefix:   "eventlog",
		Epoch:       d.cfg.EventLog.Epoch,
		Level:       level,
		Clock:       d.loop.Clock(),
		Logger:      d.logger,
	})
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	return nil
}

// setupLocalObjects publishes DeviceInfo and Measurement under the local
// resource. Every change marks the path dirty in the engine.
func (d *Daemon) setupLocalObjects() error {
	dev := d.cfg.Device
	d.deviceInfo = model.NewObject(model.DeviceInfoSchema)
	for p, v := range map[schema.PropertyPathHandle]any{
		model.DeviceInfoVendor:   dev.Vendor,
		model.DeviceInfoSerial:   dev.Serial,
		model.DeviceInfoFirmware: dev.Firmware,
		model.DeviceInfoLabel:    dev.Name,
	} {
		if err := d.deviceInfo.Set(p, v); err != nil {
			return fmt.Errorf("device info: %w", err)
		}
	}

	d.measurement = model.NewObject(model.MeasurementSchema)
	initial := map[schema.PropertyPathHandle]any{
		model.MeasurementPower:    int64(0),
		model.MeasurementImported: int64(0),
		model.MeasurementExported: int64(0),
	}
	for k := uint16(1); k <= 3; k++ {
		initial[model.MeasurementPhaseVoltage(k)] = int64(230000)
		initial[model.MeasurementPhaseCurrent(k)] = int64(0)
	}
	for p, v := range initial {
		if err := d.measurement.Set(p, v); err != nil {
			return fmt.Errorf("measurement: %w", err)
		}
	}

	self := wire.ResourceID{Kind: wire.ResourceSelf}
	for _, obj := range []*model.Object{d.deviceInfo, d.measurement} {
		h, err := d.catalog.Add(self, 0, schema.RootPath, obj)
		if err != nil {
			return fmt.Errorf("publish %s: %w", obj.Schema().Name, err)
		}
		obj.Subscribe(model.ChangeFunc(func(_ *model.Object, p schema.PropertyPathHandle) {
			d.engine.MarkDirty(schema.ObjectPath{Handle: h, Path: p})
		}))
		if obj == d.measurement {
			d.measurementHandle = h
		}
	}
	return nil
}

// setupRemotes registers one mirror object per subscribed profile.
func (d *Daemon) setupRemotes() error {
	for _, rc := range d.cfg.Subscriptions {
		r := &remote{
			config:  rc,
			mirrors: make(map[uint32]*model.Object, len(rc.Profiles)),
			backoff: subscription.NewBackoff(),
			timer:   d.loop.NewTimer(),
		}
		res := wire.ResourceID{Kind: wire.ResourceDevice, ID: rc.DeviceID}
		for _, p := range rc.Profiles {
			desc, _ := model.Lookup(p)
			obj := model.NewObject(desc)
			if _, err := d.catalog.Add(res, 0, schema.RootPath, obj); err != nil {
				return fmt.Errorf("mirror 0x%08x of %016x: %w", p, rc.DeviceID, err)
			}
			r.mirrors[p] = obj
		}
		d.remotes = append(d.remotes, r)
	}
	return nil
}

func (d *Daemon) setupUploader() error {
	comp, err := d.cfg.Compression()
	if err != nil {
		return err
	}
	levels, err := d.cfg.UploadLevels()
	if err != nil {
		return err
	}
	ucfg := upload.DefaultConfig()
	ucfg.Compression = comp
	if d.cfg.Upload.MaxBlockSize > 0 {
		ucfg.MaxBlockSize = d.cfg.Upload.MaxBlockSize
	}
	if len(levels) > 0 {
		ucfg.Levels = levels
	}
	ucfg.Logger = d.logger
	ucfg.Trace = d.trace

	d.uploader = upload.New(ucfg, d.loop, d.events, uploadChannel{d})
	d.uploader.OnComplete(d.onUploadComplete)
	d.uploadTimer = d.loop.NewTimer()
	return nil
}

func (d *Daemon) setupMetrics() {
	d.registry = prometheus.NewRegistry()
	d.metrics = metrics.New(d.registry)
	d.registry.MustRegister(
		metrics.NewEventLogCollector(d.events),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d.engine.OnEvent(d.onSubscriptionEvent)
	if d.receiver != nil {
		d.receiver.OnArchive(func(a transfer.Archive) {
			d.metrics.ObserveArchive(a)
			d.logger.Info("archive stored", "path", a.Path, "peer", a.Peer, "events", a.Events, "gaps", a.Gaps)
		})
	}
}

// Start opens the listener, starts the loop and begins advertising,
// mirroring and uploading.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.loopDone = make(chan struct{})
	go func() {
		defer close(d.loopDone)
		if err := d.loop.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("loop stopped", "error", err)
		}
	}()

	if err := d.server.Start(d.ctx); err != nil {
		d.cancel()
		<-d.loopDone
		return err
	}
	d.logger.Info("listening", "address", d.server.Addr(), "device", fmt.Sprintf("%016x", d.cfg.Device.ID))

	if err := d.startMetrics(); err != nil {
		_ = d.server.Stop()
		d.cancel()
		<-d.loopDone
		return err
	}

	d.logEvent(bootEvent, bootPayload{Firmware: d.cfg.Device.Firmware, Serial: d.cfg.Device.Serial})

	if d.advertiser != nil {
		if err := d.advertiser.Advertise(d.ctx, d.syncInfo()); err != nil {
			d.logger.Warn("mDNS advertisement failed", "error", err)
		}
	}

	err := d.call(func() {
		for _, r := range d.remotes {
			d.connectRemote(r)
		}
		if d.cfg.Upload.Interval > 0 && (d.cfg.Upload.Collector != "" || d.browser != nil) {
			d.uploadTimer.Arm(d.cfg.Upload.Interval, d.periodicUpload)
		}
	})
	if err != nil {
		return err
	}

	if d.cfg.Simulate {
		d.wg.Add(1)
		go d.simulate(d.cfg.SimulateInterval)
	}
	return nil
}

func (d *Daemon) startMetrics() error {
	if d.cfg.MetricsAddress == "" {
		return nil
	}
	ln, err := net.Listen("tcp", d.cfg.MetricsAddress)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	d.metricsAddr = ln.Addr()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	d.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server", "error", err)
		}
	}()
	d.logger.Info("serving metrics", "address", d.metricsAddr)
	return nil
}

// Stop cancels every subscription and session, closes all connections and
// waits for the background goroutines.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	if d.cancel == nil {
		return
	}
	_ = d.call(func() {
		d.stopping = true
		d.uploadTimer.Stop()
		for _, r := range d.remotes {
			r.timer.Stop()
		}
		d.uploader.Shutdown()
		d.engine.Shutdown()
		if d.receiver != nil {
			d.receiver.Shutdown()
		}
	})

	if d.advertiser != nil {
		d.advertiser.Stop()
	}
	if d.browser != nil {
		d.browser.Stop()
	}
	_ = d.server.Stop()

	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = d.httpServer.Shutdown(ctx)
		cancel()
	}

	d.cancel()
	<-d.loopDone
	d.wg.Wait()

	if d.traceFile != nil {
		if err := d.traceFile.Close(); err != nil {
			d.logger.Warn("close trace file", "error", err)
		}
	}
	d.logger.Info("stopped")
}

// call runs fn on the loop and waits for it.
func (d *Daemon) call(fn func()) error {
	done := make(chan struct{})
	if err := d.loop.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-d.loopDone:
		return loop.ErrStopped
	}
}

// post runs fn on the loop without waiting.
func (d *Daemon) post(fn func()) {
	if err := d.loop.Post(fn); err != nil && !errors.Is(err, loop.ErrStopped) {
		d.logger.Warn("dropping work", "error", err)
	}
}

// Send implements subscription.Sender over the transport server.
func (d *Daemon) Send(peer subscription.PeerID, msg wire.Message) error {
	return d.server.Send(string(peer), msg)
}

func (d *Daemon) onMessage(p *transport.Peer, msg wire.Message) {
	peer := subscription.PeerID(p.ID())
	d.post(func() {
		if err := d.dispatcher.HandleMessage(peer, msg); err != nil {
			d.logger.Debug("message not handled", "peer", peer, "type", msg.MessageType(), "error", err)
		}
	})
}

func (d *Daemon) onDisconnect(p *transport.Peer) {
	peer := subscription.PeerID(p.ID())
	d.post(func() {
		d.dispatcher.PeerDisconnected(peer)
		for _, r := range d.remotes {
			if r.peer != peer {
				continue
			}
			d.detachRemote(r)
			d.retryRemote(r, errPeerLost)
		}
	})
}

func (d *Daemon) onSubscriptionEvent(ev subscription.Event) {
	d.metrics.ObserveSubscription(ev)
	if ev.Kind == subscription.EventNotifySent {
		return
	}
	d.logEvent(subscriptionEvent, subscriptionPayload{
		Kind:           ev.Kind.String(),
		Side:           ev.Side.String(),
		Peer:           string(ev.Peer),
		SubscriptionID: ev.SubscriptionID,
		Reason:         ev.Reason,
	})
}

// logEvent appends to the event log. Events below the configured level
// are dropped silently.
func (d *Daemon) logEvent(s eventlog.Schema, payload any) {
	if _, err := d.events.LogEvent(s, payload); err != nil && !errors.Is(err, eventlog.ErrFiltered) {
		d.logger.Warn("event not logged", "profile", fmt.Sprintf("0x%08x", s.ProfileID), "type", s.StructureType, "error", err)
	}
}

func (d *Daemon) syncInfo() *discovery.SyncInfo {
	port := d.cfg.Port()
	if addr, ok := d.server.Addr().(*net.TCPAddr); ok {
		port = uint16(addr.Port)
	}
	return &discovery.SyncInfo{
		DeviceID:   fmt.Sprintf("%016x", d.cfg.Device.ID),
		DeviceName: d.cfg.Device.Name,
		Version:    discovery.ProtocolVersion,
		Roles:      d.cfg.Roles(),
		Profiles:   []uint32{model.ProfileDeviceInfo, model.ProfileMeasurement},
		Port:       port,
	}
}

// Remote publishers.

func (d *Daemon) connectRemote(r *remote) {
	if d.stopping || r.dialing || r.peer != "" {
		return
	}
	r.dialing = true
	addr := r.config.Address
	go func() {
		p, err := d.server.Dial(d.ctx, addr)
		d.post(func() {
			r.dialing = false
			if err != nil {
				d.retryRemote(r, err)
				return
			}
			if d.stopping {
				_ = p.Close()
				return
			}
			d.attachRemote(r, subscription.PeerID(p.ID()))
		})
	}()
}

func (d *Daemon) attachRemote(r *remote, peer subscription.PeerID) {
	paths := make([]wire.Path, 0, len(r.config.Profiles))
	for _, p := range r.config.Profiles {
		paths = append(paths, wire.Path{Profile: p})
	}
	c, err := d.engine.NewClient(subscription.ClientConfig{
		Peer:     peer,
		Resource: wire.ResourceID{Kind: wire.ResourceDevice, ID: r.config.DeviceID},
		Paths:    paths,
	})
	if err != nil {
		d.logger.Warn("cannot subscribe", "address", r.config.Address, "error", err)
		if p, ok := d.server.Peer(string(peer)); ok {
			_ = p.Close()
		}
		return
	}
	r.peer = peer
	r.client = c
	r.backoff.Reset()
	if err := c.Subscribe(); err != nil {
		d.logger.Warn("subscribe failed", "address", r.config.Address, "error", err)
	}
	d.logger.Info("connected to publisher", "address", r.config.Address, "peer", peer)
}

func (d *Daemon) detachRemote(r *remote) {
	if r.client != nil {
		d.engine.RemoveClient(r.client)
	}
	r.client = nil
	r.peer = ""
}

func (d *Daemon) retryRemote(r *remote, cause error) {
	if d.stopping {
		return
	}
	delay := r.backoff.Next()
	d.logger.Warn("publisher unreachable", "address", r.config.Address, "error", cause, "retry_in", delay)
	r.timer.Arm(delay, func() { d.connectRemote(r) })
}

// Uploads.

// uploadChannel sends the uploader's messages to the collector of the
// current session.
type uploadChannel struct{ d *Daemon }

func (c uploadChannel) current() (*transfer.Channel, error) {
	if c.d.uploadChannel == nil {
		return nil, ErrNoCollector
	}
	return c.d.uploadChannel, nil
}

func (c uploadChannel) SendInit(init *wire.SendInit) error {
	ch, err := c.current()
	if err != nil {
		return err
	}
	return ch.SendInit(init)
}

func (c uploadChannel) SendBlock(block *wire.Block) error {
	ch, err := c.current()
	if err != nil {
		return err
	}
	return ch.SendBlock(block)
}

func (c uploadChannel) Abort(session []byte, status wire.Status, reason string) error {
	ch, err := c.current()
	if err != nil {
		return err
	}
	return ch.Abort(session, status, reason)
}

func (d *Daemon) periodicUpload() {
	d.uploadTimer.Arm(d.cfg.Upload.Interval, d.periodicUpload)
	if err := d.startUpload(""); err != nil && !errors.Is(err, ErrUploadActive) {
		d.logger.Warn("periodic upload not started", "error", err)
	}
}

// startUpload connects to addr, or the configured or discovered collector
// when addr is empty, and uploads the event log. Runs on the loop; the
// result arrives through onUploadComplete.
func (d *Daemon) startUpload(addr string) error {
	if d.stopping {
		return loop.ErrStopped
	}
	if d.uploading {
		return ErrUploadActive
	}
	if addr == "" {
		addr = d.cfg.Upload.Collector
	}
	if addr == "" && d.browser == nil {
		return ErrNoCollector
	}
	d.uploading = true

	go func() {
		p, err := d.dialCollector(addr)
		d.post(func() {
			if err != nil {
				d.onUploadComplete(upload.Summary{}, err)
				return
			}
			d.beginSession(p)
		})
	}()
	return nil
}

func (d *Daemon) dialCollector(addr string) (*transport.Peer, error) {
	if addr == "" {
		svc, err := d.browser.FindCollector(d.ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoCollector, err)
		}
		if len(svc.Addresses) == 0 {
			return nil, fmt.Errorf("%w: %s has no address", ErrNoCollector, svc.InstanceName)
		}
		addr = net.JoinHostPort(svc.Addresses[0], strconv.Itoa(int(svc.Port)))
		d.logger.Info("discovered collector", "instance", svc.InstanceName, "address", addr)
	}
	return d.server.Dial(d.ctx, addr)
}

func (d *Daemon) beginSession(p *transport.Peer) {
	if d.stopping {
		_ = p.Close()
		d.uploading = false
		return
	}
	d.uploadPeer = subscription.PeerID(p.ID())
	d.uploadChannel = transfer.NewChannel(d, d.uploadPeer)
	d.dispatcher.AttachUploader(d.uploadPeer, d.uploader)

	if err := d.uploader.StartUpload(d.cfg.Device.Name); err != nil && d.uploading {
		// Rejected before a session existed; no completion follows.
		d.onUploadComplete(upload.Summary{}, err)
	}
}

func (d *Daemon) onUploadComplete(s upload.Summary, err error) {
	d.uploading = false
	d.lastUpload = &uploadResult{Summary: s, Err: err, At: d.loop.Now()}
	d.metrics.ObserveUpload(s, err)

	payload := uploadPayload{
		Destination: s.Destination,
		Events:      s.Events,
		Blocks:      s.Blocks,
		Gaps:        s.Gaps,
	}
	if err != nil {
		payload.Error = err.Error()
		d.logger.Warn("upload failed", "error", err)
	} else {
		d.logger.Info("upload complete", "session", s.SessionID, "blocks", s.Blocks, "events", s.Events, "gaps", s.Gaps)
	}
	d.logEvent(uploadEvent, payload)

	if d.uploadPeer == "" {
		return
	}
	d.dispatcher.DetachUploader(d.uploadPeer)
	if p, ok := d.server.Peer(string(d.uploadPeer)); ok {
		_ = p.Close()
	}
	d.uploadPeer = ""
	d.uploadChannel = nil
}

// Loop-side accessors used by the console and tests.

// Status is a point-in-time view of the daemon.
type Status struct {
	DeviceID    uint64
	Name        string
	Address     string
	Peers       int
	Handlers    int
	Clients     int
	Upload      upload.State
	UploadStats upload.Stats
	LastUpload  *uploadResult
	Level       eventlog.Importance
	Sessions    int
	Archived    uint64
	Rejected    uint64
}

// Status collects the current status on the loop.
func (d *Daemon) Status() (Status, error) {
	var st Status
	err := d.call(func() {
		st = Status{
			DeviceID:    d.cfg.Device.ID,
			Name:        d.cfg.Device.Name,
			Address:     d.Addr(),
			Peers:       d.server.ConnectionCount(),
			Handlers:    d.engine.HandlerCount(),
			Clients:     d.engine.ClientCount(),
			Upload:      d.uploader.State(),
			UploadStats: d.uploader.Stats(),
			LastUpload:  d.lastUpload,
			Level:       d.events.Level(),
		}
		if d.receiver != nil {
			st.Sessions = d.receiver.Sessions()
			st.Archived, st.Rejected = d.receiver.Counts()
		}
	})
	return st, err
}

// Addr returns the transport listen address.
func (d *Daemon) Addr() string {
	if a := d.server.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// SetMeasurement writes one measurement property on the loop.
func (d *Daemon) SetMeasurement(p schema.PropertyPathHandle, value any) error {
	var err error
	if cerr := d.call(func() { err = d.measurement.Set(p, value) }); cerr != nil {
		return cerr
	}
	return err
}

// LogOperator records an operator event of the given importance.
func (d *Daemon) LogOperator(imp eventlog.Importance, text string) (eventlog.EventID, error) {
	var (
		id  eventlog.EventID
		err error
	)
	if cerr := d.call(func() { id, err = d.events.LogEvent(operatorEvent(imp), operatorPayload{Text: text}) }); cerr != nil {
		return 0, cerr
	}
	return id, err
}

// SetLogLevel changes the event log importance filter.
func (d *Daemon) SetLogLevel(imp eventlog.Importance) error {
	var err error
	if cerr := d.call(func() { err = d.events.SetLevel(imp) }); cerr != nil {
		return cerr
	}
	return err
}

// Mirror returns a snapshot of the mirrored profile of a remote device.
func (d *Daemon) Mirror(deviceID uint64, profile uint32) (map[schema.PropertyPathHandle]any, bool) {
	for _, r := range d.remotes {
		if r.config.DeviceID != deviceID {
			continue
		}
		if obj, ok := r.mirrors[profile]; ok {
			return obj.Snapshot(), true
		}
	}
	return nil, false
}

// UploadNow starts an upload outside the periodic schedule.
func (d *Daemon) UploadNow(addr string) error {
	var err error
	if cerr := d.call(func() { err = d.startUpload(addr) }); cerr != nil {
		return cerr
	}
	return err
}

// AbortUpload aborts the running upload session.
func (d *Daemon) AbortUpload() error {
	return d.call(d.uploader.Abort)
}
