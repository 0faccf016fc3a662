package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/adapter"
	"github.com/devlink-broker/devlink-go/pkg/config"
	"github.com/devlink-broker/devlink-go/pkg/discovery"
	"github.com/devlink-broker/devlink-go/pkg/event"
	"github.com/devlink-broker/devlink-go/pkg/log"
	"github.com/devlink-broker/devlink-go/pkg/model"
	"github.com/devlink-broker/devlink-go/pkg/netman"
	"github.com/devlink-broker/devlink-go/pkg/queue"
	"github.com/devlink-broker/devlink-go/pkg/registry"
	"github.com/devlink-broker/devlink-go/pkg/transport"
	"github.com/devlink-broker/devlink-go/pkg/version"
	"github.com/devlink-broker/devlink-go/pkg/wire"
)

// Broker owns every broker component and wires them together. One Broker
// per process.
type Broker struct {
	logger log.Logger

	settingsStore *config.Store
	settingsMu    sync.RWMutex
	settings      config.Settings

	adapters  *adapter.Set
	printer   *adapter.PrinterAdapter
	serial    *adapter.SerialAdapter
	usb       *adapter.USBHIDAdapter
	biometric *adapter.BiometricAdapter

	registry  *registry.Registry
	watchers  *event.Watchers
	fabric    *event.Fabric
	network   *netman.Manager
	jobs      *queue.Store
	worker    *queue.Worker
	discovery *discovery.Engine

	advertiser *discovery.Advertiser

	dispatcher *Dispatcher

	serverMu sync.Mutex
	server   *transport.Server

	sessionsMu sync.RWMutex
	sessions   map[string]Session

	startedAt time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewBroker assembles a broker from the settings in store. The queue
// database is opened here; Start brings the long-running parts up.
func NewBroker(store *config.Store, logger log.Logger) (*Broker, error) {
	if logger == nil {
		logger = log.NoopLogger{}
	}

	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	b := &Broker{
		logger:        logger,
		settingsStore: store,
		settings:      settings,
		sessions:      make(map[string]Session),
	}

	b.watchers = event.NewWatchers()
	b.fabric = event.NewFabric(b.watchers)
	b.fabric.SetDeliverFunc(b.deliverEvent)

	b.registry = registry.New(b.fabric.Publish)

	b.printer = adapter.NewPrinterAdapter()
	b.serial = adapter.NewSerialAdapter()
	b.usb = adapter.NewUSBHIDAdapter()
	b.biometric = adapter.NewBiometricAdapter()

	b.adapters = adapter.NewSet()
	b.adapters.Register(b.printer)
	b.adapters.Register(b.serial)
	b.adapters.Register(b.usb)
	b.adapters.Register(b.biometric)

	b.network = netman.New(b.registry, b.fabric.Publish, logger,
		settings.Network.MaxConnections, settings.NetworkTimeout())

	// A device with an open adapter handle or a live socket must survive
	// discovery reconciliation even when enumeration misses it.
	b.registry.SetHandleChecker(func(deviceID string) bool {
		return b.adapters.HasOpenHandle(deviceID) || b.network.IsConnected(deviceID)
	})

	b.jobs, err = queue.NewStore(settings.Queue.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}
	b.worker = queue.NewWorker(b.jobs, queue.ExecutorFunc(b.executeJob),
		settings.RetryInterval(), settings.Queue.MaxRetryAttempts,
		b.fabric.Publish, logger)

	b.discovery = discovery.NewEngine(b.adapters, b.registry,
		enabledKinds(settings.Discovery), settings.DiscoveryInterval(), logger)
	b.discovery.SetResolver(discovery.ResolveQueueURI)

	b.dispatcher = NewDispatcher(logger)
	b.registerHandlers()

	return b, nil
}

// enabledKinds maps the per-kind discovery toggles onto the engine's form.
func enabledKinds(d config.DiscoverySettings) map[model.DeviceKind]bool {
	return map[model.DeviceKind]bool{
		model.KindPrinter:   d.EnablePrinter,
		model.KindSerial:    d.EnableSerial,
		model.KindUSBHID:    d.EnableUSBHID,
		model.KindNetwork:   d.EnableNetwork,
		model.KindBiometric: d.EnableBiometric,
	}
}

// Settings returns a copy of the active settings.
func (b *Broker) Settings() config.Settings {
	b.settingsMu.RLock()
	defer b.settingsMu.RUnlock()
	return b.settings
}

// Dispatcher exposes the RPC dispatcher, mainly for tests and the CLI.
func (b *Broker) Dispatcher() *Dispatcher {
	return b.dispatcher
}

// Start brings up the event fabric, queue worker, discovery engine, the
// transport endpoint and, when configured, mDNS self-advertisement.
func (b *Broker) Start(ctx context.Context) error {
	if b.running {
		return fmt.Errorf("broker already running")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.startedAt = time.Now()

	b.fabric.Start(b.ctx)
	b.worker.Start(b.ctx)
	b.discovery.Start(b.ctx)
	go b.pruneLoop(b.ctx)

	settings := b.Settings()
	if err := b.startTransport(settings.Transport); err != nil {
		b.discovery.Stop()
		b.worker.Stop()
		b.fabric.Stop()
		b.cancel()
		return err
	}

	if settings.Discovery.Advertise {
		b.advertiser = discovery.NewAdvertiser()
		if err := b.advertiser.Start("devlink-broker", settings.Transport.Port,
			settings.Transport.UseTLS, version.Current); err != nil {
			// Advertisement is best-effort; the broker serves configured
			// clients without it.
			b.logError("", "mdns advertise", err)
			b.advertiser = nil
		}
	}

	b.running = true
	return nil
}

// Stop tears the broker down in reverse start order and closes the queue
// database.
func (b *Broker) Stop() {
	if !b.running {
		return
	}
	b.running = false

	if b.advertiser != nil {
		b.advertiser.Stop()
		b.advertiser = nil
	}

	b.serverMu.Lock()
	if b.server != nil {
		b.server.Stop()
		b.server = nil
	}
	b.serverMu.Unlock()

	b.discovery.Stop()
	b.worker.Stop()
	b.network.CloseAll()
	b.fabric.Stop()
	b.cancel()

	if err := b.jobs.Close(); err != nil {
		b.logError("", "close queue store", err)
	}
}

// pruneLoop sweeps finished jobs past the retention window once an hour.
func (b *Broker) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settings := b.Settings()
			b.pruneJobs(settings.JobRetention())
		}
	}
}

// pruneJobs runs one retention sweep over the job history.
func (b *Broker) pruneJobs(olderThan time.Duration) {
	if _, err := b.jobs.Prune(olderThan); err != nil {
		b.logError("", "prune job history", err)
	}
}

// startTransport builds and starts a transport server from the given
// settings. Caller holds no serverMu.
func (b *Broker) startTransport(ts config.TransportSettings) error {
	server := transport.NewServer(transport.Config{
		Host:            ts.Host,
		Port:            ts.Port,
		MaxSessions:     ts.MaxConnections,
		AllowedOrigins:  ts.AllowedOrigins,
		UseTLS:          ts.UseTLS,
		CertificatePath: ts.CertificatePath,
		Logger:          b.logger,
		OnConnect:       b.onConnect,
		OnMessage:       b.onMessage,
		OnDisconnect:    b.onDisconnect,
	})
	if err := server.Start(b.ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	b.serverMu.Lock()
	b.server = server
	b.serverMu.Unlock()
	return nil
}

// restartTransport replaces the running endpoint. Existing sessions on the
// old endpoint are closed.
func (b *Broker) restartTransport(ts config.TransportSettings) error {
	b.serverMu.Lock()
	old := b.server
	b.server = nil
	b.serverMu.Unlock()

	if old != nil {
		old.Stop()
	}
	return b.startTransport(ts)
}

// onConnect admits a session: track it and send the welcome notification.
func (b *Broker) onConnect(sess *transport.Session) {
	b.trackSession(sess)

	notif := wire.NewNotification(wire.MethodServerConnected, map[string]any{
		"session_id":     sess.SessionID(),
		"server_version": version.Current,
		"server_time":    time.Now().UTC().Format(time.RFC3339),
	})
	payload, err := wire.EncodeNotification(notif)
	if err != nil {
		return
	}
	_ = sess.Send(payload)
}

func (b *Broker) onMessage(sess *transport.Session, data []byte) {
	b.dispatcher.Dispatch(b.ctx, sess, data)
}

func (b *Broker) onDisconnect(sess *transport.Session) {
	b.untrackSession(sess.SessionID())
}

// trackSession registers a session for event delivery.
func (b *Broker) trackSession(sess Session) {
	b.sessionsMu.Lock()
	b.sessions[sess.SessionID()] = sess
	b.sessionsMu.Unlock()
}

// untrackSession drops a session and its event subscriptions.
func (b *Broker) untrackSession(sessionID string) {
	b.sessionsMu.Lock()
	delete(b.sessions, sessionID)
	b.sessionsMu.Unlock()

	b.watchers.RemoveSession(sessionID)
}

// deliverEvent pushes one device event to one subscribed session as a
// device.event notification. Called by the fabric's fan-out goroutine.
func (b *Broker) deliverEvent(sessionID string, ev model.Event) {
	b.sessionsMu.RLock()
	sess, ok := b.sessions[sessionID]
	b.sessionsMu.RUnlock()
	if !ok {
		return
	}

	payload, err := wire.EncodeNotification(wire.NewNotification(wire.MethodDeviceEvent, ev))
	if err != nil {
		return
	}
	sess.QueueNotification(payload)
}

func (b *Broker) logError(deviceID, context string, err error) {
	b.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		DeviceID:  deviceID,
		Error: &log.ErrorEventData{
			Message: err.Error(),
			Context: context,
		},
	})
}
