package whatsapp

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/notify"
	"github.com/talkincode/toughwa/internal/repository"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
	"github.com/talkincode/toughwa/pkg/metrics"
)

const (
	DefaultQRTTL          = 60 * time.Second
	DefaultReconnectDelay = 5 * time.Second

	MetricReconnects         = "whatsapp_reconnects"
	MetricConnectedInstances = "whatsapp_connected_instances"
)

// ConnectResult reports the outcome of a connect request.
type ConnectResult struct {
	AlreadyConnected bool
	QRExpected       bool
}

type SupervisorConfig struct {
	QRTTL          time.Duration
	ReconnectDelay time.Duration
}

// Supervisor drives the per-instance connection state machine:
// disconnected -> connecting -> qr_ready|connected -> closed, with closed
// going back to connecting on recoverable reasons or ending at disconnected.
type Supervisor struct {
	instances repository.InstanceRepository
	registry  *Registry
	factory   provider.Factory
	creds     provider.CredentialStore
	publisher notify.Publisher
	pipeline  *Pipeline
	cfg       SupervisorConfig
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	connMu    sync.Mutex
	connected map[int64]bool

	reconnects *timerSet
	qrExpiry   *timerSet
	consumers  sync.WaitGroup
	stopMu     sync.Mutex // orders consumers.Add against Stop
	stopped    atomic.Bool
}

func NewSupervisor(
	instances repository.InstanceRepository,
	registry *Registry,
	factory provider.Factory,
	creds provider.CredentialStore,
	publisher notify.Publisher,
	pipeline *Pipeline,
	cfg SupervisorConfig,
) *Supervisor {
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = DefaultQRTTL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Supervisor{
		instances:  instances,
		registry:   registry,
		factory:    factory,
		creds:      creds,
		publisher:  publisher,
		pipeline:   pipeline,
		cfg:        cfg,
		now:        time.Now,
		locks:      make(map[int64]*sync.Mutex),
		connected:  make(map[int64]bool),
		reconnects: newTimerSet(),
		qrExpiry:   newTimerSet(),
	}
}

func (s *Supervisor) lock(id int64) func() {
	s.locksMu.Lock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Supervisor) getInstance(ctx context.Context, id int64) (*domain.Instance, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Wrapf(ErrInstanceNotFound, "instance %d", id)
	}
	return inst, err
}

// Connect starts a session for the instance, replacing any previous adapter.
// Stored credentials suppress the QR challenge.
func (s *Supervisor) Connect(ctx context.Context, id int64) (ConnectResult, error) {
	if s.stopped.Load() {
		return ConnectResult{}, ErrStopped
	}
	unlock := s.lock(id)
	defer unlock()

	inst, err := s.getInstance(ctx, id)
	if err != nil {
		return ConnectResult{}, err
	}
	return s.connectLocked(ctx, inst)
}

func (s *Supervisor) connectLocked(ctx context.Context, inst *domain.Instance) (ConnectResult, error) {
	id := inst.ID
	if _, ok := s.registry.Get(id); ok && inst.Status == domain.InstanceConnected {
		return ConnectResult{AlreadyConnected: true}, nil
	}

	s.reconnects.Cancel(id)
	if prev := s.registry.Remove(id); prev != nil {
		if err := prev.Disconnect(ctx, false); err != nil {
			zap.L().Warn("whatsapp: end previous adapter", zap.Int64("instance_id", id), zap.Error(err))
		}
	}

	adapter, err := s.factory(inst)
	if err != nil {
		return ConnectResult{}, err
	}
	issueQR := true
	if inst.SessionRef != "" {
		exists, err := s.creds.Exists(ctx, inst.SessionRef)
		if err != nil {
			zap.L().Warn("whatsapp: check credentials", zap.Int64("instance_id", id), zap.Error(err))
		}
		issueQR = !exists
	}

	s.registry.Put(id, adapter)
	s.setStatus(ctx, id, domain.InstanceConnecting, "connect", "")

	res, err := adapter.Connect(ctx, issueQR)
	if err != nil {
		s.registry.RemoveIf(id, adapter)
		_ = adapter.Disconnect(ctx, false)
		s.setStatus(ctx, id, domain.InstanceDisconnected, "connect", err.Error())
		return ConnectResult{}, err
	}

	// Stop may have started while dialing; its Wait must not race this Add.
	s.stopMu.Lock()
	if s.stopped.Load() {
		s.stopMu.Unlock()
		if s.registry.RemoveIf(id, adapter) {
			_ = adapter.Disconnect(ctx, false)
			s.setStatus(ctx, id, domain.InstanceDisconnected, "shutdown", "")
		}
		return ConnectResult{}, ErrStopped
	}
	s.consumers.Add(1)
	s.stopMu.Unlock()
	go s.consume(adapter)

	zap.L().Info("whatsapp: connecting instance",
		zap.Int64("instance_id", id),
		zap.String("provider", string(inst.Provider)),
		zap.Bool("issue_qr", issueQR))
	return ConnectResult{QRExpected: res.QRExpected}, nil
}

// Disconnect ends the live session. With removeCredentials the session is
// logged out and its stored credentials deleted, otherwise it is only paused.
func (s *Supervisor) Disconnect(ctx context.Context, id int64, removeCredentials bool) error {
	unlock := s.lock(id)
	defer unlock()
	return s.disconnectLocked(ctx, id, removeCredentials)
}

func (s *Supervisor) disconnectLocked(ctx context.Context, id int64, removeCredentials bool) error {
	s.reconnects.Cancel(id)
	s.qrExpiry.Cancel(id)

	inst, err := s.getInstance(ctx, id)
	if err != nil {
		return err
	}
	if a := s.registry.Remove(id); a != nil {
		if err := a.Disconnect(ctx, removeCredentials); err != nil {
			zap.L().Warn("whatsapp: adapter disconnect", zap.Int64("instance_id", id), zap.Error(err))
		}
	}
	action := "disconnect"
	if removeCredentials {
		action = "logout"
		s.dropCredentials(ctx, inst)
	}
	if inst.QRRaw != "" {
		if _, err := s.instances.ClearQRIfRaw(ctx, id, inst.QRRaw); err != nil {
			zap.L().Warn("whatsapp: clear qr", zap.Int64("instance_id", id), zap.Error(err))
		}
	}
	s.setStatus(ctx, id, domain.InstanceDisconnected, action, "")
	return nil
}

// Remove fully disconnects the instance, deletes its credentials and its row.
func (s *Supervisor) Remove(ctx context.Context, id int64) error {
	unlock := s.lock(id)
	defer unlock()
	if err := s.disconnectLocked(ctx, id, true); err != nil {
		return err
	}
	return s.instances.Delete(ctx, id)
}

// Stop cancels pending timers and ends every live adapter, keeping credentials.
func (s *Supervisor) Stop(ctx context.Context) {
	s.stopMu.Lock()
	s.stopped.Store(true)
	s.stopMu.Unlock()
	s.reconnects.CancelAll()
	s.qrExpiry.CancelAll()
	for id, a := range s.registry.All() {
		unlock := s.lock(id)
		if s.registry.RemoveIf(id, a) {
			if err := a.Disconnect(ctx, false); err != nil {
				zap.L().Warn("whatsapp: adapter disconnect", zap.Int64("instance_id", id), zap.Error(err))
			}
			s.setStatus(ctx, id, domain.InstanceDisconnected, "shutdown", "")
		}
		unlock()
	}
	s.consumers.Wait()
}

func (s *Supervisor) dropCredentials(ctx context.Context, inst *domain.Instance) {
	if inst.SessionRef == "" {
		return
	}
	if err := s.creds.Remove(ctx, inst.SessionRef); err != nil {
		zap.L().Error("whatsapp: remove credentials", zap.Int64("instance_id", inst.ID), zap.Error(err))
	}
	if err := s.instances.SetSessionRef(ctx, inst.ID, ""); err != nil {
		zap.L().Error("whatsapp: clear session ref", zap.Int64("instance_id", inst.ID), zap.Error(err))
	}
}

// consume delivers the adapter's events one at a time until its channel closes.
func (s *Supervisor) consume(a provider.Adapter) {
	defer s.consumers.Done()
	for ev := range a.Events() {
		s.handle(a, ev)
	}
}

func (s *Supervisor) handle(a provider.Adapter, ev provider.Event) {
	id := a.InstanceID()
	ctx := context.Background()
	unlock := s.lock(id)
	defer unlock()

	if !s.registry.Current(id, a) {
		zap.L().Debug("whatsapp: event from detached adapter", zap.Int64("instance_id", id))
		return
	}
	switch e := ev.(type) {
	case provider.QRIssued:
		s.onQR(ctx, id, e.Code)
	case provider.StateChanged:
		switch e.State {
		case provider.StateOpen:
			s.onOpen(ctx, id, e.Identity)
		case provider.StateClose:
			s.onClose(ctx, a, e.Reason)
		}
	case provider.CredentialsUpdated:
		if err := s.instances.SetSessionRef(ctx, id, e.Ref); err != nil {
			zap.L().Error("whatsapp: save session ref", zap.Int64("instance_id", id), zap.Error(err))
		}
	case provider.MessageReceived:
		if s.pipeline != nil {
			s.pipeline.Ingest(ctx, id, a, e.Message)
		}
	case provider.MessageStatusChanged:
		if s.pipeline != nil {
			s.pipeline.ApplyStatus(ctx, id, e.Key.ID, e.Raw)
		}
	}
}

func (s *Supervisor) onQR(ctx context.Context, id int64, code string) {
	image, err := encodeQR(code)
	if err != nil {
		zap.L().Error("whatsapp: qr encode", zap.Int64("instance_id", id), zap.Error(err))
		return
	}
	expiresAt := s.now().Add(s.cfg.QRTTL)
	if err := s.instances.SaveQR(ctx, id, image, code, expiresAt); err != nil {
		zap.L().Error("whatsapp: save qr", zap.Int64("instance_id", id), zap.Error(err))
		return
	}
	s.qrExpiry.Schedule(id, s.cfg.QRTTL, func() { s.expireQR(id, code) })
	s.publisher.Publish(notify.EventQRCode, notify.QRPayload{InstanceID: id, QRCode: image, Raw: code, ExpiresAt: expiresAt})
	s.recordStatus(ctx, id, domain.InstanceQRReady, "qr", "", nil)
}

func (s *Supervisor) expireQR(id int64, code string) {
	unlock := s.lock(id)
	defer unlock()
	cleared, err := s.instances.ClearQRIfRaw(context.Background(), id, code)
	if err != nil {
		zap.L().Warn("whatsapp: expire qr", zap.Int64("instance_id", id), zap.Error(err))
		return
	}
	if cleared {
		zap.L().Debug("whatsapp: qr expired", zap.Int64("instance_id", id))
	}
}

func (s *Supervisor) onOpen(ctx context.Context, id int64, me *provider.Identity) {
	s.qrExpiry.Cancel(id)
	var phone, name string
	if me != nil {
		phone, name = me.Phone, me.PushName
		if me.JID != "" {
			if inst, err := s.instances.GetByID(ctx, id); err == nil && inst.SessionRef == "" {
				if err := s.instances.SetSessionRef(ctx, id, me.JID); err != nil {
					zap.L().Error("whatsapp: save session ref", zap.Int64("instance_id", id), zap.Error(err))
				}
			}
		}
	}
	if err := s.instances.MarkConnected(ctx, id, phone, name, s.now()); err != nil {
		zap.L().Error("whatsapp: mark connected", zap.Int64("instance_id", id), zap.Error(err))
		return
	}
	payload := notify.InstancePayload{InstanceID: id, Status: string(domain.InstanceConnected), Phone: phone, ProfileName: name}
	s.publisher.Publish(notify.EventInstanceConnected, payload)
	s.recordStatus(ctx, id, domain.InstanceConnected, "connected", "", &payload)
	zap.L().Info("whatsapp: instance connected", zap.Int64("instance_id", id), zap.String("phone", phone))
}

func (s *Supervisor) onClose(ctx context.Context, a provider.Adapter, reason *provider.DisconnectReason) {
	id := a.InstanceID()
	msg := ""
	if reason != nil {
		msg = reason.Message
	}
	if reason.Terminal() {
		s.registry.RemoveIf(id, a)
		_ = a.Disconnect(ctx, false)
		s.reconnects.Cancel(id)
		if inst, err := s.instances.GetByID(ctx, id); err == nil {
			s.dropCredentials(ctx, inst)
		}
		s.setStatus(ctx, id, domain.InstanceDisconnected, "logout", msg)
		zap.L().Warn("whatsapp: session ended", zap.Int64("instance_id", id), zap.String("reason", msg))
		return
	}

	s.setStatus(ctx, id, domain.InstanceClosed, "closed", msg)
	metrics.Inc(MetricReconnects)
	s.reconnects.Schedule(id, s.cfg.ReconnectDelay, func() { s.reconnect(id) })
	zap.L().Info("whatsapp: connection closed, reconnect scheduled",
		zap.Int64("instance_id", id),
		zap.String("reason", msg),
		zap.Duration("delay", s.cfg.ReconnectDelay))
}

// reconnect runs from the reconnect timer. A timer that already fired is not
// reachable by Cancel, so the instance must still be closed once the lock is held.
func (s *Supervisor) reconnect(id int64) {
	if s.stopped.Load() {
		return
	}
	ctx := context.Background()
	unlock := s.lock(id)
	defer unlock()

	inst, err := s.getInstance(ctx, id)
	if err != nil {
		zap.L().Debug("whatsapp: reconnect skipped", zap.Int64("instance_id", id), zap.Error(err))
		return
	}
	if inst.Status != domain.InstanceClosed || s.reconnects.Pending(id) {
		zap.L().Debug("whatsapp: reconnect superseded",
			zap.Int64("instance_id", id), zap.String("status", string(inst.Status)))
		return
	}
	if _, err := s.connectLocked(ctx, inst); err != nil {
		zap.L().Warn("whatsapp: reconnect failed", zap.Int64("instance_id", id), zap.Error(err))
	}
}

// ClearExpiredQR clears stored QR payloads whose expiry has passed.
func (s *Supervisor) ClearExpiredQR(ctx context.Context) (int64, error) {
	return s.instances.ClearExpiredQR(ctx, s.now())
}

func (s *Supervisor) setStatus(ctx context.Context, id int64, status domain.InstanceStatus, action, reason string) {
	if err := s.instances.UpdateStatus(ctx, id, status); err != nil {
		zap.L().Error("whatsapp: update status",
			zap.Int64("instance_id", id), zap.String("status", string(status)), zap.Error(err))
		return
	}
	s.recordStatus(ctx, id, status, action, reason, nil)
}

// recordStatus audits and publishes a status already written to the store.
func (s *Supervisor) recordStatus(ctx context.Context, id int64, status domain.InstanceStatus, action, reason string, payload *notify.InstancePayload) {
	err := s.instances.AppendLog(ctx, &domain.InstanceLog{
		InstanceID: id,
		Action:     action,
		Status:     string(status),
		Reason:     reason,
	})
	if err != nil {
		zap.L().Warn("whatsapp: append instance log", zap.Int64("instance_id", id), zap.Error(err))
	}

	s.connMu.Lock()
	if status == domain.InstanceConnected {
		s.connected[id] = true
	} else {
		delete(s.connected, id)
	}
	n := len(s.connected)
	s.connMu.Unlock()
	metrics.SetGauge(MetricConnectedInstances, int64(n))

	if payload == nil {
		payload = &notify.InstancePayload{InstanceID: id, Status: string(status)}
	}
	payload.Reason = reason
	s.publisher.Publish(notify.EventInstanceStatusChanged, *payload)
}
