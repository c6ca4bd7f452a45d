package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/app"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/media"
	"github.com/talkincode/toughwa/internal/notify"
	"github.com/talkincode/toughwa/internal/repository"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
)

const (
	defaultWorkers      = 16
	autoConnectLimit    = 8
	qrSweepSpec         = "@every 30s"
	idleTicketSweepSpec = "@hourly"
)

// Service owns the session core of the process: registry, supervisor,
// ingestion pipeline and router, all sharing the application database.
type Service struct {
	app        app.AppContext
	store      *repository.Store
	bus        *notify.Bus
	pool       *ants.Pool
	registry   *Registry
	supervisor *Supervisor
	pipeline   *Pipeline
	router     *Router
}

// New builds the service over whatsmeow, storing device credentials in the
// application database next to the CRM tables.
func New(a app.AppContext) (*Service, error) {
	sqlDB, err := a.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("whatsapp: obtain sql.DB: %w", err)
	}
	dialect := "postgres"
	switch strings.ToLower(strings.TrimSpace(a.Config().Database.Type)) {
	case "sqlite", "sqlite3":
		dialect = "sqlite3"
		// sqlstore migrations rely on foreign keys
		if _, err := sqlDB.ExecContext(context.Background(), "PRAGMA foreign_keys = ON;"); err != nil {
			zap.L().Warn("whatsapp: unable to enable sqlite foreign_keys pragma", zap.Error(err))
		}
	}
	container := sqlstore.NewWithDB(sqlDB, dialect, provider.NewZapLogger(zap.L().Named("sqlstore")))
	if err := container.Upgrade(context.Background()); err != nil {
		zap.L().Error("whatsapp: sqlstore upgrade failed", zap.Error(err), zap.String("dialect", dialect))
		return nil, fmt.Errorf("whatsapp: sqlstore upgrade: %w", err)
	}
	dialer := provider.NewMeowDialer(container, provider.DeviceDescriptor{OSName: a.Config().WhatsApp.DeviceOS})
	return NewWithDialer(a, dialer, provider.NewMeowCredentialStore(container))
}

// NewWithDialer builds the service over any socket dialer and credential store.
func NewWithDialer(a app.AppContext, dialer provider.Dialer, creds provider.CredentialStore) (*Service, error) {
	cfg := a.Config()
	workers := cfg.WhatsApp.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		zap.L().Error("whatsapp: worker panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: worker pool: %w", err)
	}
	storage, err := media.NewDiskStorage(cfg.GetMediaDir(), cfg.Media.PublicPrefix)
	if err != nil {
		pool.Release()
		return nil, err
	}

	store := repository.NewGormStore(a.DB())
	bus := notify.NewBus()
	registry := NewRegistry()
	pipeline := NewPipeline(store, registry, storage, bus, pool)
	supervisor := NewSupervisor(store.Instances, registry, provider.NewFactory(dialer), creds, bus, pipeline, SupervisorConfig{
		QRTTL:          cfg.QRTTL(),
		ReconnectDelay: cfg.ReconnectDelay(),
	})
	return &Service{
		app:        a,
		store:      store,
		bus:        bus,
		pool:       pool,
		registry:   registry,
		supervisor: supervisor,
		pipeline:   pipeline,
		router:     NewRouter(supervisor, registry, pipeline),
	}, nil
}

func (s *Service) Router() *Router {
	return s.router
}

func (s *Service) Bus() *notify.Bus {
	return s.bus
}

func (s *Service) Store() *repository.Store {
	return s.store
}

func (s *Service) Config() *config.AppConfig {
	return s.app.Config()
}

// Start registers the maintenance jobs and, when enabled, reconnects every
// instance that holds credentials.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.SubscribeAll(notify.LogSubscriber); err != nil {
		return fmt.Errorf("whatsapp: subscribe log: %w", err)
	}
	if sched := s.app.Scheduler(); sched != nil {
		if _, err := sched.AddFunc(qrSweepSpec, s.sweepExpiredQR); err != nil {
			zap.L().Error("whatsapp: schedule qr sweep", zap.Error(err))
		}
		if _, err := sched.AddFunc(idleTicketSweepSpec, s.closeIdleTickets); err != nil {
			zap.L().Error("whatsapp: schedule idle ticket sweep", zap.Error(err))
		}
	}
	if !s.app.Config().WhatsApp.AutoConnect {
		return nil
	}
	return s.ConnectAll(ctx)
}

// ConnectAll connects every instance holding a session reference concurrently.
// Individual failures are logged, not returned.
func (s *Service) ConnectAll(ctx context.Context) error {
	instances, err := s.store.Instances.ListWithSession(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(autoConnectLimit)
	for _, inst := range instances {
		id := inst.ID
		g.Go(func() error {
			res, err := s.supervisor.Connect(gctx, id)
			if err != nil {
				zap.L().Warn("whatsapp: auto connect failed", zap.Int64("instance_id", id), zap.Error(err))
				return nil
			}
			zap.L().Info("whatsapp: auto connect", zap.Int64("instance_id", id), zap.Bool("already_connected", res.AlreadyConnected))
			return nil
		})
	}
	return g.Wait()
}

// CreateInstance adds a disconnected instance bound to provider.
func (s *Service) CreateInstance(ctx context.Context, name string, p domain.Provider) (*domain.Instance, error) {
	switch p {
	case domain.ProviderNativeFlow, domain.ProviderTemplate:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	inst := &domain.Instance{Name: name, Provider: p, Status: domain.InstanceDisconnected}
	if err := s.store.Instances.Create(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Stop ends every session without deleting credentials and drains workers.
func (s *Service) Stop(ctx context.Context) {
	s.supervisor.Stop(ctx)
	s.bus.Wait()
	s.pool.Release()
}

func (s *Service) sweepExpiredQR() {
	n, err := s.supervisor.ClearExpiredQR(context.Background())
	if err != nil {
		zap.L().Error("whatsapp: qr sweep", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Debug("whatsapp: cleared expired qr", zap.Int64("count", n))
	}
}

func (s *Service) closeIdleTickets() {
	hours := s.app.Config().WhatsApp.TicketIdleHours
	if hours <= 0 {
		return
	}
	before := time.Now().Add(-time.Duration(hours) * time.Hour)
	n, err := s.store.Tickets.CloseIdle(context.Background(), before)
	if err != nil {
		zap.L().Error("whatsapp: close idle tickets", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("whatsapp: closed idle tickets", zap.Int64("count", n))
	}
}
