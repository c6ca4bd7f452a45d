package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/repository/repotest"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
	"github.com/talkincode/toughwa/internal/whatsapp/provider/providertest"
)

type testApp struct {
	db    *gorm.DB
	cfg   *config.AppConfig
	sched *cron.Cron
}

func (a *testApp) DB() *gorm.DB              { return a.db }
func (a *testApp) Config() *config.AppConfig { return a.cfg }
func (a *testApp) Scheduler() *cron.Cron     { return a.sched }
func (a *testApp) MigrateDB(bool) error      { return nil }
func (a *testApp) InitDb()                   {}
func (a *testApp) DropAll()                  {}

func newTestService(t *testing.T, autoConnect bool) (*Service, *providertest.Dialer, *providertest.CredentialStore) {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.System.Workdir = t.TempDir()
	cfg.Media.Root = t.TempDir()
	cfg.WhatsApp.AutoConnect = autoConnect
	cfg.WhatsApp.Workers = 2
	a := &testApp{db: repotest.OpenDB(t), cfg: &cfg, sched: cron.New()}
	dialer := providertest.NewDialer()
	creds := providertest.NewCredentialStore()
	svc, err := NewWithDialer(a, dialer, creds)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc, dialer, creds
}

func TestServiceCreateInstance(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	inst, err := svc.CreateInstance(ctx, "support", domain.ProviderTemplate)
	require.NoError(t, err)
	assert.NotZero(t, inst.ID)
	assert.Equal(t, domain.InstanceDisconnected, inst.Status)

	_, err = svc.CreateInstance(ctx, "other", domain.Provider("carrier_pigeon"))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestServiceStartAutoConnectsPairedInstances(t *testing.T) {
	svc, dialer, creds := newTestService(t, true)
	ctx := context.Background()

	paired, err := svc.CreateInstance(ctx, "paired", domain.ProviderNativeFlow)
	require.NoError(t, err)
	require.NoError(t, svc.Store().Instances.SetSessionRef(ctx, paired.ID, "ref-1"))
	creds.Put("ref-1")
	fresh, err := svc.CreateInstance(ctx, "fresh", domain.ProviderNativeFlow)
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx))

	assert.Equal(t, 1, dialer.Dials(paired.ID))
	assert.Equal(t, 0, dialer.Dials(fresh.ID))
	assert.Len(t, svc.app.Scheduler().Entries(), 2)
}

func TestServiceStartWithoutAutoConnect(t *testing.T) {
	svc, dialer, creds := newTestService(t, false)
	ctx := context.Background()
	inst, err := svc.CreateInstance(ctx, "paired", domain.ProviderNativeFlow)
	require.NoError(t, err)
	require.NoError(t, svc.Store().Instances.SetSessionRef(ctx, inst.ID, "ref-1"))
	creds.Put("ref-1")

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, 0, dialer.Dials(inst.ID))
}

func TestServiceClosesIdleTickets(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	svc.app.Config().WhatsApp.TicketIdleHours = 1
	ctx := context.Background()
	inst, err := svc.CreateInstance(ctx, "support", domain.ProviderNativeFlow)
	require.NoError(t, err)

	_, err = svc.pipeline.RecordOutbound(ctx, inst.ID, customerJID, domain.MessageText, "hi", provider.SendResult{ID: "OUT1", Timestamp: time.Now().Add(-3 * time.Hour)})
	require.NoError(t, err)
	c, err := svc.Store().Contacts.FindByAddressOrPhone(ctx, "", customerPhone)
	require.NoError(t, err)

	svc.closeIdleTickets()

	active, err := svc.Store().Tickets.FindActive(ctx, c.ID, inst.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}
