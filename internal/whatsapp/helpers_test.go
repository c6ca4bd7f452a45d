package whatsapp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/media"
	"github.com/talkincode/toughwa/internal/notify"
	"github.com/talkincode/toughwa/internal/repository"
	"github.com/talkincode/toughwa/internal/repository/repotest"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
	"github.com/talkincode/toughwa/internal/whatsapp/provider/providertest"
)

const waitFor = 2 * time.Second

type published struct {
	name    string
	payload interface{}
}

// recorder is a synchronous notify.Publisher.
type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(event string, payload interface{}) {
	r.mu.Lock()
	r.events = append(r.events, published{name: event, payload: payload})
	r.mu.Unlock()
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.name)
	}
	return out
}

func (r *recorder) byName(name string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interface{}
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

type harness struct {
	store      *repository.Store
	dialer     *providertest.Dialer
	creds      *providertest.CredentialStore
	events     *recorder
	registry   *Registry
	pipeline   *Pipeline
	supervisor *Supervisor
	router     *Router
	mediaDir   string
}

func newHarness(t *testing.T, cfg SupervisorConfig) *harness {
	t.Helper()
	store, _ := repotest.NewStore(t)
	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	mediaDir := t.TempDir()
	storage, err := media.NewDiskStorage(mediaDir, "/uploads")
	require.NoError(t, err)

	h := &harness{
		mediaDir: mediaDir,
		store:    store,
		dialer:   providertest.NewDialer(),
		creds:    providertest.NewCredentialStore(),
		events:   &recorder{},
		registry: NewRegistry(),
	}
	h.pipeline = NewPipeline(store, h.registry, storage, h.events, pool)
	h.supervisor = NewSupervisor(store.Instances, h.registry, provider.NewFactory(h.dialer), h.creds, h.events, h.pipeline, cfg)
	h.router = NewRouter(h.supervisor, h.registry, h.pipeline)
	t.Cleanup(func() { h.supervisor.Stop(context.Background()) })
	return h
}

func (h *harness) addInstance(t *testing.T, p domain.Provider, ref string) *domain.Instance {
	t.Helper()
	inst := &domain.Instance{Name: "shop", Provider: p, Status: domain.InstanceDisconnected, SessionRef: ref}
	require.NoError(t, h.store.Instances.Create(context.Background(), inst))
	if ref != "" {
		h.creds.Put(ref)
	}
	return inst
}

func (h *harness) instance(t *testing.T, id int64) *domain.Instance {
	t.Helper()
	inst, err := h.store.Instances.GetByID(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func (h *harness) waitStatus(t *testing.T, id int64, status domain.InstanceStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		inst, err := h.store.Instances.GetByID(context.Background(), id)
		return err == nil && inst.Status == status
	}, waitFor, 10*time.Millisecond, "instance never reached %s", status)
}

// waitEvent waits until n events named name have been published.
func (h *harness) waitEvent(t *testing.T, name string, n int) []interface{} {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.events.byName(name)) >= n
	}, waitFor, 10*time.Millisecond, "missing %s event", name)
	return h.events.byName(name)
}

func (h *harness) waitConnected(t *testing.T, id int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, p := range h.events.byName(notify.EventInstanceStatusChanged) {
			if ip := p.(notify.InstancePayload); ip.InstanceID == id && ip.Status == string(domain.InstanceConnected) {
				return true
			}
		}
		return false
	}, waitFor, 10*time.Millisecond, "instance %d never connected", id)
}

// open connects the instance and drives its socket to the open state.
func (h *harness) open(t *testing.T, inst *domain.Instance, phone string) *providertest.Socket {
	t.Helper()
	_, err := h.supervisor.Connect(context.Background(), inst.ID)
	require.NoError(t, err)
	sock := h.dialer.Latest(inst.ID)
	require.NotNil(t, sock)
	sock.Emit(provider.ConnectionUpdate{
		Connection: provider.StateOpen,
		Me:         &provider.Identity{JID: phone + ":7@s.whatsapp.net", Phone: phone, PushName: "Shop"},
	})
	h.waitConnected(t, inst.ID)
	return sock
}
