package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/repository/repotest"
	"github.com/talkincode/toughwa/internal/whatsapp"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
	"github.com/talkincode/toughwa/internal/whatsapp/provider/providertest"
	"github.com/talkincode/toughwa/pkg/metrics"
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

type fixture struct {
	server *Server
	svc    *whatsapp.Service
	dialer *providertest.Dialer
	creds  *providertest.CredentialStore
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.System.Workdir = t.TempDir()
	cfg.Media.Root = t.TempDir()
	cfg.WhatsApp.Workers = 2
	cfg.Web.Secret = secret
	a := &testApp{db: repotest.OpenDB(t), cfg: &cfg, sched: cron.New()}
	dialer := providertest.NewDialer()
	creds := providertest.NewCredentialStore()
	svc, err := whatsapp.NewWithDialer(a, dialer, creds)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return &fixture{server: NewServer(cfg.Web, svc), svc: svc, dialer: dialer, creds: creds}
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T, p domain.Provider) *domain.Instance {
	t.Helper()
	inst, err := f.svc.CreateInstance(context.Background(), "shop", p)
	require.NoError(t, err)
	return inst
}

// connect pairs the instance through stored credentials and opens the socket.
func (f *fixture) connect(t *testing.T, inst *domain.Instance) *providertest.Socket {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.Store().Instances.SetSessionRef(ctx, inst.ID, "ref-"+strconv.FormatInt(inst.ID, 10)))
	f.creds.Put("ref-" + strconv.FormatInt(inst.ID, 10))
	_, err := f.svc.Router().Connect(ctx, inst.ID)
	require.NoError(t, err)
	sock := f.dialer.Latest(inst.ID)
	require.NotNil(t, sock)
	sock.Emit(provider.ConnectionUpdate{
		Connection: provider.StateOpen,
		Me:         &provider.Identity{JID: "5511999990000:3@s.whatsapp.net", Phone: "5511999990000", PushName: "Shop"},
	})
	require.Eventually(t, func() bool {
		got, err := f.svc.Store().Instances.GetByID(ctx, inst.ID)
		return err == nil && got.Status == domain.InstanceConnected
	}, 2*time.Second, 10*time.Millisecond)
	return sock
}

func path(inst *domain.Instance, suffix string) string {
	return "/api/v1/instances/" + strconv.FormatInt(inst.ID, 10) + suffix
}

func TestCreateAndListInstances(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/api/v1/instances", `{"name":" support ","provider":"template"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"name":"support"`)
	assert.Contains(t, rec.Body.String(), `"provider":"template"`)
	assert.Contains(t, rec.Body.String(), `"status":"disconnected"`)

	rec = f.do(http.MethodPost, "/api/v1/instances", `{"name":"other"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider":"native_flow"`)

	rec = f.do(http.MethodGet, "/api/v1/instances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"support"`)
	assert.Contains(t, rec.Body.String(), `"other"`)
}

func TestCreateInstanceValidation(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/api/v1/instances", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_FIELDS")

	rec = f.do(http.MethodPost, "/api/v1/instances", `{"name":"x","provider":"fax"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNKNOWN_PROVIDER")

	rec = f.do(http.MethodPost, "/api/v1/instances", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}

func TestGetInstance(t *testing.T) {
	f := newFixture(t, "")
	inst := f.create(t, domain.ProviderNativeFlow)

	rec := f.do(http.MethodGet, path(inst, ""), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"`+strconv.FormatInt(inst.ID, 10)+`"`)
	assert.NotContains(t, rec.Body.String(), "session_ref")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/instances/42", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/instances/abc", "").Code)
}

func TestConnectIssuesQR(t *testing.T) {
	f := newFixture(t, "")
	inst := f.create(t, domain.ProviderNativeFlow)

	rec := f.do(http.MethodGet, path(inst, "/qr"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_qr":false`)

	rec = f.do(http.MethodPost, path(inst, "/connect"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"qr_expected":true`)

	sock := f.dialer.Latest(inst.ID)
	require.NotNil(t, sock)
	sock.Emit(provider.ConnectionUpdate{QR: "2@pairing-code"})
	require.Eventually(t, func() bool {
		rec := f.do(http.MethodGet, path(inst, "/qr"), "")
		return strings.Contains(rec.Body.String(), `"has_qr":true`)
	}, 2*time.Second, 10*time.Millisecond)

	rec = f.do(http.MethodGet, path(inst, "/qr"), "")
	assert.Contains(t, rec.Body.String(), `"qr_code":"data:image/png;base64,`)
	assert.Contains(t, rec.Body.String(), `"status":"qr_ready"`)
}

func TestConnectUnknownInstance(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/api/v1/instances/77/connect", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "INSTANCE_NOT_FOUND")
}

func TestDisconnectAndRemove(t *testing.T) {
	f := newFixture(t, "")
	inst := f.create(t, domain.ProviderNativeFlow)
	sock := f.connect(t, inst)

	rec := f.do(http.MethodPost, path(inst, "/disconnect"), `{"logout":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"logout":true`)
	assert.True(t, sock.LoggedOut())

	rec = f.do(http.MethodPost, path(inst, "/disconnect"), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, path(inst, ""), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, path(inst, ""), "").Code)
}

func TestSendText(t *testing.T) {
	f := newFixture(t, "")
	inst := f.create(t, domain.ProviderNativeFlow)

	rec := f.do(http.MethodPost, path(inst, "/messages/text"), `{"to":"5511988887777","text":"hi"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_CONNECTED")

	sock := f.connect(t, inst)
	rec = f.do(http.MethodPost, path(inst, "/messages/text"), `{"to":"5511988887777","text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id":"OUT1"`)
	require.Len(t, sock.Sent(), 1)
	assert.Equal(t, "hi", sock.Sent()[0].Message.GetConversation())

	rec = f.do(http.MethodPost, path(inst, "/messages/text"), `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_FIELDS")
}

func TestSendCarouselOnTemplateIsUnprocessable(t *testing.T) {
	f := newFixture(t, "")
	inst := f.create(t, domain.ProviderTemplate)
	f.connect(t, inst)

	rec := f.do(http.MethodPost, path(inst, "/messages/carousel"),
		`{"to":"5511988887777","text":"pick","cards":[{"title":"A","body":"a"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "carousel on template")
}

func TestSendPollAndTicketMessages(t *testing.T) {
	f := newFixture(t, "")
	inst := f.create(t, domain.ProviderNativeFlow)
	sock := f.connect(t, inst)

	rec := f.do(http.MethodPost, path(inst, "/messages/poll"),
		`{"to":"5511988887777","name":"Lunch?","options":["yes","no"],"selectable":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, sock.Sent(), 1)

	rec = f.do(http.MethodGet, "/api/v1/tickets/999/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func ticketPath(id int64, suffix string) string {
	return "/api/v1/tickets/" + strconv.FormatInt(id, 10) + suffix
}

func TestCloseAndReopenTicket(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	tk := &domain.Ticket{ContactID: 1, InstanceID: 2}
	require.NoError(t, f.svc.Store().Tickets.Create(ctx, tk))

	rec := f.do(http.MethodPost, ticketPath(tk.ID, "/close"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"closed"`)
	active, err := f.svc.Store().Tickets.FindActive(ctx, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, active)

	rec = f.do(http.MethodPost, ticketPath(tk.ID, "/reopen"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"merged":false`)
	assert.Contains(t, rec.Body.String(), `"status":"open"`)
	got, err := f.svc.Store().Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketOpen, got.Status)
}

func TestReopenTicketMergesIntoActive(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	old := &domain.Ticket{ContactID: 1, InstanceID: 2, Status: domain.TicketClosed}
	require.NoError(t, f.svc.Store().Tickets.Create(ctx, old))
	current := &domain.Ticket{ContactID: 1, InstanceID: 2}
	require.NoError(t, f.svc.Store().Tickets.Create(ctx, current))
	require.NoError(t, f.svc.Store().Messages.Create(ctx, &domain.Message{
		TicketID: old.ID, ContactID: 1, InstanceID: 2, ProviderMessageID: "m1",
		Direction: domain.DirectionInbound, Type: domain.MessageText, Timestamp: time.Now(),
	}))

	rec := f.do(http.MethodPost, ticketPath(old.ID, "/reopen"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"merged":true`)
	assert.Contains(t, rec.Body.String(), `"id":"`+strconv.FormatInt(current.ID, 10)+`"`)

	rec = f.do(http.MethodGet, ticketPath(current.ID, "/messages"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider_message_id":"m1"`)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, ticketPath(old.ID, "/reopen"), "").Code)
}

func TestTicketRoutesUnknownTicket(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, ticketPath(404, "/close"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "TICKET_NOT_FOUND")
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, ticketPath(404, "/reopen"), "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/tickets/x/close", "").Code)
}

func TestIssueTokenNeedsSecret(t *testing.T) {
	_, err := IssueToken("", "admin", time.Hour)
	assert.Error(t, err)
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, "s3cret")

	forged, err := IssueToken("other", "admin", time.Hour)
	require.NoError(t, err)
	rec := f.do(http.MethodGet, "/api/v1/instances", "", "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken("s3cret", "admin", -time.Minute)
	require.NoError(t, err)
	rec = f.do(http.MethodGet, "/api/v1/instances", "", "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := IssueToken("s3cret", "admin", time.Hour)
	require.NoError(t, err)
	rec = f.do(http.MethodGet, "/api/v1/instances", "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/instances", "")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestMetricsRoutes(t *testing.T) {
	require.NoError(t, metrics.InitMetrics(t.TempDir()))
	t.Cleanup(func() { _ = metrics.Close() })
	f := newFixture(t, "")
	total := metrics.Inc(whatsapp.MetricReconnects)

	rec := f.do(http.MethodGet, "/api/v1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var current struct {
		Data struct {
			Counters map[string]int64 `json:"counters"`
			Gauges   map[string]int64 `json:"gauges"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, total, current.Data.Counters[whatsapp.MetricReconnects])
	assert.Contains(t, current.Data.Gauges, whatsapp.MetricConnectedInstances)

	rec = f.do(http.MethodGet, "/api/v1/metrics/"+whatsapp.MetricReconnects+"?hours=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Data []metricPoint `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.NotEmpty(t, history.Data)
	assert.Equal(t, float64(total), history.Data[len(history.Data)-1].Value)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/metrics/nope", "").Code)
}
