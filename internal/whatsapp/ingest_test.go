package whatsapp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/notify"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
	"github.com/talkincode/toughwa/internal/whatsapp/provider/providertest"
)

const (
	ownPhone      = "5511999990000"
	customerPhone = "5511988887777"
	customerJID   = customerPhone + "@s.whatsapp.net"
)

type ingestFixture struct {
	*harness
	inst    *domain.Instance
	adapter provider.Adapter
	sock    *providertest.Socket
}

// newIngestFixture returns a connected instance whose adapter is registered
// but not consumed by the supervisor, so tests call the pipeline directly.
func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	h := newHarness(t, fastConfig)
	inst := h.addInstance(t, domain.ProviderNativeFlow, "")
	require.NoError(t, h.store.Instances.MarkConnected(context.Background(), inst.ID, ownPhone, "Shop", time.Now()))
	a := provider.NewNativeFlowAdapter(inst.ID, "", h.dialer)
	_, err := a.Connect(context.Background(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Disconnect(context.Background(), false) })
	h.registry.Put(inst.ID, a)
	return &ingestFixture{harness: h, inst: inst, adapter: a, sock: h.dialer.Latest(inst.ID)}
}

func (f *ingestFixture) ingest(key provider.MessageKey, pushName string, msg *waE2E.Message) {
	f.pipeline.Ingest(context.Background(), f.inst.ID, f.adapter, &provider.RawMessage{
		Key:       key,
		PushName:  pushName,
		Timestamp: time.Unix(1700000100, 0),
		Message:   msg,
	})
}

func (f *ingestFixture) contact(t *testing.T, phone string) *domain.Contact {
	t.Helper()
	c, err := f.store.Contacts.FindByAddressOrPhone(context.Background(), "", phone)
	require.NoError(t, err)
	return c
}

func (f *ingestFixture) messages(t *testing.T, phone string) []*domain.Message {
	t.Helper()
	c := f.contact(t, phone)
	require.NotNil(t, c)
	ticket, err := f.store.Tickets.FindActive(context.Background(), c.ID, f.inst.ID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	items, err := f.store.Messages.ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	return items
}

func text(s string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(s)}
}

func TestIngestCreatesContactTicketAndMessage(t *testing.T) {
	f := newIngestFixture(t)

	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "IN1"}, " Ana\u0007 ", text("hello"))

	c := f.contact(t, customerPhone)
	require.NotNil(t, c)
	assert.Equal(t, "Ana", c.Name)
	assert.Equal(t, customerJID, c.Address)

	items := f.messages(t, customerPhone)
	require.Len(t, items, 1)
	m := items[0]
	assert.Equal(t, "IN1", m.ProviderMessageID)
	assert.Equal(t, domain.DirectionInbound, m.Direction)
	assert.Equal(t, domain.MessageText, m.Type)
	assert.Equal(t, "hello", m.Body)
	assert.Equal(t, domain.StatusDelivered, m.Status)
	assert.Equal(t, int64(1700000100), m.Timestamp.Unix())

	assert.Equal(t, []string{notify.EventNewTicket, notify.EventNewMessage}, f.events.names())
	payload := f.events.byName(notify.EventNewMessage)[0].(notify.MessagePayload)
	assert.Equal(t, m.ID, payload.MessageID)
	assert.Equal(t, "hello", payload.Content)
	ticket := f.events.byName(notify.EventNewTicket)[0].(notify.TicketPayload)
	assert.Equal(t, string(domain.TicketPending), ticket.Status)
}

func TestIngestReusesActiveTicket(t *testing.T) {
	f := newIngestFixture(t)

	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "IN1"}, "Ana", text("one"))
	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "IN2"}, "Ana", text("two"))

	assert.Len(t, f.messages(t, customerPhone), 2)
	assert.Len(t, f.events.byName(notify.EventNewTicket), 1)
	assert.Len(t, f.events.byName(notify.EventNewMessage), 2)
}

func TestIngestDropsDuplicates(t *testing.T) {
	f := newIngestFixture(t)
	key := provider.MessageKey{RemoteJID: customerJID, ID: "IN1"}

	f.ingest(key, "Ana", text("hello"))
	f.ingest(key, "Ana", text("hello"))

	assert.Len(t, f.messages(t, customerPhone), 1)
	assert.Len(t, f.events.byName(notify.EventNewMessage), 1)
}

func TestIngestSkipsUnroutableTraffic(t *testing.T) {
	f := newIngestFixture(t)

	f.ingest(provider.MessageKey{RemoteJID: "status@broadcast", ID: "B1", Participant: customerJID}, "Ana", text("story"))
	f.ingest(provider.MessageKey{RemoteJID: "120363025246125486@g.us", ID: "G1", Participant: customerJID}, "Ana", text("group"))
	f.ingest(provider.MessageKey{RemoteJID: ownPhone + "@s.whatsapp.net", ID: "S1", FromMe: true}, "", text("note to self"))
	f.ingest(provider.MessageKey{RemoteJID: "support-bot@s.whatsapp.net", ID: "N1"}, "Bot", text("who"))

	assert.Nil(t, f.contact(t, customerPhone))
	assert.Nil(t, f.contact(t, ownPhone))
	assert.Empty(t, f.events.names())
}

func TestIngestResolvesOpaqueAddressThroughParticipant(t *testing.T) {
	f := newIngestFixture(t)

	f.ingest(provider.MessageKey{RemoteJID: "223344556677889900@lid", ID: "L1", Participant: customerJID}, "Ana", text("hi"))

	c := f.contact(t, customerPhone)
	require.NotNil(t, c)
	assert.Equal(t, customerJID, c.Address)
	assert.Len(t, f.messages(t, customerPhone), 1)
}

func TestIngestOwnMessageIsOutboundPending(t *testing.T) {
	f := newIngestFixture(t)

	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "ME1", FromMe: true}, "Shop", text("sent from phone"))

	c := f.contact(t, customerPhone)
	require.NotNil(t, c)
	assert.Equal(t, customerPhone, c.Name)
	items := f.messages(t, customerPhone)
	require.Len(t, items, 1)
	assert.Equal(t, domain.DirectionOutbound, items[0].Direction)
	assert.Equal(t, domain.StatusPending, items[0].Status)
}

func TestApplyStatusOnlyMovesForward(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "ME1", FromMe: true}, "", text("hi"))

	f.pipeline.ApplyStatus(ctx, f.inst.ID, "ME1", 3)
	f.pipeline.ApplyStatus(ctx, f.inst.ID, "ME1", "DELIVERY_ACK")
	f.pipeline.ApplyStatus(ctx, f.inst.ID, "ME1", 3)
	f.pipeline.ApplyStatus(ctx, f.inst.ID, "UNKNOWN", 3)

	m, err := f.store.Messages.GetByProviderID(ctx, f.inst.ID, "ME1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, m.Status)
	updates := f.events.byName(notify.EventMessageStatusUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, string(domain.StatusRead), updates[0].(notify.MessageStatusPayload).Status)
}

func TestIngestStoresMedia(t *testing.T) {
	f := newIngestFixture(t)
	f.sock.Media = []byte("\xff\xd8\xff\xe0 jpeg bytes")

	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "IMG1"}, "Ana", &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg"), Caption: proto.String("look")},
	})

	items := f.messages(t, customerPhone)
	require.Len(t, items, 1)
	m := items[0]
	assert.Equal(t, domain.MessageImage, m.Type)
	assert.Equal(t, "look", m.Body)
	assert.Equal(t, "image/jpeg", m.MediaMime)
	assert.True(t, strings.HasPrefix(m.MediaURL, "/uploads/"), m.MediaURL)
	assert.True(t, strings.HasSuffix(m.MediaURL, ".jpg"), m.MediaURL)
}

func TestIngestRedeliveredMediaIsNotStoredTwice(t *testing.T) {
	f := newIngestFixture(t)
	f.sock.Media = []byte("\xff\xd8\xff\xe0 jpeg bytes")
	key := provider.MessageKey{RemoteJID: customerJID, ID: "IMG1"}
	img := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")}}

	f.ingest(key, "Ana", img)
	f.ingest(key, "Ana", img)

	assert.Len(t, f.messages(t, customerPhone), 1)
	files, err := os.ReadDir(f.mediaDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestIngestConcurrentFirstContact(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()
	instances := []*domain.Instance{f.inst}
	for i := 1; i < 4; i++ {
		inst := f.addInstance(t, domain.ProviderNativeFlow, "")
		require.NoError(t, f.store.Instances.MarkConnected(ctx, inst.ID, fmt.Sprintf("55119999900%02d", i), "Shop", time.Now()))
		instances = append(instances, inst)
	}

	// three messages per instance race on the contact and on each ticket
	var wg sync.WaitGroup
	for _, inst := range instances {
		for n := 0; n < 3; n++ {
			wg.Add(1)
			go func(id int64, n int) {
				defer wg.Done()
				f.pipeline.Ingest(ctx, id, f.adapter, &provider.RawMessage{
					Key:       provider.MessageKey{RemoteJID: customerJID, ID: fmt.Sprintf("RACE-%d-%d", id, n)},
					PushName:  "Ana",
					Timestamp: time.Unix(1700000100, 0),
					Message:   text("hi"),
				})
			}(inst.ID, n)
		}
	}
	wg.Wait()

	c := f.contact(t, customerPhone)
	require.NotNil(t, c)
	total := 0
	for _, inst := range instances {
		ticket, err := f.store.Tickets.FindActive(ctx, c.ID, inst.ID)
		require.NoError(t, err)
		require.NotNil(t, ticket)
		items, err := f.store.Messages.ListByTicket(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Len(t, items, 3)
		for _, m := range items {
			assert.Equal(t, c.ID, m.ContactID)
		}
		total += len(items)
	}
	assert.Equal(t, 12, total)
	assert.Len(t, f.events.byName(notify.EventNewTicket), 4)
	assert.Len(t, f.events.byName(notify.EventNewMessage), 12)
}

func TestIngestMediaDownloadFailureKeepsMessage(t *testing.T) {
	f := newIngestFixture(t)

	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "DOC1"}, "Ana", &waE2E.Message{
		DocumentWithCaptionMessage: &waE2E.FutureProofMessage{Message: &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{Mimetype: proto.String("application/pdf"), FileName: proto.String("invoice.pdf")},
		}},
	})

	items := f.messages(t, customerPhone)
	require.Len(t, items, 1)
	assert.Equal(t, domain.MessageDocument, items[0].Type)
	assert.Equal(t, "invoice.pdf", items[0].Body)
	assert.Empty(t, items[0].MediaURL)
}

func TestIngestLocation(t *testing.T) {
	f := newIngestFixture(t)

	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "LOC1"}, "Ana", &waE2E.Message{
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(-23.5505),
			DegreesLongitude: proto.Float64(-46.6333),
			Name:             proto.String("Praça da Sé"),
		},
	})

	m := f.messages(t, customerPhone)[0]
	assert.Equal(t, domain.MessageLocation, m.Type)
	assert.Contains(t, m.MediaURL, "maps.google.com")
	assert.Contains(t, m.Body, `"latitude":-23.5505`)
	assert.Contains(t, m.Body, "Praça da Sé")
}

func TestIngestUnwrapsAndClassifies(t *testing.T) {
	f := newIngestFixture(t)

	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "E1"}, "Ana", &waE2E.Message{
		EphemeralMessage: &waE2E.FutureProofMessage{Message: text("disappearing")},
	})
	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "R1"}, "Ana", &waE2E.Message{
		ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{
			Response: &waE2E.ButtonsResponseMessage_SelectedDisplayText{SelectedDisplayText: "Yes"},
		},
	})
	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "X1"}, "Ana", &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("👍")},
	})

	items := f.messages(t, customerPhone)
	require.Len(t, items, 3)
	byID := map[string]*domain.Message{}
	for _, m := range items {
		byID[m.ProviderMessageID] = m
	}
	assert.Equal(t, "disappearing", byID["E1"].Body)
	assert.Equal(t, domain.MessageText, byID["R1"].Type)
	assert.Equal(t, "Yes", byID["R1"].Body)
	assert.Equal(t, domain.MessageUnsupported, byID["X1"].Type)
}

func TestIngestFetchesProfilePicture(t *testing.T) {
	f := newIngestFixture(t)
	f.sock.ProfileURL = "https://pps.whatsapp.net/v/ana.jpg"

	f.ingest(provider.MessageKey{RemoteJID: customerJID, ID: "IN1"}, "Ana", text("hello"))

	require.Eventually(t, func() bool {
		c, err := f.store.Contacts.FindByAddressOrPhone(context.Background(), "", customerPhone)
		return err == nil && c != nil && c.ProfilePicURL == f.sock.ProfileURL
	}, waitFor, 10*time.Millisecond)
}

func TestSupervisorFeedsPipeline(t *testing.T) {
	h := newHarness(t, fastConfig)
	inst := h.addInstance(t, domain.ProviderNativeFlow, "ref-1")
	sock := h.open(t, inst, ownPhone)

	sock.Emit(provider.MessagesUpsert{Type: provider.UpsertNotify, Messages: []*provider.RawMessage{
		{Key: provider.MessageKey{RemoteJID: customerJID, ID: "IN1"}, PushName: "Ana", Message: text("hello")},
	}})

	h.waitEvent(t, notify.EventNewMessage, 1)
	c, err := h.store.Contacts.FindByAddressOrPhone(context.Background(), "", customerPhone)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestCanonicalAddress(t *testing.T) {
	assert.Equal(t, customerJID, canonicalAddress(customerJID, customerPhone))
	assert.Equal(t, customerJID, canonicalAddress(customerPhone+":12@s.whatsapp.net", customerPhone))
	assert.Equal(t, customerJID, canonicalAddress("223344556677889900@lid", customerPhone))
}
