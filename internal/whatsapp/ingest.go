package whatsapp

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/media"
	"github.com/talkincode/toughwa/internal/notify"
	"github.com/talkincode/toughwa/internal/repository"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
	"github.com/talkincode/toughwa/pkg/common"
	"github.com/talkincode/toughwa/pkg/metrics"
)

const (
	MetricMessagesInbound = "whatsapp_messages_inbound"
	MetricMessagesDropped = "whatsapp_messages_dropped"

	userServer       = "s.whatsapp.net"
	resolveAttempts  = 4
	profileFetchWait = 15 * time.Second
)

var errRetryLookup = stderrors.New("lookup raced with a concurrent create")

// Pipeline turns inbound protocol messages into contacts, tickets and
// messages, and applies delivery acknowledgements.
type Pipeline struct {
	store     *repository.Store
	registry  *Registry
	storage   media.Storage
	publisher notify.Publisher
	pool      *ants.Pool
	now       func() time.Time
}

func NewPipeline(store *repository.Store, registry *Registry, storage media.Storage, publisher notify.Publisher, pool *ants.Pool) *Pipeline {
	return &Pipeline{
		store:     store,
		registry:  registry,
		storage:   storage,
		publisher: publisher,
		pool:      pool,
		now:       time.Now,
	}
}

// Ingest persists one inbound message event. Failures are logged and the
// message is skipped; the event stream always continues.
func (p *Pipeline) Ingest(ctx context.Context, instanceID int64, a provider.Adapter, msg *provider.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Inc(MetricMessagesDropped)
			zap.L().Error("whatsapp: ingest panic", zap.Int64("instance_id", instanceID), zap.Any("panic", r))
		}
	}()
	if msg == nil || msg.Message == nil {
		return
	}
	if err := p.ingest(ctx, instanceID, a, msg); err != nil {
		metrics.Inc(MetricMessagesDropped)
		zap.L().Error("whatsapp: ingest message",
			zap.Int64("instance_id", instanceID),
			zap.String("message_id", msg.Key.ID),
			zap.Error(err))
	}
}

func (p *Pipeline) skip(instanceID int64, key provider.MessageKey, reason string) error {
	metrics.Inc(MetricMessagesDropped)
	zap.L().Debug("whatsapp: message skipped",
		zap.Int64("instance_id", instanceID),
		zap.String("remote_jid", key.RemoteJID),
		zap.String("reason", reason))
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, instanceID int64, a provider.Adapter, msg *provider.RawMessage) error {
	key := msg.Key
	if isBroadcast(key.RemoteJID) {
		return p.skip(instanceID, key, "broadcast")
	}
	if isGroup(key.RemoteJID) {
		return p.skip(instanceID, key, "group")
	}
	phone, ok := ResolveIdentity(key.RemoteJID, key.Participant)
	if !ok {
		return p.skip(instanceID, key, "unresolved identity")
	}
	inst, err := p.store.Instances.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Phone != "" && inst.Phone == phone {
		return p.skip(instanceID, key, "self note")
	}
	// redeliveries are dropped before any media is downloaded
	known, err := p.store.Messages.GetByProviderID(ctx, instanceID, key.ID)
	if err != nil {
		return err
	}
	if known != nil {
		return p.skip(instanceID, key, "duplicate")
	}

	name := ""
	if !key.FromMe {
		name = cleanName(msg.PushName)
	}
	contact, err := p.resolveContact(ctx, instanceID, canonicalAddress(key.RemoteJID, phone), phone, name)
	if err != nil {
		return err
	}
	ticket, err := p.resolveTicket(ctx, instanceID, contact.ID)
	if err != nil {
		return err
	}

	content := p.extract(ctx, a, msg.Message)
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	m := &domain.Message{
		TicketID:          ticket.ID,
		ContactID:         contact.ID,
		InstanceID:        instanceID,
		ProviderMessageID: key.ID,
		Direction:         domain.DirectionInbound,
		Type:              content.Type,
		Body:              content.Body,
		MediaURL:          content.MediaURL,
		MediaMime:         content.Mime,
		Status:            domain.StatusDelivered,
		Timestamp:         ts,
	}
	if key.FromMe {
		m.Direction = domain.DirectionOutbound
		m.Status = domain.StatusPending
	}
	if err := p.store.Messages.Create(ctx, m); err != nil {
		if stderrors.Is(err, repository.ErrDuplicate) {
			return p.skip(instanceID, key, "duplicate")
		}
		return err
	}
	if m.Direction == domain.DirectionInbound {
		if err := p.store.Contacts.Touch(ctx, contact.ID, ts); err != nil {
			zap.L().Warn("whatsapp: touch contact", zap.Int64("contact_id", contact.ID), zap.Error(err))
		}
	}
	if err := p.store.Tickets.Touch(ctx, ticket.ID, ts); err != nil {
		zap.L().Warn("whatsapp: touch ticket", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}

	metrics.Inc(MetricMessagesInbound)
	p.publisher.Publish(notify.EventNewMessage, messagePayload(m))
	return nil
}

// ApplyStatus advances the stored delivery status. Lower or equal statuses
// are ignored, so repeated and late acknowledgements are harmless.
func (p *Pipeline) ApplyStatus(ctx context.Context, instanceID int64, providerMessageID string, raw interface{}) {
	status := NormalizeStatus(raw)
	m, changed, err := p.store.Messages.AdvanceStatus(ctx, instanceID, providerMessageID, status)
	if err != nil {
		zap.L().Error("whatsapp: apply message status",
			zap.Int64("instance_id", instanceID),
			zap.String("message_id", providerMessageID),
			zap.Error(err))
		return
	}
	if m == nil {
		zap.L().Debug("whatsapp: status for unknown message",
			zap.Int64("instance_id", instanceID), zap.String("message_id", providerMessageID))
		return
	}
	if changed {
		p.publisher.Publish(notify.EventMessageStatusUpdated, notify.MessageStatusPayload{
			InstanceID:        instanceID,
			MessageID:         m.ID,
			ProviderMessageID: providerMessageID,
			Status:            string(m.Status),
		})
	}
}

// RecordOutbound stores a message accepted by the provider. It is created
// pending and then acknowledged as sent.
func (p *Pipeline) RecordOutbound(ctx context.Context, instanceID int64, to string, typ domain.MessageType, body string, res provider.SendResult) (*domain.Message, error) {
	phone, ok := ResolveIdentity(to, "")
	if !ok {
		return nil, errors.Errorf("unresolvable recipient %q", to)
	}
	contact, err := p.resolveContact(ctx, instanceID, canonicalAddress(to, phone), phone, "")
	if err != nil {
		return nil, err
	}
	ticket, err := p.resolveTicket(ctx, instanceID, contact.ID)
	if err != nil {
		return nil, err
	}
	ts := res.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	m := &domain.Message{
		TicketID:          ticket.ID,
		ContactID:         contact.ID,
		InstanceID:        instanceID,
		ProviderMessageID: res.ID,
		Direction:         domain.DirectionOutbound,
		Type:              typ,
		Body:              body,
		Status:            domain.StatusPending,
		Timestamp:         ts,
	}
	if err := p.store.Messages.Create(ctx, m); err != nil {
		return nil, err
	}
	if _, changed, err := p.store.Messages.AdvanceStatus(ctx, instanceID, res.ID, domain.StatusSent); err == nil && changed {
		m.Status = domain.StatusSent
	}
	if err := p.store.Tickets.Touch(ctx, ticket.ID, ts); err != nil {
		zap.L().Warn("whatsapp: touch ticket", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
	p.publisher.Publish(notify.EventNewMessage, messagePayload(m))
	return m, nil
}

type resolvedContact struct {
	contact *domain.Contact
	created bool
}

func retryPolicy() backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return backoff.WithBackOff(b)
}

// resolveContact looks the contact up by phone or address and creates it on
// miss. A create that loses a race retries the lookup.
func (p *Pipeline) resolveContact(ctx context.Context, instanceID int64, address, phone, name string) (*domain.Contact, error) {
	res, err := backoff.Retry(ctx, func() (resolvedContact, error) {
		c, err := p.store.Contacts.FindByAddressOrPhone(ctx, address, phone)
		if err != nil {
			return resolvedContact{}, backoff.Permanent(err)
		}
		if c != nil {
			return resolvedContact{contact: c}, nil
		}
		c = &domain.Contact{Name: common.If(name != "", name, phone), Phone: phone, Address: address}
		err = p.store.Contacts.Create(ctx, c)
		if stderrors.Is(err, repository.ErrDuplicate) {
			return resolvedContact{}, errRetryLookup
		}
		if err != nil {
			return resolvedContact{}, backoff.Permanent(err)
		}
		return resolvedContact{contact: c, created: true}, nil
	}, retryPolicy(), backoff.WithMaxTries(resolveAttempts))
	if err != nil {
		return nil, errors.Wrap(err, "resolve contact")
	}

	c := res.contact
	if !res.created && address != "" && c.Address != address {
		if err := p.store.Contacts.UpdateAddress(ctx, c.ID, address); err != nil {
			zap.L().Warn("whatsapp: update contact address", zap.Int64("contact_id", c.ID), zap.Error(err))
		} else {
			c.Address = address
		}
	}
	if res.created {
		p.fetchProfilePicture(instanceID, c.ID, address)
	}
	return c, nil
}

type resolvedTicket struct {
	ticket  *domain.Ticket
	created bool
}

func (p *Pipeline) resolveTicket(ctx context.Context, instanceID, contactID int64) (*domain.Ticket, error) {
	res, err := backoff.Retry(ctx, func() (resolvedTicket, error) {
		t, err := p.store.Tickets.FindActive(ctx, contactID, instanceID)
		if err != nil {
			return resolvedTicket{}, backoff.Permanent(err)
		}
		if t != nil {
			return resolvedTicket{ticket: t}, nil
		}
		t = &domain.Ticket{ContactID: contactID, InstanceID: instanceID, Status: domain.TicketPending}
		err = p.store.Tickets.Create(ctx, t)
		if stderrors.Is(err, repository.ErrDuplicate) {
			return resolvedTicket{}, errRetryLookup
		}
		if err != nil {
			return resolvedTicket{}, backoff.Permanent(err)
		}
		return resolvedTicket{ticket: t, created: true}, nil
	}, retryPolicy(), backoff.WithMaxTries(resolveAttempts))
	if err != nil {
		return nil, errors.Wrap(err, "resolve ticket")
	}
	if res.created {
		p.publisher.Publish(notify.EventNewTicket, notify.TicketPayload{
			InstanceID: instanceID,
			TicketID:   res.ticket.ID,
			ContactID:  contactID,
			Status:     string(res.ticket.Status),
		})
	}
	return res.ticket, nil
}

// fetchProfilePicture runs on the worker pool; the adapter is looked up when
// the job runs so a reconnect in between is picked up.
func (p *Pipeline) fetchProfilePicture(instanceID, contactID int64, address string) {
	if p.pool == nil || address == "" {
		return
	}
	err := p.pool.Submit(func() {
		a, ok := p.registry.Get(instanceID)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), profileFetchWait)
		defer cancel()
		url, err := a.ProfilePictureURL(ctx, address)
		if err != nil || url == "" {
			zap.L().Debug("whatsapp: no profile picture", zap.Int64("contact_id", contactID), zap.Error(err))
			return
		}
		if err := p.store.Contacts.UpdateProfilePic(ctx, contactID, url); err != nil {
			zap.L().Warn("whatsapp: save profile picture", zap.Int64("contact_id", contactID), zap.Error(err))
		}
	})
	if err != nil {
		zap.L().Warn("whatsapp: profile picture job rejected", zap.Int64("contact_id", contactID), zap.Error(err))
	}
}

type content struct {
	Type     domain.MessageType
	Body     string
	MediaURL string
	Mime     string
}

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url"`
}

// extract dispatches on the message content type. Media that cannot be
// downloaded or stored degrades to an empty media reference.
func (p *Pipeline) extract(ctx context.Context, a provider.Adapter, m *waE2E.Message) content {
	m = unwrap(m)
	switch {
	case m.GetConversation() != "":
		return content{Type: domain.MessageText, Body: m.GetConversation()}
	case m.GetExtendedTextMessage() != nil:
		return content{Type: domain.MessageText, Body: m.GetExtendedTextMessage().GetText()}
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		return p.mediaContent(ctx, a, domain.MessageImage, img, img.GetMimetype(), img.GetCaption())
	case m.GetVideoMessage() != nil:
		v := m.GetVideoMessage()
		return p.mediaContent(ctx, a, domain.MessageVideo, v, v.GetMimetype(), v.GetCaption())
	case m.GetAudioMessage() != nil:
		au := m.GetAudioMessage()
		return p.mediaContent(ctx, a, domain.MessageAudio, au, au.GetMimetype(), "")
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		body := common.If(doc.GetCaption() != "", doc.GetCaption(), doc.GetFileName())
		return p.mediaContent(ctx, a, domain.MessageDocument, doc, doc.GetMimetype(), body)
	case m.GetStickerMessage() != nil:
		st := m.GetStickerMessage()
		return p.mediaContent(ctx, a, domain.MessageSticker, st, st.GetMimetype(), "")
	case m.GetLocationMessage() != nil:
		return locationContent(m.GetLocationMessage())
	case m.GetButtonsResponseMessage() != nil:
		return content{Type: domain.MessageText, Body: m.GetButtonsResponseMessage().GetSelectedDisplayText()}
	case m.GetTemplateButtonReplyMessage() != nil:
		return content{Type: domain.MessageText, Body: m.GetTemplateButtonReplyMessage().GetSelectedDisplayText()}
	case m.GetListResponseMessage() != nil:
		return content{Type: domain.MessageText, Body: m.GetListResponseMessage().GetTitle()}
	case m.GetInteractiveResponseMessage() != nil:
		return content{Type: domain.MessageText, Body: m.GetInteractiveResponseMessage().GetBody().GetText()}
	default:
		return content{Type: domain.MessageUnsupported}
	}
}

func (p *Pipeline) mediaContent(ctx context.Context, a provider.Adapter, typ domain.MessageType, dm whatsmeow.DownloadableMessage, mime, body string) content {
	c := content{Type: typ, Body: body, Mime: mime}
	if a == nil || p.storage == nil || !typ.IsMedia() {
		return c
	}
	data, err := a.DownloadMedia(ctx, dm)
	if err != nil {
		zap.L().Warn("whatsapp: media download failed", zap.String("type", string(typ)), zap.Error(err))
		return c
	}
	url, err := p.storage.Store(ctx, data, media.ExtFromMime(mime))
	if err != nil {
		zap.L().Warn("whatsapp: media store failed", zap.String("type", string(typ)), zap.Error(err))
		return c
	}
	c.MediaURL = url
	return c
}

func locationContent(loc *waE2E.LocationMessage) content {
	lat, lng := loc.GetDegreesLatitude(), loc.GetDegreesLongitude()
	link := fmt.Sprintf("https://maps.google.com/maps?q=%f,%f", lat, lng)
	body, err := jsoniter.MarshalToString(location{
		Latitude:  lat,
		Longitude: lng,
		Name:      loc.GetName(),
		Address:   loc.GetAddress(),
		URL:       link,
	})
	if err != nil {
		body = link
	}
	return content{Type: domain.MessageLocation, Body: body, MediaURL: link}
}

// unwrap strips ephemeral, view-once and captioned-document envelopes.
func unwrap(m *waE2E.Message) *waE2E.Message {
	for i := 0; i < 4 && m != nil; i++ {
		switch {
		case m.GetEphemeralMessage().GetMessage() != nil:
			m = m.GetEphemeralMessage().GetMessage()
		case m.GetViewOnceMessage().GetMessage() != nil:
			m = m.GetViewOnceMessage().GetMessage()
		case m.GetViewOnceMessageV2().GetMessage() != nil:
			m = m.GetViewOnceMessageV2().GetMessage()
		case m.GetDocumentWithCaptionMessage().GetMessage() != nil:
			m = m.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return m
		}
	}
	return m
}

func messagePayload(m *domain.Message) notify.MessagePayload {
	return notify.MessagePayload{
		InstanceID:        m.InstanceID,
		TicketID:          m.TicketID,
		ContactID:         m.ContactID,
		MessageID:         m.ID,
		ProviderMessageID: m.ProviderMessageID,
		Type:              string(m.Type),
		Content:           m.Body,
		MediaURL:          m.MediaURL,
		Direction:         string(m.Direction),
		Timestamp:         m.Timestamp,
	}
}

func isBroadcast(jid string) bool {
	return strings.HasSuffix(jid, "@broadcast") || strings.HasSuffix(jid, "@newsletter")
}

func isGroup(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}

// canonicalAddress is the reply address of a resolved phone: the remote
// address itself when it names the phone, the phone's user address otherwise.
func canonicalAddress(remoteJID, phone string) string {
	user, server := splitAddress(remoteJID)
	if user == phone && server != "" && server != lidServer {
		return user + "@" + server
	}
	return phone + "@" + userServer
}

func cleanName(name string) string {
	return strings.TrimSpace(common.StripControl(norm.NFC.String(name)))
}
