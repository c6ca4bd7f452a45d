package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// MeowDialer opens whatsmeow clients backed by a sqlstore device container.
// A session ref is the device JID string; an empty ref pairs a new device.
type MeowDialer struct {
	container *sqlstore.Container
}

var setOSOnce sync.Once

func NewMeowDialer(container *sqlstore.Container, desc DeviceDescriptor) *MeowDialer {
	if desc.OSName != "" {
		setOSOnce.Do(func() {
			store.SetOSInfo(desc.OSName, [3]uint32{1, 0, 0})
		})
	}
	return &MeowDialer{container: container}
}

func (d *MeowDialer) Dial(ctx context.Context, auth AuthState) (Socket, error) {
	device, err := d.loadDevice(ctx, auth.Ref)
	if err != nil {
		return nil, err
	}
	log := zap.L().Named("whatsmeow").With(zap.Int64("instance_id", auth.InstanceID))
	client := whatsmeow.NewClient(device, NewZapLogger(log))
	// reconnects are scheduled by the supervisor
	client.EnableAutoReconnect = false

	sock := &meowSocket{
		instanceID: auth.InstanceID,
		client:     client,
		events:     make(chan SocketEvent, eventBuffer),
		done:       make(chan struct{}),
	}
	sock.handlerID = client.AddEventHandler(sock.handle)

	if device.ID == nil && auth.IssueQR {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			client.RemoveEventHandler(sock.handlerID)
			return nil, fmt.Errorf("whatsapp: open qr channel: %w", err)
		}
		sock.qrCancel = cancel
		sock.usesQRChannel = true
		go sock.forwardQR(qrChan)
	}
	if err := client.Connect(); err != nil {
		sock.End()
		return nil, fmt.Errorf("whatsapp: connect: %w", err)
	}
	sock.emit(ConnectionUpdate{Connection: StateConnecting})
	return sock, nil
}

func (d *MeowDialer) loadDevice(ctx context.Context, ref string) (*store.Device, error) {
	if ref == "" {
		return d.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(ref)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: invalid session ref %q: %w", ref, err)
	}
	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: load device %s: %w", ref, err)
	}
	if device == nil {
		zap.L().Warn("whatsapp: stored device missing, pairing a new one", zap.String("ref", ref))
		return d.container.NewDevice(), nil
	}
	return device, nil
}

// MeowCredentialStore removes whatsmeow devices from the sqlstore.
type MeowCredentialStore struct {
	container *sqlstore.Container
}

func NewMeowCredentialStore(container *sqlstore.Container) *MeowCredentialStore {
	return &MeowCredentialStore{container: container}
}

func (c *MeowCredentialStore) Exists(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	jid, err := types.ParseJID(ref)
	if err != nil {
		return false, nil
	}
	device, err := c.container.GetDevice(ctx, jid)
	if err != nil {
		return false, err
	}
	return device != nil, nil
}

func (c *MeowCredentialStore) Remove(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	jid, err := types.ParseJID(ref)
	if err != nil {
		return nil
	}
	device, err := c.container.GetDevice(ctx, jid)
	if err != nil || device == nil {
		return err
	}
	return c.container.DeleteDevice(ctx, device)
}

type meowSocket struct {
	instanceID    int64
	client        *whatsmeow.Client
	events        chan SocketEvent
	done          chan struct{}
	handlerID     uint32
	qrCancel      context.CancelFunc
	usesQRChannel bool
	endOnce       sync.Once
}

var _ Socket = (*meowSocket)(nil)

func (s *meowSocket) Events() <-chan SocketEvent {
	return s.events
}

func (s *meowSocket) emit(ev SocketEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *meowSocket) forwardQR(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.emit(ConnectionUpdate{QR: item.Code})
		case "timeout":
			s.emit(ConnectionUpdate{
				Connection:     StateClose,
				LastDisconnect: &DisconnectReason{Code: ReasonConnectionLost, Message: "qr timeout"},
			})
		case "success":
		default:
			zap.L().Debug("whatsapp: qr channel event", zap.Int64("instance_id", s.instanceID), zap.String("event", item.Event))
		}
	}
}

func (s *meowSocket) handle(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		s.emit(ConnectionUpdate{Connection: StateOpen, Me: s.identity()})
	case *events.PairSuccess:
		s.emit(CredentialsUpdate{Ref: e.ID.String()})
	case *events.LoggedOut:
		s.emit(closed(ReasonLoggedOut, "logged out", true))
	case *events.StreamReplaced:
		s.emit(closed(ReasonConnectionReplaced, "stream replaced", false))
	case *events.Disconnected:
		s.emit(closed(ReasonConnectionClosed, "disconnected", false))
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			s.emit(closed(ReasonLoggedOut, e.Message, true))
		} else {
			s.emit(closed(ReasonBadSession, e.Message, false))
		}
	case *events.TemporaryBan:
		s.emit(closed(ReasonForbidden, e.String(), false))
	case *events.QR:
		if !s.usesQRChannel && len(e.Codes) > 0 {
			s.emit(ConnectionUpdate{QR: e.Codes[0]})
		}
	case *events.Message:
		s.emit(MessagesUpsert{Type: UpsertNotify, Messages: []*RawMessage{rawMessage(e)}})
	case *events.Receipt:
		code := receiptCode(e.Type)
		if code == 0 {
			return
		}
		for _, id := range e.MessageIDs {
			s.emit(MessageStatusUpdate{
				Key:    MessageKey{RemoteJID: e.Chat.String(), ID: id, FromMe: true},
				Status: code,
			})
		}
	}
}

func closed(code int, msg string, loggedOut bool) ConnectionUpdate {
	return ConnectionUpdate{
		Connection:     StateClose,
		LastDisconnect: &DisconnectReason{Code: code, Message: msg, LoggedOut: loggedOut},
	}
}

func (s *meowSocket) identity() *Identity {
	st := s.client.Store
	if st == nil || st.ID == nil {
		return nil
	}
	return &Identity{JID: st.ID.String(), Phone: st.ID.User, PushName: st.PushName}
}

func rawMessage(e *events.Message) *RawMessage {
	info := e.Info
	key := MessageKey{
		RemoteJID: info.Chat.String(),
		ID:        info.ID,
		FromMe:    info.IsFromMe,
	}
	switch {
	case info.IsFromMe && !info.RecipientAlt.IsEmpty():
		key.Participant = info.RecipientAlt.String()
	case !info.IsFromMe && !info.SenderAlt.IsEmpty():
		key.Participant = info.SenderAlt.String()
	case info.IsGroup:
		key.Participant = info.Sender.String()
	}
	return &RawMessage{
		Key:       key,
		PushName:  info.PushName,
		Timestamp: info.Timestamp,
		Message:   e.Message,
	}
}

func receiptCode(t types.ReceiptType) int {
	switch t {
	case types.ReceiptTypeDelivered:
		return 2
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return 3
	case types.ReceiptTypePlayed:
		return 4
	}
	return 0
}

func (s *meowSocket) SendMessage(ctx context.Context, to string, msg *waE2E.Message) (SendResult, error) {
	jid, err := parseJID(to)
	if err != nil {
		return SendResult{}, err
	}
	resp, err := s.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (s *meowSocket) Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return s.client.Upload(ctx, data, kind)
}

func (s *meowSocket) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return s.client.Download(ctx, msg)
}

func (s *meowSocket) BuildPoll(name string, options []string, selectable int) *waE2E.Message {
	return s.client.BuildPollCreation(name, options, selectable)
}

func (s *meowSocket) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	target, err := parseJID(jid)
	if err != nil {
		return "", err
	}
	info, err := s.client.GetProfilePictureInfo(ctx, target, &whatsmeow.GetProfilePictureParams{Preview: true})
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

func (s *meowSocket) Logout(ctx context.Context) error {
	return s.client.Logout(ctx)
}

func (s *meowSocket) End() {
	s.endOnce.Do(func() {
		close(s.done)
		s.client.RemoveEventHandler(s.handlerID)
		if s.qrCancel != nil {
			s.qrCancel()
		}
		s.client.Disconnect()
	})
}

// parseJID accepts a full JID or a bare phone number.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("whatsapp: empty address")
	}
	if !strings.Contains(s, "@") {
		return types.NewJID(strings.TrimPrefix(s, "+"), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return types.JID{}, fmt.Errorf("whatsapp: invalid address %q: %w", s, err)
	}
	return jid, nil
}
