package provider

import (
	"context"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/toughwa/internal/domain"
)

const eventBuffer = 64

// session is the connection core shared by both adapters: it dials the
// socket, pumps socket events into the adapter channel and sends messages.
type session struct {
	instanceID int64
	dialer     Dialer
	// statusValue converts a numeric receipt code into the value the adapter reports
	statusValue func(code int) interface{}

	mu     sync.Mutex
	ref    string
	sock   Socket
	cancel context.CancelFunc
	closed bool

	events    chan Event
	closeOnce sync.Once
}

func newSession(instanceID int64, ref string, dialer Dialer) *session {
	return &session{
		instanceID:  instanceID,
		ref:         ref,
		dialer:      dialer,
		statusValue: func(code int) interface{} { return code },
		events:      make(chan Event, eventBuffer),
	}
}

func (s *session) InstanceID() int64 {
	return s.instanceID
}

func (s *session) Events() <-chan Event {
	return s.events
}

func (s *session) Connect(ctx context.Context, issueQR bool) (ConnectResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ConnectResult{}, ErrAdapterClosed
	}
	if s.sock != nil {
		return ConnectResult{}, nil
	}
	sock, err := s.dialer.Dial(ctx, AuthState{InstanceID: s.instanceID, Ref: s.ref, IssueQR: issueQR})
	if err != nil {
		return ConnectResult{}, fmt.Errorf("whatsapp: dial instance %d: %w", s.instanceID, err)
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	s.sock = sock
	s.cancel = cancel
	go s.pump(pumpCtx, sock)
	return ConnectResult{QRExpected: issueQR}, nil
}

func (s *session) Disconnect(ctx context.Context, logout bool) error {
	s.mu.Lock()
	sock, cancel := s.sock, s.cancel
	s.sock, s.cancel = nil, nil
	s.closed = true
	s.mu.Unlock()

	if cancel == nil {
		// no pump was started, nothing else sends on the channel
		s.closeEvents()
	} else {
		cancel()
	}
	if sock == nil {
		return nil
	}
	var err error
	if logout {
		if err = sock.Logout(ctx); err != nil {
			zap.L().Warn("whatsapp: logout failed", zap.Int64("instance_id", s.instanceID), zap.Error(err))
		}
	}
	sock.End()
	return err
}

func (s *session) socket() (Socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock == nil {
		return nil, ErrNotConnected
	}
	return s.sock, nil
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

// pump is the only sender on s.events once started.
func (s *session) pump(ctx context.Context, sock Socket) {
	defer s.closeEvents()
	src := sock.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			for _, out := range s.translate(ev) {
				select {
				case s.events <- out:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *session) translate(ev SocketEvent) []Event {
	switch e := ev.(type) {
	case ConnectionUpdate:
		var out []Event
		if e.QR != "" {
			out = append(out, QRIssued{Code: e.QR})
		}
		if e.Connection != "" {
			out = append(out, StateChanged{State: e.Connection, Reason: e.LastDisconnect, Identity: e.Me})
		}
		return out
	case CredentialsUpdate:
		s.mu.Lock()
		s.ref = e.Ref
		s.mu.Unlock()
		return []Event{CredentialsUpdated{Ref: e.Ref}}
	case MessagesUpsert:
		out := make([]Event, 0, len(e.Messages))
		for _, m := range e.Messages {
			if m == nil || m.Message == nil {
				continue
			}
			out = append(out, MessageReceived{Message: m, Type: e.Type})
		}
		return out
	case MessageStatusUpdate:
		raw := e.Status
		if code, ok := raw.(int); ok {
			raw = s.statusValue(code)
		}
		return []Event{MessageStatusChanged{Key: e.Key, Raw: raw}}
	default:
		zap.L().Debug("whatsapp: ignored socket event", zap.String("type", fmt.Sprintf("%T", ev)))
		return nil
	}
}

func (s *session) send(ctx context.Context, to string, msg *waE2E.Message) (SendResult, error) {
	sock, err := s.socket()
	if err != nil {
		return SendResult{}, err
	}
	res, err := sock.SendMessage(ctx, to, msg)
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: send to %s: %w", to, err)
	}
	return res, nil
}

func (s *session) SendText(ctx context.Context, to, text string) (SendResult, error) {
	return s.send(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
}

func (s *session) SendMedia(ctx context.Context, to string, media OutboundMedia) (SendResult, error) {
	sock, err := s.socket()
	if err != nil {
		return SendResult{}, err
	}
	kind, ok := mediaTypes[media.Type]
	if !ok {
		return SendResult{}, fmt.Errorf("whatsapp: unsupported media type %q", media.Type)
	}
	up, err := sock.Upload(ctx, media.Data, kind)
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: upload media: %w", err)
	}
	return s.send(ctx, to, buildMediaMessage(media, up))
}

func (s *session) sendPoll(ctx context.Context, to string, poll PollMessage) (SendResult, error) {
	sock, err := s.socket()
	if err != nil {
		return SendResult{}, err
	}
	selectable := poll.Selectable
	if selectable <= 0 {
		selectable = 1
	}
	return s.send(ctx, to, sock.BuildPoll(poll.Name, poll.Options, selectable))
}

func (s *session) DownloadMedia(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	sock, err := s.socket()
	if err != nil {
		return nil, err
	}
	return sock.Download(ctx, msg)
}

func (s *session) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	sock, err := s.socket()
	if err != nil {
		return "", err
	}
	return sock.ProfilePictureURL(ctx, jid)
}

var mediaTypes = map[domain.MessageType]whatsmeow.MediaType{
	domain.MessageImage:    whatsmeow.MediaImage,
	domain.MessageVideo:    whatsmeow.MediaVideo,
	domain.MessageAudio:    whatsmeow.MediaAudio,
	domain.MessageDocument: whatsmeow.MediaDocument,
}

func buildMediaMessage(media OutboundMedia, up whatsmeow.UploadResponse) *waE2E.Message {
	switch media.Type {
	case domain.MessageImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       optString(media.Caption),
			Mimetype:      proto.String(media.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case domain.MessageVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optString(media.Caption),
			Mimetype:      proto.String(media.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case domain.MessageAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(media.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       optString(media.Caption),
			FileName:      optString(media.FileName),
			Title:         optString(media.FileName),
			Mimetype:      proto.String(media.Mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}
