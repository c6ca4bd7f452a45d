package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/talkincode/toughwa/internal/domain"
	"go.mau.fi/whatsmeow"
)

var (
	ErrNotConnected    = errors.New("whatsapp: adapter not connected")
	ErrAdapterClosed   = errors.New("whatsapp: adapter closed")
	ErrUnknownProvider = errors.New("whatsapp: unknown provider")
)

// ConnectResult reports how a connect attempt started.
type ConnectResult struct {
	// QRExpected is true when no credentials exist and a pairing challenge will follow.
	QRExpected bool
}

// Adapter wraps one protocol client connection for one instance and emits
// normalized events on Events until Disconnect, when the channel is closed.
type Adapter interface {
	InstanceID() int64
	Provider() domain.Provider
	Connect(ctx context.Context, issueQR bool) (ConnectResult, error)
	// Disconnect stops event delivery, then ends the connection. With logout
	// the session is also logged out upstream.
	Disconnect(ctx context.Context, logout bool) error
	Events() <-chan Event
	SendText(ctx context.Context, to, text string) (SendResult, error)
	SendMedia(ctx context.Context, to string, media OutboundMedia) (SendResult, error)
	DownloadMedia(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	ProfilePictureURL(ctx context.Context, jid string) (string, error)
}

// ButtonSender is implemented by adapters with native buttons.
type ButtonSender interface {
	// SupportsButtons reports whether every button can be expressed natively.
	SupportsButtons(buttons []Button) bool
	SendButtons(ctx context.Context, to string, msg ButtonsMessage) (SendResult, error)
}

type ListSender interface {
	SendList(ctx context.Context, to string, msg ListMessage) (SendResult, error)
}

type CarouselSender interface {
	SendCarousel(ctx context.Context, to string, msg CarouselMessage) (SendResult, error)
}

type PollSender interface {
	SendPoll(ctx context.Context, to string, msg PollMessage) (SendResult, error)
}

// Event is a normalized adapter event.
type Event interface {
	adapterEvent()
}

type StateChanged struct {
	State    ConnectionState
	Reason   *DisconnectReason
	Identity *Identity
}

type QRIssued struct {
	Code string
}

type CredentialsUpdated struct {
	Ref string
}

type MessageReceived struct {
	Message *RawMessage
	Type    UpsertType
}

type MessageStatusChanged struct {
	Key MessageKey
	Raw interface{}
}

func (StateChanged) adapterEvent()         {}
func (QRIssued) adapterEvent()             {}
func (CredentialsUpdated) adapterEvent()   {}
func (MessageReceived) adapterEvent()      {}
func (MessageStatusChanged) adapterEvent() {}

type ButtonKind string

const (
	ButtonReply ButtonKind = "reply"
	ButtonURL   ButtonKind = "url"
	ButtonCall  ButtonKind = "call"
)

type Button struct {
	Kind  ButtonKind `json:"kind"`
	ID    string     `json:"id"`
	Text  string     `json:"text"`
	URL   string     `json:"url,omitempty"`
	Phone string     `json:"phone,omitempty"`
}

type ButtonsMessage struct {
	Title   string   `json:"title"`
	Text    string   `json:"text"`
	Footer  string   `json:"footer"`
	Buttons []Button `json:"buttons"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type ListMessage struct {
	Title      string        `json:"title"`
	Text       string        `json:"text"`
	Footer     string        `json:"footer"`
	ButtonText string        `json:"button_text"`
	Sections   []ListSection `json:"sections"`
}

type CarouselCard struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Footer  string   `json:"footer"`
	Buttons []Button `json:"buttons"`
}

type CarouselMessage struct {
	Text  string         `json:"text"`
	Cards []CarouselCard `json:"cards"`
}

type PollMessage struct {
	Name       string   `json:"name"`
	Options    []string `json:"options"`
	Selectable int      `json:"selectable"`
}

// OutboundMedia is a media attachment to upload and send.
type OutboundMedia struct {
	Type     domain.MessageType
	Data     []byte
	Mime     string
	FileName string
	Caption  string
}

// Factory builds the adapter for an instance's configured provider.
type Factory func(inst *domain.Instance) (Adapter, error)

// NewFactory returns the factory selecting the adapter implementation by provider.
func NewFactory(dialer Dialer) Factory {
	return func(inst *domain.Instance) (Adapter, error) {
		switch inst.Provider {
		case domain.ProviderNativeFlow:
			return NewNativeFlowAdapter(inst.ID, inst.SessionRef, dialer), nil
		case domain.ProviderTemplate:
			return NewTemplateAdapter(inst.ID, inst.SessionRef, dialer), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, inst.Provider)
		}
	}
}
