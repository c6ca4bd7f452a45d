package provider

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
)

// ConnectionState of an underlying protocol socket.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClose      ConnectionState = "close"
)

// Disconnect reason codes reported with a closed connection.
const (
	ReasonLoggedOut          = 401
	ReasonForbidden          = 403
	ReasonConnectionLost     = 408
	ReasonConnectionClosed   = 428
	ReasonConnectionReplaced = 440
	ReasonBadSession         = 500
	ReasonRestartRequired    = 515
)

// DisconnectReason explains a closed connection.
type DisconnectReason struct {
	Code      int
	Message   string
	LoggedOut bool
}

// Terminal reports whether the session credentials are no longer usable:
// an explicit logout or an unauthorized close. Everything else is recoverable.
func (r *DisconnectReason) Terminal() bool {
	if r == nil {
		return false
	}
	return r.LoggedOut || r.Code == ReasonLoggedOut
}

// Identity of the authenticated account.
type Identity struct {
	JID      string
	Phone    string
	PushName string
}

// MessageKey addresses a message in a chat.
type MessageKey struct {
	RemoteJID   string
	ID          string
	FromMe      bool
	Participant string // accompanying sender address, e.g. the phone address behind an opaque id
}

// RawMessage is an upserted protocol message.
type RawMessage struct {
	Key       MessageKey
	PushName  string
	Timestamp time.Time
	Message   *waE2E.Message
}

type UpsertType string

const (
	UpsertNotify UpsertType = "notify"
	UpsertAppend UpsertType = "append"
)

// SocketEvent is emitted by a Socket on its event channel.
type SocketEvent interface {
	socketEvent()
}

type ConnectionUpdate struct {
	Connection     ConnectionState
	QR             string
	LastDisconnect *DisconnectReason
	Me             *Identity
}

type CredentialsUpdate struct {
	Ref string
}

type MessagesUpsert struct {
	Messages []*RawMessage
	Type     UpsertType
}

type MessageStatusUpdate struct {
	Key    MessageKey
	Status interface{}
}

func (ConnectionUpdate) socketEvent()    {}
func (CredentialsUpdate) socketEvent()   {}
func (MessagesUpsert) socketEvent()      {}
func (MessageStatusUpdate) socketEvent() {}

// SendResult acknowledges an accepted outbound message.
type SendResult struct {
	ID        string
	Timestamp time.Time
}

// Socket is one live protocol client connection.
type Socket interface {
	Events() <-chan SocketEvent
	SendMessage(ctx context.Context, to string, msg *waE2E.Message) (SendResult, error)
	Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	BuildPoll(name string, options []string, selectable int) *waE2E.Message
	ProfilePictureURL(ctx context.Context, jid string) (string, error)
	Logout(ctx context.Context) error
	// End detaches event listeners and closes the connection.
	End()
}

// AuthState selects the credentials a socket authenticates with.
type AuthState struct {
	InstanceID int64
	Ref        string
	IssueQR    bool
}

// DeviceDescriptor is how the linked device presents itself.
type DeviceDescriptor struct {
	OSName string
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, auth AuthState) (Socket, error)
}

// CredentialStore owns persisted session credentials.
type CredentialStore interface {
	Exists(ctx context.Context, ref string) (bool, error)
	Remove(ctx context.Context, ref string) error
}
