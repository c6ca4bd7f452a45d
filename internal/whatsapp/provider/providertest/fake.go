// Package providertest provides an in-memory socket and dialer for tests.
package providertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/toughwa/internal/whatsapp/provider"
)

// Sent is a message recorded by a Socket.
type Sent struct {
	To      string
	Message *waE2E.Message
}

// Socket records outbound traffic and lets tests inject events.
type Socket struct {
	events chan provider.SocketEvent
	done   chan struct{}
	seq    atomic.Int64

	mu         sync.Mutex
	sent       []Sent
	uploads    []whatsmeow.MediaType
	loggedOut  bool
	ended      bool
	SendErr    error
	ProfileURL string
	Media      []byte
}

var _ provider.Socket = (*Socket)(nil)

func NewSocket() *Socket {
	return &Socket{
		events: make(chan provider.SocketEvent, 64),
		done:   make(chan struct{}),
	}
}

// Emit delivers ev to the adapter unless the socket has ended.
func (s *Socket) Emit(ev provider.SocketEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Socket) Events() <-chan provider.SocketEvent {
	return s.events
}

func (s *Socket) SendMessage(_ context.Context, to string, msg *waE2E.Message) (provider.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return provider.SendResult{}, s.SendErr
	}
	s.sent = append(s.sent, Sent{To: to, Message: msg})
	return provider.SendResult{
		ID:        fmt.Sprintf("OUT%d", s.seq.Add(1)),
		Timestamp: time.Unix(1700000000, 0),
	}, nil
}

func (s *Socket) Upload(_ context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, kind)
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.example/" + strings.ReplaceAll(string(kind), " ", "-"),
		DirectPath: "/v/t62/fake",
		FileLength: uint64(len(data)),
	}, nil
}

func (s *Socket) Download(context.Context, whatsmeow.DownloadableMessage) ([]byte, error) {
	if s.Media == nil {
		return nil, fmt.Errorf("no media")
	}
	return s.Media, nil
}

func (s *Socket) BuildPoll(name string, options []string, selectable int) *waE2E.Message {
	opts := make([]*waE2E.PollCreationMessage_Option, 0, len(options))
	for _, o := range options {
		opts = append(opts, &waE2E.PollCreationMessage_Option{OptionName: proto.String(o)})
	}
	return &waE2E.Message{PollCreationMessage: &waE2E.PollCreationMessage{
		Name:                   proto.String(name),
		Options:                opts,
		SelectableOptionsCount: proto.Uint32(uint32(selectable)),
	}}
}

func (s *Socket) ProfilePictureURL(context.Context, string) (string, error) {
	return s.ProfileURL, nil
}

func (s *Socket) Logout(context.Context) error {
	s.mu.Lock()
	s.loggedOut = true
	s.mu.Unlock()
	return nil
}

func (s *Socket) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.done)
	}
}

func (s *Socket) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Socket) Uploads() []whatsmeow.MediaType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]whatsmeow.MediaType(nil), s.uploads...)
}

func (s *Socket) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

func (s *Socket) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Dialer hands out a new Socket per dial and remembers them per instance.
type Dialer struct {
	mu      sync.Mutex
	sockets map[int64][]*Socket
	auths   []provider.AuthState
	Err     error
	// Setup runs on each new socket before it is returned.
	Setup func(auth provider.AuthState, s *Socket)
}

var _ provider.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{sockets: make(map[int64][]*Socket)}
}

func (d *Dialer) Dial(_ context.Context, auth provider.AuthState) (provider.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	s := NewSocket()
	if d.Setup != nil {
		d.Setup(auth, s)
	}
	d.sockets[auth.InstanceID] = append(d.sockets[auth.InstanceID], s)
	d.auths = append(d.auths, auth)
	return s, nil
}

// Latest returns the most recent socket dialed for the instance.
func (d *Dialer) Latest(instanceID int64) *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.sockets[instanceID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (d *Dialer) Dials(instanceID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets[instanceID])
}

func (d *Dialer) Auths() []provider.AuthState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]provider.AuthState(nil), d.auths...)
}

// CredentialStore is an in-memory provider.CredentialStore.
type CredentialStore struct {
	mu   sync.Mutex
	refs map[string]bool
}

var _ provider.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(refs ...string) *CredentialStore {
	c := &CredentialStore{refs: make(map[string]bool)}
	for _, r := range refs {
		c.refs[r] = true
	}
	return c
}

func (c *CredentialStore) Put(ref string) {
	c.mu.Lock()
	c.refs[ref] = true
	c.mu.Unlock()
}

func (c *CredentialStore) Exists(_ context.Context, ref string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[ref], nil
}

func (c *CredentialStore) Remove(_ context.Context, ref string) error {
	c.mu.Lock()
	delete(c.refs, ref)
	c.mu.Unlock()
	return nil
}
