package provider

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/toughwa/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NativeFlowAdapter sends rich content as native flow interactive messages.
// Every button kind, single select lists, carousels and polls are supported.
type NativeFlowAdapter struct {
	*session
}

var (
	_ Adapter        = (*NativeFlowAdapter)(nil)
	_ ButtonSender   = (*NativeFlowAdapter)(nil)
	_ ListSender     = (*NativeFlowAdapter)(nil)
	_ CarouselSender = (*NativeFlowAdapter)(nil)
	_ PollSender     = (*NativeFlowAdapter)(nil)
)

func NewNativeFlowAdapter(instanceID int64, ref string, dialer Dialer) *NativeFlowAdapter {
	return &NativeFlowAdapter{session: newSession(instanceID, ref, dialer)}
}

func (a *NativeFlowAdapter) Provider() domain.Provider {
	return domain.ProviderNativeFlow
}

func (a *NativeFlowAdapter) SupportsButtons([]Button) bool {
	return true
}

func (a *NativeFlowAdapter) SendButtons(ctx context.Context, to string, msg ButtonsMessage) (SendResult, error) {
	buttons, err := nativeButtons(msg.Buttons)
	if err != nil {
		return SendResult{}, err
	}
	im := interactive(msg.Title, msg.Text, msg.Footer, buttons)
	return a.send(ctx, to, wrapInteractive(im))
}

type selectRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type selectSection struct {
	Title string      `json:"title"`
	Rows  []selectRow `json:"rows"`
}

func (a *NativeFlowAdapter) SendList(ctx context.Context, to string, msg ListMessage) (SendResult, error) {
	sections := make([]selectSection, 0, len(msg.Sections))
	for _, s := range msg.Sections {
		rows := make([]selectRow, 0, len(s.Rows))
		for _, r := range s.Rows {
			rows = append(rows, selectRow{ID: r.ID, Title: r.Title, Description: r.Description})
		}
		sections = append(sections, selectSection{Title: s.Title, Rows: rows})
	}
	params, err := json.MarshalToString(map[string]interface{}{
		"title":    msg.ButtonText,
		"sections": sections,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: encode list: %w", err)
	}
	button := &waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton{
		Name:             proto.String("single_select"),
		ButtonParamsJSON: proto.String(params),
	}
	im := interactive(msg.Title, msg.Text, msg.Footer,
		[]*waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton{button})
	return a.send(ctx, to, wrapInteractive(im))
}

func (a *NativeFlowAdapter) SendCarousel(ctx context.Context, to string, msg CarouselMessage) (SendResult, error) {
	if len(msg.Cards) == 0 {
		return SendResult{}, fmt.Errorf("whatsapp: carousel without cards")
	}
	cards := make([]*waE2E.InteractiveMessage, 0, len(msg.Cards))
	for _, c := range msg.Cards {
		buttons, err := nativeButtons(c.Buttons)
		if err != nil {
			return SendResult{}, err
		}
		cards = append(cards, interactive(c.Title, c.Body, c.Footer, buttons))
	}
	im := &waE2E.InteractiveMessage{
		Body: &waE2E.InteractiveMessage_Body{Text: proto.String(msg.Text)},
		InteractiveMessage: &waE2E.InteractiveMessage_CarouselMessage_{
			CarouselMessage: &waE2E.InteractiveMessage_CarouselMessage{
				Cards:          cards,
				MessageVersion: proto.Int32(1),
			},
		},
	}
	return a.send(ctx, to, wrapInteractive(im))
}

func (a *NativeFlowAdapter) SendPoll(ctx context.Context, to string, msg PollMessage) (SendResult, error) {
	return a.sendPoll(ctx, to, msg)
}

func nativeButtons(buttons []Button) ([]*waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton, error) {
	out := make([]*waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton, 0, len(buttons))
	for _, b := range buttons {
		var name string
		params := map[string]string{"display_text": b.Text}
		switch b.Kind {
		case ButtonReply, "":
			name = "quick_reply"
			params["id"] = b.ID
		case ButtonURL:
			name = "cta_url"
			params["url"] = b.URL
			params["merchant_url"] = b.URL
		case ButtonCall:
			name = "cta_call"
			params["phone_number"] = b.Phone
		default:
			return nil, fmt.Errorf("whatsapp: unknown button kind %q", b.Kind)
		}
		raw, err := json.MarshalToString(params)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: encode button: %w", err)
		}
		out = append(out, &waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton{
			Name:             proto.String(name),
			ButtonParamsJSON: proto.String(raw),
		})
	}
	return out, nil
}

func interactive(title, body, footer string, buttons []*waE2E.InteractiveMessage_NativeFlowMessage_NativeFlowButton) *waE2E.InteractiveMessage {
	im := &waE2E.InteractiveMessage{
		Body: &waE2E.InteractiveMessage_Body{Text: proto.String(body)},
		InteractiveMessage: &waE2E.InteractiveMessage_NativeFlowMessage_{
			NativeFlowMessage: &waE2E.InteractiveMessage_NativeFlowMessage{
				Buttons:        buttons,
				MessageVersion: proto.Int32(1),
			},
		},
	}
	if title != "" {
		im.Header = &waE2E.InteractiveMessage_Header{
			Title:              proto.String(title),
			HasMediaAttachment: proto.Bool(false),
		}
	}
	if footer != "" {
		im.Footer = &waE2E.InteractiveMessage_Footer{Text: proto.String(footer)}
	}
	return im
}

func wrapInteractive(im *waE2E.InteractiveMessage) *waE2E.Message {
	return &waE2E.Message{
		ViewOnceMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{InteractiveMessage: im},
		},
	}
}
