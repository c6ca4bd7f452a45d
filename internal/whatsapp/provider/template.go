package provider

import (
	"context"
	"fmt"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/toughwa/internal/domain"
)

// maxTemplateButtons is the number of quick reply buttons a hydrated template holds.
const maxTemplateButtons = 3

// legacyStatus are the acknowledgement tokens reported by the template client.
var legacyStatus = map[int]string{
	1: "SERVER_ACK",
	2: "DELIVERY_ACK",
	3: "READ",
	4: "PLAYED",
}

// TemplateAdapter sends rich content with the legacy hydrated template and
// list encodings. It has no carousel support and only quick reply buttons.
type TemplateAdapter struct {
	*session
}

var (
	_ Adapter      = (*TemplateAdapter)(nil)
	_ ButtonSender = (*TemplateAdapter)(nil)
	_ ListSender   = (*TemplateAdapter)(nil)
	_ PollSender   = (*TemplateAdapter)(nil)
)

func NewTemplateAdapter(instanceID int64, ref string, dialer Dialer) *TemplateAdapter {
	s := newSession(instanceID, ref, dialer)
	s.statusValue = func(code int) interface{} {
		if v, ok := legacyStatus[code]; ok {
			return v
		}
		return code
	}
	return &TemplateAdapter{session: s}
}

func (a *TemplateAdapter) Provider() domain.Provider {
	return domain.ProviderTemplate
}

func (a *TemplateAdapter) SupportsButtons(buttons []Button) bool {
	if len(buttons) == 0 || len(buttons) > maxTemplateButtons {
		return false
	}
	for _, b := range buttons {
		if b.Kind != ButtonReply && b.Kind != "" {
			return false
		}
	}
	return true
}

func (a *TemplateAdapter) SendButtons(ctx context.Context, to string, msg ButtonsMessage) (SendResult, error) {
	if !a.SupportsButtons(msg.Buttons) {
		return SendResult{}, fmt.Errorf("whatsapp: template buttons accept up to %d quick replies", maxTemplateButtons)
	}
	hydrated := make([]*waE2E.HydratedTemplateButton, 0, len(msg.Buttons))
	for i, b := range msg.Buttons {
		hydrated = append(hydrated, &waE2E.HydratedTemplateButton{
			Index: proto.Uint32(uint32(i)),
			HydratedButton: &waE2E.HydratedTemplateButton_QuickReplyButton{
				QuickReplyButton: &waE2E.HydratedTemplateButton_HydratedQuickReplyButton{
					DisplayText: proto.String(b.Text),
					ID:          proto.String(b.ID),
				},
			},
		})
	}
	tpl := &waE2E.TemplateMessage_HydratedFourRowTemplate{
		HydratedContentText: proto.String(msg.Text),
		HydratedFooterText:  optString(msg.Footer),
		HydratedButtons:     hydrated,
	}
	if msg.Title != "" {
		tpl.Title = &waE2E.TemplateMessage_HydratedFourRowTemplate_HydratedTitleText{HydratedTitleText: msg.Title}
	}
	return a.send(ctx, to, &waE2E.Message{
		TemplateMessage: &waE2E.TemplateMessage{HydratedTemplate: tpl},
	})
}

func (a *TemplateAdapter) SendList(ctx context.Context, to string, msg ListMessage) (SendResult, error) {
	sections := make([]*waE2E.ListMessage_Section, 0, len(msg.Sections))
	for _, s := range msg.Sections {
		rows := make([]*waE2E.ListMessage_Row, 0, len(s.Rows))
		for _, r := range s.Rows {
			rows = append(rows, &waE2E.ListMessage_Row{
				RowID:       proto.String(r.ID),
				Title:       proto.String(r.Title),
				Description: optString(r.Description),
			})
		}
		sections = append(sections, &waE2E.ListMessage_Section{Title: proto.String(s.Title), Rows: rows})
	}
	return a.send(ctx, to, &waE2E.Message{ListMessage: &waE2E.ListMessage{
		Title:       proto.String(msg.Title),
		Description: proto.String(msg.Text),
		ButtonText:  proto.String(msg.ButtonText),
		FooterText:  optString(msg.Footer),
		ListType:    waE2E.ListMessage_SINGLE_SELECT.Enum(),
		Sections:    sections,
	}})
}

func (a *TemplateAdapter) SendPoll(ctx context.Context, to string, msg PollMessage) (SendResult, error) {
	return a.sendPoll(ctx, to, msg)
}
