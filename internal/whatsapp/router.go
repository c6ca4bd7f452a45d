package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
)

// Router is the entry point for instance operations. It dispatches to the
// instance's live adapter and branches only on adapter capabilities.
type Router struct {
	supervisor *Supervisor
	registry   *Registry
	pipeline   *Pipeline
}

func NewRouter(supervisor *Supervisor, registry *Registry, pipeline *Pipeline) *Router {
	return &Router{supervisor: supervisor, registry: registry, pipeline: pipeline}
}

func (r *Router) Connect(ctx context.Context, instanceID int64) (ConnectResult, error) {
	return r.supervisor.Connect(ctx, instanceID)
}

func (r *Router) Disconnect(ctx context.Context, instanceID int64, removeCredentials bool) error {
	return r.supervisor.Disconnect(ctx, instanceID, removeCredentials)
}

func (r *Router) Remove(ctx context.Context, instanceID int64) error {
	return r.supervisor.Remove(ctx, instanceID)
}

func (r *Router) adapter(instanceID int64) (provider.Adapter, error) {
	a, ok := r.registry.Get(instanceID)
	if !ok {
		return nil, errors.Wrapf(ErrNotConnected, "instance %d", instanceID)
	}
	return a, nil
}

func (r *Router) record(ctx context.Context, instanceID int64, to string, typ domain.MessageType, body string, res provider.SendResult) {
	if r.pipeline == nil {
		return
	}
	if _, err := r.pipeline.RecordOutbound(ctx, instanceID, to, typ, body, res); err != nil {
		zap.L().Warn("whatsapp: record outbound message",
			zap.Int64("instance_id", instanceID), zap.String("message_id", res.ID), zap.Error(err))
	}
}

func (r *Router) SendText(ctx context.Context, instanceID int64, to, text string) (provider.SendResult, error) {
	a, err := r.adapter(instanceID)
	if err != nil {
		return provider.SendResult{}, err
	}
	return r.sendText(ctx, a, to, text, domain.MessageText)
}

func (r *Router) sendText(ctx context.Context, a provider.Adapter, to, text string, typ domain.MessageType) (provider.SendResult, error) {
	res, err := a.SendText(ctx, to, text)
	if err != nil {
		return res, err
	}
	r.record(ctx, a.InstanceID(), to, typ, text, res)
	return res, nil
}

func (r *Router) SendMedia(ctx context.Context, instanceID int64, to string, media provider.OutboundMedia) (provider.SendResult, error) {
	a, err := r.adapter(instanceID)
	if err != nil {
		return provider.SendResult{}, err
	}
	res, err := a.SendMedia(ctx, to, media)
	if err != nil {
		return res, err
	}
	r.record(ctx, instanceID, to, media.Type, media.Caption, res)
	return res, nil
}

// SendButtons sends native buttons when the adapter can express all of them,
// otherwise a numbered text rendering.
func (r *Router) SendButtons(ctx context.Context, instanceID int64, to string, msg provider.ButtonsMessage) (provider.SendResult, error) {
	a, err := r.adapter(instanceID)
	if err != nil {
		return provider.SendResult{}, err
	}
	if bs, ok := a.(provider.ButtonSender); ok && bs.SupportsButtons(msg.Buttons) {
		res, err := bs.SendButtons(ctx, to, msg)
		if err != nil {
			return res, err
		}
		r.record(ctx, instanceID, to, domain.MessageButtons, msg.Text, res)
		return res, nil
	}
	return r.sendText(ctx, a, to, RenderButtons(msg), domain.MessageButtons)
}

func (r *Router) SendList(ctx context.Context, instanceID int64, to string, msg provider.ListMessage) (provider.SendResult, error) {
	a, err := r.adapter(instanceID)
	if err != nil {
		return provider.SendResult{}, err
	}
	if ls, ok := a.(provider.ListSender); ok {
		res, err := ls.SendList(ctx, to, msg)
		if err != nil {
			return res, err
		}
		r.record(ctx, instanceID, to, domain.MessageList, msg.Text, res)
		return res, nil
	}
	return r.sendText(ctx, a, to, RenderList(msg), domain.MessageList)
}

// SendCarousel has no text fallback; adapters without carousel support fail.
func (r *Router) SendCarousel(ctx context.Context, instanceID int64, to string, msg provider.CarouselMessage) (provider.SendResult, error) {
	a, err := r.adapter(instanceID)
	if err != nil {
		return provider.SendResult{}, err
	}
	cs, ok := a.(provider.CarouselSender)
	if !ok {
		return provider.SendResult{}, errors.Wrapf(ErrUnsupportedByProvider, "carousel on %s", a.Provider())
	}
	res, err := cs.SendCarousel(ctx, to, msg)
	if err != nil {
		return res, err
	}
	r.record(ctx, instanceID, to, domain.MessageCarousel, msg.Text, res)
	return res, nil
}

func (r *Router) SendPoll(ctx context.Context, instanceID int64, to string, msg provider.PollMessage) (provider.SendResult, error) {
	a, err := r.adapter(instanceID)
	if err != nil {
		return provider.SendResult{}, err
	}
	if ps, ok := a.(provider.PollSender); ok {
		res, err := ps.SendPoll(ctx, to, msg)
		if err != nil {
			return res, err
		}
		r.record(ctx, instanceID, to, domain.MessagePoll, msg.Name, res)
		return res, nil
	}
	return r.sendText(ctx, a, to, RenderPoll(msg), domain.MessagePoll)
}

// RenderButtons renders buttons as a numbered list under the message text.
func RenderButtons(msg provider.ButtonsMessage) string {
	var b strings.Builder
	writeHeader(&b, msg.Title, msg.Text)
	for i, btn := range msg.Buttons {
		fmt.Fprintf(&b, "%d. %s", i+1, btn.Text)
		switch btn.Kind {
		case provider.ButtonURL:
			fmt.Fprintf(&b, ": %s", btn.URL)
		case provider.ButtonCall:
			fmt.Fprintf(&b, ": %s", btn.Phone)
		}
		b.WriteString("\n")
	}
	writeFooter(&b, msg.Footer)
	return strings.TrimRight(b.String(), "\n")
}

func RenderList(msg provider.ListMessage) string {
	var b strings.Builder
	writeHeader(&b, msg.Title, msg.Text)
	n := 0
	for _, s := range msg.Sections {
		if s.Title != "" {
			fmt.Fprintf(&b, "*%s*\n", s.Title)
		}
		for _, row := range s.Rows {
			n++
			fmt.Fprintf(&b, "%d. %s", n, row.Title)
			if row.Description != "" {
				fmt.Fprintf(&b, " - %s", row.Description)
			}
			b.WriteString("\n")
		}
	}
	writeFooter(&b, msg.Footer)
	return strings.TrimRight(b.String(), "\n")
}

func RenderPoll(msg provider.PollMessage) string {
	var b strings.Builder
	writeHeader(&b, "", msg.Name)
	for i, opt := range msg.Options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeHeader(b *strings.Builder, title, text string) {
	if title != "" {
		fmt.Fprintf(b, "*%s*\n", title)
	}
	if text != "" {
		b.WriteString(text)
		b.WriteString("\n\n")
	}
}

func writeFooter(b *strings.Builder, footer string) {
	if footer != "" {
		b.WriteString("\n_")
		b.WriteString(footer)
		b.WriteString("_")
	}
}
