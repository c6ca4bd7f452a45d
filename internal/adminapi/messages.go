package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/repository"
	"github.com/talkincode/toughwa/internal/whatsapp/provider"
)

type textPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type mediaPayload struct {
	To       string `json:"to"`
	Type     string `json:"type"`
	Mime     string `json:"mime"`
	FileName string `json:"file_name"`
	Caption  string `json:"caption"`
	Data     []byte `json:"data"` // base64 in JSON
}

type buttonsPayload struct {
	To string `json:"to"`
	provider.ButtonsMessage
}

type listPayload struct {
	To string `json:"to"`
	provider.ListMessage
}

type carouselPayload struct {
	To string `json:"to"`
	provider.CarouselMessage
}

type pollPayload struct {
	To string `json:"to"`
	provider.PollMessage
}

func (s *Server) registerMessageRoutes(g *echo.Group) {
	g.POST("/instances/:id/messages/text", s.sendText)
	g.POST("/instances/:id/messages/media", s.sendMedia)
	g.POST("/instances/:id/messages/buttons", s.sendButtons)
	g.POST("/instances/:id/messages/list", s.sendList)
	g.POST("/instances/:id/messages/carousel", s.sendCarousel)
	g.POST("/instances/:id/messages/poll", s.sendPoll)
	g.GET("/tickets/:id/messages", s.listTicketMessages)
	g.POST("/tickets/:id/close", s.closeTicket)
	g.POST("/tickets/:id/reopen", s.reopenTicket)
}

// send binds the payload, checks the recipient and runs fn against the instance.
func send[T any](c echo.Context, to func(*T) string, fn func(ctx context.Context, id int64, p *T) (provider.SendResult, error)) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	p := new(T)
	if err := c.Bind(p); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if strings.TrimSpace(to(p)) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to is required", nil)
	}
	res, err := fn(c.Request().Context(), id, p)
	if err != nil {
		return failFor(c, err)
	}
	return ok(c, map[string]interface{}{"id": res.ID, "timestamp": res.Timestamp})
}

func (s *Server) sendText(c echo.Context) error {
	return send(c, func(p *textPayload) string { return p.To },
		func(ctx context.Context, id int64, p *textPayload) (provider.SendResult, error) {
			return s.svc.Router().SendText(ctx, id, p.To, p.Text)
		})
}

func (s *Server) sendMedia(c echo.Context) error {
	return send(c, func(p *mediaPayload) string { return p.To },
		func(ctx context.Context, id int64, p *mediaPayload) (provider.SendResult, error) {
			return s.svc.Router().SendMedia(ctx, id, p.To, provider.OutboundMedia{
				Type:     domain.MessageType(p.Type),
				Data:     p.Data,
				Mime:     p.Mime,
				FileName: p.FileName,
				Caption:  p.Caption,
			})
		})
}

func (s *Server) sendButtons(c echo.Context) error {
	return send(c, func(p *buttonsPayload) string { return p.To },
		func(ctx context.Context, id int64, p *buttonsPayload) (provider.SendResult, error) {
			return s.svc.Router().SendButtons(ctx, id, p.To, p.ButtonsMessage)
		})
}

func (s *Server) sendList(c echo.Context) error {
	return send(c, func(p *listPayload) string { return p.To },
		func(ctx context.Context, id int64, p *listPayload) (provider.SendResult, error) {
			return s.svc.Router().SendList(ctx, id, p.To, p.ListMessage)
		})
}

func (s *Server) sendCarousel(c echo.Context) error {
	return send(c, func(p *carouselPayload) string { return p.To },
		func(ctx context.Context, id int64, p *carouselPayload) (provider.SendResult, error) {
			return s.svc.Router().SendCarousel(ctx, id, p.To, p.CarouselMessage)
		})
}

func (s *Server) sendPoll(c echo.Context) error {
	return send(c, func(p *pollPayload) string { return p.To },
		func(ctx context.Context, id int64, p *pollPayload) (provider.SendResult, error) {
			return s.svc.Router().SendPoll(ctx, id, p.To, p.PollMessage)
		})
}

func (s *Server) listTicketMessages(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid ticket ID", nil)
	}
	items, err := s.svc.Store().Messages.ListByTicket(c.Request().Context(), id)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	if items == nil {
		items = []*domain.Message{}
	}
	return ok(c, items)
}

func (s *Server) closeTicket(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid ticket ID", nil)
	}
	ctx := c.Request().Context()
	tickets := s.svc.Store().Tickets
	if _, err := tickets.GetByID(ctx, id); err != nil {
		return ticketFail(c, err)
	}
	if err := tickets.Close(ctx, id); err != nil {
		return ticketFail(c, err)
	}
	t, err := tickets.GetByID(ctx, id)
	if err != nil {
		return ticketFail(c, err)
	}
	return ok(c, t)
}

// reopenTicket returns the surviving ticket, which is the already active one
// of the same contact and instance when there is one.
func (s *Server) reopenTicket(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid ticket ID", nil)
	}
	t, err := s.svc.Store().Tickets.Reopen(c.Request().Context(), id)
	if err != nil {
		return ticketFail(c, err)
	}
	return ok(c, map[string]interface{}{"ticket": t, "merged": t.ID != id})
}

func ticketFail(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fail(c, http.StatusNotFound, "TICKET_NOT_FOUND", "Ticket not found", nil)
	}
	return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Ticket update failed", err.Error())
}
