package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/repository"
)

type instancePayload struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

type disconnectPayload struct {
	Logout bool `json:"logout"`
}

func (s *Server) registerInstanceRoutes(g *echo.Group) {
	g.GET("/instances", s.listInstances)
	g.POST("/instances", s.createInstance)
	g.GET("/instances/:id", s.getInstance)
	g.GET("/instances/:id/qr", s.getInstanceQR)
	g.POST("/instances/:id/connect", s.connectInstance)
	g.POST("/instances/:id/disconnect", s.disconnectInstance)
	g.DELETE("/instances/:id", s.removeInstance)
}

func (s *Server) listInstances(c echo.Context) error {
	items, err := s.svc.Store().Instances.List(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query instances", err.Error())
	}
	return ok(c, items)
}

func (s *Server) createInstance(c echo.Context) error {
	var payload instancePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name is required", nil)
	}
	if payload.Provider == "" {
		payload.Provider = string(domain.ProviderNativeFlow)
	}
	inst, err := s.svc.CreateInstance(c.Request().Context(), payload.Name, domain.Provider(payload.Provider))
	if err != nil {
		return failFor(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"data": inst})
}

func (s *Server) loadInstance(c echo.Context) (*domain.Instance, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return nil, fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	inst, err := s.svc.Store().Instances.GetByID(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fail(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance not found", nil)
	} else if err != nil {
		return nil, fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query instance", err.Error())
	}
	return inst, nil
}

func (s *Server) getInstance(c echo.Context) error {
	inst, err := s.loadInstance(c)
	if inst == nil {
		return err
	}
	return ok(c, inst)
}

// getInstanceQR returns the stored pairing image while it is still valid.
func (s *Server) getInstanceQR(c echo.Context) error {
	inst, err := s.loadInstance(c)
	if inst == nil {
		return err
	}
	valid := inst.QRValid(time.Now())
	resp := map[string]interface{}{
		"status": inst.Status,
		"has_qr": valid,
	}
	if valid {
		resp["qr_code"] = inst.QRCode
		resp["expires_at"] = inst.QRExpiresAt
	}
	return ok(c, resp)
}

func (s *Server) connectInstance(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	res, err := s.svc.Router().Connect(c.Request().Context(), id)
	if err != nil {
		return failFor(c, err)
	}
	return ok(c, map[string]interface{}{
		"already_connected": res.AlreadyConnected,
		"qr_expected":       res.QRExpected,
	})
}

func (s *Server) disconnectInstance(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	var payload disconnectPayload
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&payload); err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
		}
	}
	if err := s.svc.Router().Disconnect(c.Request().Context(), id, payload.Logout); err != nil {
		return failFor(c, err)
	}
	return ok(c, map[string]interface{}{"disconnected": true, "logout": payload.Logout})
}

func (s *Server) removeInstance(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid instance ID", nil)
	}
	if err := s.svc.Router().Remove(c.Request().Context(), id); err != nil {
		return failFor(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
