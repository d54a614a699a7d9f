package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/deployer/internal/routing"
)

// validateTemplate checks a router template. When variables are supplied
// the template is also rendered and any placeholder left is reported.
func (s *Server) validateTemplate(c echo.Context) error {
	var req TemplateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	v := routing.ValidateTemplate(req.Template)
	resp := TemplateResponse{TemplateValidation: v, Valid: v.Valid()}

	if len(req.Variables) > 0 && resp.Valid {
		rendered, err := routing.Render(req.Template, req.Variables)
		switch {
		case errors.Is(err, routing.ErrUnresolvedVariables):
			resp.Valid = false
			resp.Unresolved = routing.UnresolvedVariables(routing.ParseTemplate(req.Template, req.Variables))
		case err != nil:
			return err
		default:
			resp.Rendered = rendered
		}
	}

	status := http.StatusOK
	if !resp.Valid {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, resp)
}
