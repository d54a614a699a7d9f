package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ensureProjectServer creates or converges the project's front server.
func (s *Server) ensureProjectServer(c echo.Context) error {
	var req ProjectServerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ps, err := s.opts.Servers.EnsureProjectServerForProject(c.Request().Context(), c.Param("id"), req.Host)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ps)
}

// repairProjectServer converges the front server and a service vhost. An
// unhealthy outcome answers 503 with the same body.
func (s *Server) repairProjectServer(c echo.Context) error {
	var req RepairRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	projectID := c.Param("id")
	healthy := s.opts.Servers.EnsureProjectServerHealth(c.Request().Context(), projectID, req.Host, req.ServiceName)

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, RepairResponse{ProjectID: projectID, Healthy: healthy})
}

func (s *Server) addServiceRouter(c echo.Context) error {
	var req RouterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	file, err := s.opts.Servers.AddServiceRouter(c.Param("id"), req.ServiceName, req.Host, req.Port, req.Template)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, RouterResponse{File: file})
}

func (s *Server) removeServiceRouter(c echo.Context) error {
	if err := s.opts.Servers.RemoveServiceRouter(c.Param("id"), c.Param("service")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
