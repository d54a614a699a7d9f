package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/models"
)

// bindAndValidate decodes the request body into req and checks its tags.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	return c.Validate(req)
}

// createDeployment starts a deployment. By default it runs in the
// background and progress is streamed on /ws/deployments; with ?wait=true
// the request blocks and returns the result.
func (s *Server) createDeployment(c echo.Context) error {
	var req DeployRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.DeploymentID == "" {
		req.DeploymentID = uuid.NewString()
	}
	buildType := models.BuildType(req.BuildType)

	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	if wait {
		res, err := s.opts.Deployer.Deploy(c.Request().Context(), buildType, req.BuilderConfig())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}

	// the deployment outlives the request but keeps its request-scoped values
	ctx := logging.AppendCtx(context.WithoutCancel(c.Request().Context()),
		slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
	started := s.goBackground(func() {
		if _, err := s.opts.Deployer.Deploy(ctx, buildType, req.BuilderConfig()); err != nil {
			s.logger.WarnContext(ctx, "background deployment failed", "deployment_id", req.DeploymentID, "error", err)
		}
	})
	if !started {
		return NewAPIError(http.StatusServiceUnavailable, "Server is shutting down", "")
	}

	return c.JSON(http.StatusAccepted, DeployAccepted{
		DeploymentID: req.DeploymentID,
		Status:       "accepted",
		Events:       "/ws/deployments?deploymentId=" + req.DeploymentID,
	})
}

// teardownDeployment removes a compose stack or a static site's router.
func (s *Server) teardownDeployment(c echo.Context) error {
	var req DeployRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.opts.Deployer.Teardown(c.Request().Context(), models.BuildType(req.BuildType), req.BuilderConfig()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "deployment removed", ID: req.ServiceName})
}
