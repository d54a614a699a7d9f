package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(s.config.Security.AllowedOrigins))
	for _, o := range s.config.Security.AllowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// handleDeploymentEvents streams deployment events. The deploymentId query
// parameter restricts the stream to one deployment.
func (s *Server) handleDeploymentEvents(c echo.Context) error {
	up := s.upgrader()
	ws, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return err
	}

	client := &Client{
		hub:          s.wsHub,
		conn:         ws,
		send:         make(chan []byte, 256),
		deploymentID: c.QueryParam("deploymentId"),
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		_ = ws.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}
