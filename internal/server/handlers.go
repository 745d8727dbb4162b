package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"pmboard/internal/board"
	"pmboard/internal/service"
)

// handleEvents serves the current snapshot under the requested view.
func (s *Server) handleEvents(c echo.Context) error {
	view, apiErr := bindView(c, s.cfg.Limits)
	if apiErr != nil {
		return writeError(c, apiErr)
	}

	snap, err := s.provider.Snapshot(c.Request().Context())
	if err != nil {
		if c.Request().Context().Err() != nil {
			// client went away; nothing useful to write
			return nil
		}
		s.logger.Warn().Err(err).Msg("snapshot unavailable")
		return writeError(c, snapshotError(err))
	}

	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.JSON(http.StatusOK, board.NewPayload(snap, view, s.provider.TTL(), time.Now()))
}

// handleStream keeps an SSE response open and registers it with the broadcaster.
func (s *Server) handleStream(c echo.Context) error {
	view, apiErr := bindView(c, s.cfg.Limits)
	if apiErr != nil {
		return writeError(c, apiErr)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	sub := newSSESubscriber(res, view, s.provider.TTL())
	if err := s.broadcaster.Join(ctx, sub); err != nil {
		s.logger.Debug().Err(err).Str("subscriber", sub.ID()).Msg("sse subscriber dropped on join")
		return nil
	}
	defer s.broadcaster.Leave(sub)

	select {
	case <-ctx.Done():
	case <-sub.done:
	}
	return nil
}

// handleWebSocket upgrades the connection and registers it with the broadcaster.
func (s *Server) handleWebSocket(c echo.Context) error {
	view, apiErr := bindView(c, s.cfg.Limits)
	if apiErr != nil {
		return writeError(c, apiErr)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	sub := newWSSubscriber(conn, view, s.provider.TTL())
	if err := s.broadcaster.Join(c.Request().Context(), sub); err != nil {
		s.logger.Debug().Err(err).Str("subscriber", sub.ID()).Msg("websocket subscriber dropped on join")
		return nil
	}
	defer s.broadcaster.Leave(sub)

	// Inbound frames are ignored; reading surfaces disconnects and handles control frames.
	conn.SetReadLimit(4096)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return nil
		}
	}
}

type healthResponse struct {
	Status      string        `json:"status"`
	Cache       service.Stats `json:"cache"`
	Subscribers int           `json:"subscribers"`
}

// handleHealth reports ok once a snapshot exists.
func (s *Server) handleHealth(c echo.Context) error {
	st := s.provider.Stats()
	resp := healthResponse{Status: "ok", Cache: st}
	if s.broadcaster != nil {
		resp.Subscribers = s.broadcaster.Hub().Len()
	}

	code := http.StatusOK
	switch {
	case !st.HasData:
		resp.Status = "starting"
		code = http.StatusServiceUnavailable
	case st.LastError != "":
		resp.Status = "degraded"
	}
	return c.JSON(code, resp)
}
