package server

import "github.com/labstack/echo/v4"

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(200, map[string]string{"status": "healthy"})
}
