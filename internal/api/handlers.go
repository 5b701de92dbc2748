// SPDX-License-Identifier: MIT
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
)

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) start(c echo.Context) error {
	if err := s.ctrl.Start(); err != nil {
		log.Errorf("API: Start failed: %v", err)
		return c.JSON(http.StatusInternalServerError, ControlResponse{
			Message: fmt.Sprintf("start failed, check the audio device: %v", err),
		})
	}
	return c.JSON(http.StatusOK, ControlResponse{Success: true, Message: "capture started"})
}

func (s *Server) stop(c echo.Context) error {
	if err := s.ctrl.Stop(); err != nil {
		log.Errorf("API: Stop failed: %v", err)
		return c.JSON(http.StatusInternalServerError, ControlResponse{
			Message: fmt.Sprintf("stop failed: %v", err),
		})
	}
	return c.JSON(http.StatusOK, ControlResponse{Success: true, Message: "capture stopped"})
}

func (s *Server) getStreamConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.StreamConfig())
}

// updateStreamConfig accepts a partial body: omitted fields keep their
// current values.
func (s *Server) updateStreamConfig(c echo.Context) error {
	next := s.ctrl.StreamConfig()
	if err := c.Bind(&next); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	}
	if err := s.ctrl.UpdateStreamConfig(next); err != nil {
		return c.JSON(http.StatusBadRequest, ControlResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, ControlResponse{
		Success: true,
		Message: fmt.Sprintf("stream config updated, target fps %d", next.TargetFPS),
	})
}

func (s *Server) getAudioConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.AudioConfig())
}

func (s *Server) setFPS(c echo.Context) error {
	fps, err := strconv.Atoi(c.QueryParam("fps"))
	if err != nil || fps < config.MinTargetFPS || fps > config.MaxTargetFPS {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_fps",
			Message: config.ErrInvalidFPS.Error(),
		})
	}
	if err := s.ctrl.SetFPS(fps); err != nil {
		return c.JSON(http.StatusBadRequest, ControlResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, ControlResponse{Success: true, Message: fmt.Sprintf("target fps set to %d", fps)})
}

func (s *Server) detailedStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.DetailedStats())
}

func (s *Server) devices(c echo.Context) error {
	devs, err := s.ctrl.Devices()
	if err != nil {
		log.Errorf("API: Listing devices failed: %v", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "device_list_failed", Message: err.Error()})
	}
	resp := DevicesResponse{Devices: make([]DeviceInfo, 0, len(devs)), Timestamp: nowMillis()}
	for _, d := range devs {
		resp.Devices = append(resp.Devices, deviceInfo(d))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) testCompression(c echo.Context) error {
	r, err := s.ctrl.TestCompression()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "compression_test_failed", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) streamTest(c echo.Context) error {
	return c.JSON(http.StatusOK, StreamTestResponse{
		Status:           "ok",
		Endpoint:         "/api/stream",
		ConnectedClients: s.ctrl.Status().ConnectedClients,
		Timestamp:        nowMillis(),
	})
}
