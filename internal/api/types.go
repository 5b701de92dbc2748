// SPDX-License-Identifier: MIT
package api

import (
	"time"

	"github.com/zmk5566/Crowd-Sonic/internal/audio"
)

// ControlResponse answers start, stop and configuration changes.
type ControlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every 4xx/5xx answer not produced by a
// control operation.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// DeviceInfo is one entry of the device list.
type DeviceInfo struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api,omitempty"`
	MaxChannels       int     `json:"max_channels"`
	DefaultSampleRate float64 `json:"default_samplerate"`
	IsDefault         bool    `json:"is_default"`
}

// DevicesResponse lists input devices.
type DevicesResponse struct {
	Devices   []DeviceInfo `json:"devices"`
	Timestamp float64      `json:"timestamp"`
}

// StreamTestResponse answers the stream connectivity probe.
type StreamTestResponse struct {
	Status           string  `json:"status"`
	Endpoint         string  `json:"endpoint"`
	ConnectedClients int     `json:"connected_clients"`
	Timestamp        float64 `json:"timestamp"`
}

func deviceInfo(d audio.Device) DeviceInfo {
	return DeviceInfo{
		ID:                d.ID,
		Name:              d.Name,
		HostAPI:           d.HostAPI,
		MaxChannels:       d.MaxInputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
		IsDefault:         d.IsDefault,
	}
}

// nowMillis is the timestamp format used by every response.
func nowMillis() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}
