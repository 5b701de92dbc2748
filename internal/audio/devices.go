// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"strings"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
)

// PortAudio entry points, replaceable in tests.
var (
	paLibInitialize             = portaudio.Initialize
	paLibTerminate              = portaudio.Terminate
	paLibDevicesFunc            = portaudio.Devices
	paLibDefaultInputDeviceFunc = portaudio.DefaultInputDevice
	paDevicesFunc               = paDevices
	paOpenStream                = openStream
	paIsFormatSupported         = portaudio.IsFormatSupported
)

// CommonSampleRates are the rates checked by ProbeSampleRates, up to the
// ultrasonic rates of measurement microphones.
var CommonSampleRates = []float64{44100, 48000, 88200, 96000, 176400, 192000, 352800, 384000, 768000}

// Device describes a host audio device.
type Device struct {
	ID                int           `json:"id"`
	Name              string        `json:"name"`
	HostAPI           string        `json:"host_api"`
	MaxInputChannels  int           `json:"max_input_channels"`
	MaxOutputChannels int           `json:"max_output_channels"`
	DefaultSampleRate float64       `json:"default_sample_rate"`
	LowInputLatency   time.Duration `json:"low_input_latency_ns"`
	HighInputLatency  time.Duration `json:"high_input_latency_ns"`
	IsDefault         bool          `json:"is_default"`
}

// Initialize sets up the PortAudio subsystem.
// Calls nest: every Initialize must be paired with a Terminate.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate releases one Initialize.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// HostDevices lists all devices. PortAudio must be initialized.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	defaultIdx := -1
	if def, err := paLibDefaultInputDeviceFunc(); err == nil && def != nil {
		defaultIdx = def.Index
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		d := Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			LowInputLatency:   info.DefaultLowInputLatency,
			HighInputLatency:  info.DefaultHighInputLatency,
			IsDefault:         info.MaxInputChannels > 0 && info.Index == defaultIdx,
		}
		if info.HostApi != nil {
			d.HostAPI = info.HostApi.Name
		}
		devices[i] = d
	}
	return devices, nil
}

// InputDevice retrieves the audio input device for the given device ID.
// If deviceID is MinDeviceID (-1), returns the system default input device.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	if deviceID == config.MinDeviceID {
		return paLibDefaultInputDeviceFunc()
	}

	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	if devices[deviceID].MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) does not support input", deviceID, devices[deviceID].Name)
	}
	return devices[deviceID], nil
}

// FindInputDevice returns the first input device whose name contains one of
// names, compared case-insensitively and in order of preference. Without a
// match it falls back to InputDevice(fallbackID).
func FindInputDevice(names []string, fallbackID int) (*portaudio.DeviceInfo, error) {
	if len(names) > 0 {
		devices, err := paDevicesFunc()
		if err != nil {
			return nil, err
		}
		for _, want := range names {
			want = strings.ToLower(strings.TrimSpace(want))
			if want == "" {
				continue
			}
			for _, d := range devices {
				if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
					return d, nil
				}
			}
		}
	}
	return InputDevice(fallbackID)
}

// ProbeSampleRates returns the entries of CommonSampleRates the device
// accepts for float32 input with the given channel count.
func ProbeSampleRates(dev *portaudio.DeviceInfo, channels int) []float64 {
	var supported []float64
	for _, rate := range CommonSampleRates {
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate: rate,
		}
		if err := paIsFormatSupported(params, func([]float32) {}); err == nil {
			supported = append(supported, rate)
		}
	}
	return supported
}

// paDevices returns all available PortAudio devices, never a nil slice on
// success.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*portaudio.DeviceInfo{}
	}
	return devices, nil
}
