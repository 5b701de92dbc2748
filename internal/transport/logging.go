// SPDX-License-Identifier: MIT
package transport

import (
	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/internal/stream"
)

// Logging writes a one-line summary of every message at debug level.
type Logging struct {
	frames uint64
	bytes  uint64
}

var _ Transport = (*Logging)(nil)

// NewLogging creates a logging transport.
func NewLogging() *Logging {
	log.Infof("Transport: Using logging transport")
	return &Logging{}
}

// Send logs m. It never fails.
func (l *Logging) Send(m stream.Message) error {
	if m.Kind == stream.KindStopped {
		log.Infof("Transport: Stream stopped (%s)", m.Reason)
		return nil
	}
	f := m.Frame
	l.frames++
	l.bytes += uint64(f.DataSizeBytes)
	log.Debugf("Transport: Frame %d (%d/%d bytes, peak %.1f Hz at %.1f dB, SPL %.1f dB, %.1f fps)",
		f.SequenceID, f.DataSizeBytes, f.OriginalSizeBytes, f.PeakFrequencyHz, f.PeakMagnitudeDB, f.SPLDB, f.FPS)
	return nil
}

// Close logs the totals.
func (l *Logging) Close() error {
	log.Infof("Transport: Logging transport closed (%d frames, %d bytes)", l.frames, l.bytes)
	return nil
}
