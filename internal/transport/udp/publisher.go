// SPDX-License-Identifier: MIT

// Package udp publishes frames as binary datagrams for low-latency consumers
// on the local network.
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/internal/stream"
	"github.com/zmk5566/Crowd-Sonic/internal/transport"
)

/*
Packet layout (BigEndian):

+----------------+---------+------+---------------------------------------+
| Field          | Type    | Size | Description                           |
|----------------|---------|------|---------------------------------------|
| Sequence       | uint32  | 4    | Frame sequence id (low 32 bits)       |
| Timestamp      | int64   | 8    | Window time, ms since epoch           |
| Bins           | uint16  | 2    | Magnitude count, fft_size/2+1         |
| Peak frequency | float32 | 4    | Hz                                    |
| Peak magnitude | float32 | 4    | dB                                    |
| SPL            | float32 | 4    | dB                                    |
| Payload length | uint32  | 4    | Bytes that follow                     |
| Payload        | []byte  | N    | gzip of float32 little-endian dB bins |
+----------------+---------+------+---------------------------------------+
*/

// HeaderSize is the fixed header length in bytes.
const HeaderSize = 30

// MaxDatagram is the largest UDP payload over IPv4.
const MaxDatagram = 65507

var (
	// ErrPacketTooLarge is returned when a frame does not fit one datagram.
	ErrPacketTooLarge = errors.New("udp: frame exceeds datagram size")
	// ErrShortPacket is returned by ParsePacket for a truncated packet.
	ErrShortPacket = errors.New("udp: short packet")
)

// Header is the fixed part of a frame packet.
type Header struct {
	Sequence      uint32
	TimestampMS   int64
	Bins          uint16
	PeakFrequency float32
	PeakDB        float32
	SPLDB         float32
	PayloadLength uint32
}

// Packet is a decoded frame packet. Payload aliases the parsed buffer.
type Packet struct {
	Header
	Payload []byte
}

// Conn is what the publisher writes datagrams to.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Publisher sends every frame of a subscriber as one datagram. Stopped
// notices produce no packet.
type Publisher struct {
	conn Conn
	buf  bytes.Buffer // reusable packet buffer

	sent    uint64
	skipped uint64
}

var _ transport.Transport = (*Publisher)(nil)

// NewPublisher wraps conn, typically a *Sender.
func NewPublisher(conn Conn) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("udp: sender cannot be nil")
	}
	return &Publisher{conn: conn}, nil
}

// Send encodes and transmits a frame. Oversized frames are skipped with an
// error but do not end delivery of later frames.
func (p *Publisher) Send(m stream.Message) error {
	if m.Kind != stream.KindFrame {
		return nil
	}
	if err := AppendPacket(&p.buf, m.Frame); err != nil {
		p.skipped++
		log.Warnf("UDP: Skipping frame %d: %v", m.Frame.SequenceID, err)
		return nil
	}
	if err := p.conn.Send(p.buf.Bytes()); err != nil {
		// No listener on the target is normal.
		p.skipped++
		log.Debugf("UDP: Send failed for frame %d: %v", m.Frame.SequenceID, err)
		return nil
	}
	p.sent++
	log.Debugf("UDP: Sent packet %d (%d bytes)", m.Frame.SequenceID, p.buf.Len())
	return nil
}

// Close closes the underlying connection.
func (p *Publisher) Close() error {
	log.Infof("UDP: Publisher closed (%d sent, %d skipped)", p.sent, p.skipped)
	return p.conn.Close()
}

// AppendPacket resets buf and writes the packet for f into it.
func AppendPacket(buf *bytes.Buffer, f *stream.Frame) error {
	bins := f.FFTSize/2 + 1
	if bins > math.MaxUint16 {
		return fmt.Errorf("%w: %d bins", ErrPacketTooLarge, bins)
	}
	if HeaderSize+len(f.Compressed) > MaxDatagram {
		return fmt.Errorf("%w: %d payload bytes", ErrPacketTooLarge, len(f.Compressed))
	}

	h := Header{
		Sequence:      uint32(f.SequenceID),
		TimestampMS:   int64(f.Timestamp),
		Bins:          uint16(bins),
		PeakFrequency: float32(f.PeakFrequencyHz),
		PeakDB:        float32(f.PeakMagnitudeDB),
		SPLDB:         float32(f.SPLDB),
		PayloadLength: uint32(len(f.Compressed)),
	}
	buf.Reset()
	buf.Grow(HeaderSize + len(f.Compressed))
	if err := binary.Write(buf, binary.BigEndian, h); err != nil {
		return fmt.Errorf("udp: pack header: %w", err)
	}
	buf.Write(f.Compressed)
	return nil
}

// ParsePacket decodes a datagram produced by AppendPacket.
func ParsePacket(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	var p Packet
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.BigEndian, &p.Header); err != nil {
		return Packet{}, fmt.Errorf("udp: unpack header: %w", err)
	}
	end := HeaderSize + int(p.PayloadLength)
	if len(data) < end {
		return Packet{}, fmt.Errorf("%w: payload wants %d bytes, have %d", ErrShortPacket, p.PayloadLength, len(data)-HeaderSize)
	}
	p.Payload = data[HeaderSize:end]
	return p, nil
}
