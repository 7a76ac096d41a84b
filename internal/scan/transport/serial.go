package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/linescan/internal/monitoring"
	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/serialmux"
)

// Serial is the Transport for a scanner on a serial link.
type Serial struct {
	mux    *serialmux.SerialMux[serialmux.SerialPorter]
	cancel context.CancelFunc
	done   chan struct{}
	err    error // Monitor result, valid once done is closed
}

// NewSerial starts decoding packets from mux.
func NewSerial(mux *serialmux.SerialMux[serialmux.SerialPorter]) *Serial {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Serial{mux: mux, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		s.err = mux.Monitor(ctx)
		if s.err != nil && !errors.Is(s.err, context.Canceled) {
			monitoring.Logf("[serial] link monitor stopped: %v", s.err)
		}
	}()
	return s
}

// SendCommand writes cmd to the device. Packets left over from an earlier,
// abandoned pass are discarded before a new pass starts.
func (s *Serial) SendCommand(ctx context.Context, cmd []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.HasPrefix(cmd, []byte("START")) {
		s.discard()
	}
	if err := s.mux.SendCommand(string(cmd)); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

func (s *Serial) discard() {
	n := 0
	for {
		select {
		case _, ok := <-s.mux.Packets():
			if !ok {
				return
			}
			n++
		default:
			if n > 0 {
				monitoring.Logf("[serial] discarded %d stale packets", n)
			}
			return
		}
	}
}

func (s *Serial) ReceiveLine(ctx context.Context) (scan.Scanline, error) {
	select {
	case <-ctx.Done():
		return scan.Scanline{}, ctx.Err()
	case p, ok := <-s.mux.Packets():
		if !ok {
			return scan.Scanline{}, s.linkError()
		}
		return decodeLine(p)
	}
}

// linkError explains why the packet stream ended.
func (s *Serial) linkError() error {
	<-s.done
	switch {
	case s.err == nil:
		return fmt.Errorf("serial link closed mid-pass: %w", scan.ErrProtocol)
	case errors.Is(s.err, serialmux.ErrMalformedPacket):
		return fmt.Errorf("%w: %w", scan.ErrProtocol, s.err)
	}
	return s.err
}

func decodeLine(p serialmux.Packet) (scan.Scanline, error) {
	switch p.Kind {
	case serialmux.PacketEnd:
		return scan.Scanline{}, io.EOF
	case serialmux.PacketError:
		return scan.Scanline{}, fmt.Errorf("device error %q: %w", p.Data, scan.ErrProtocol)
	case serialmux.PacketLine:
		ch := scan.Channel(p.Channel)
		if ch < scan.ChannelNone || ch > scan.ChannelBlue {
			return scan.Scanline{}, fmt.Errorf("line packet with channel %d: %w", p.Channel, scan.ErrProtocol)
		}
		return scan.Scanline{Channel: ch, Index: int(p.Index), Depth: int(p.Depth), Data: p.Data}, nil
	}
	return scan.Scanline{}, fmt.Errorf("unexpected %s packet: %w", p.Kind, scan.ErrProtocol)
}

// Stop asks the device to abandon the current pass.
func (s *Serial) Stop() error {
	return s.mux.SendCommand(string(StopCommand))
}

// Close closes the port and waits for the packet decoder to exit.
func (s *Serial) Close() error {
	err := s.mux.Close()
	s.cancel()
	<-s.done
	return err
}

// Stats returns the link counters.
func (s *Serial) Stats() serialmux.Stats { return s.mux.Stats() }

// AttachAdminRoutes exposes the link's debug endpoints.
func (s *Serial) AttachAdminRoutes(mux *http.ServeMux) {
	s.mux.AttachAdminRoutes(mux)
}
