// Package serialmux owns the serial link to a scanner. It writes text
// commands, decodes the device's binary packets into a lossless stream for
// the acquisition, and fans packet summaries out to debug subscribers.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/linescan/internal/httputil"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// ErrClosed is returned by SendCommand after Close.
var ErrClosed = errors.New("serial mux closed")

// PacketBuffer is the capacity of the lossless packet stream.
const PacketBuffer = 1024

// Stats counts link traffic.
type Stats struct {
	Commands     uint64 `json:"commands"`
	Lines        uint64 `json:"lines"`
	Ends         uint64 `json:"ends"`
	DeviceErrors uint64 `json:"device_errors"`
	PayloadBytes uint64 `json:"payload_bytes"`
	Malformed    uint64 `json:"malformed"`
	Dropped      uint64 `json:"dropped_tail_events"`
}

type counters struct {
	commands, lines, ends, deviceErrors, payloadBytes, malformed, dropped atomic.Uint64
}

// SerialMux multiplexes one scanner port: every decoded packet goes to the
// Packets stream, and a text summary of it goes to each subscriber.
type SerialMux[T SerialPorter] struct {
	port         T
	packets      chan Packet
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	stats        counters
}

// NewSerialMux creates a SerialMux on an open port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		packets:     make(chan Packet, PacketBuffer),
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a channel receiving a summary of every packet. Slow
// subscribers miss events rather than stalling the link.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Packets returns the lossless stream of decoded packets. It is closed when
// Monitor returns.
func (s *SerialMux[T]) Packets() <-chan Packet { return s.packets }

// SendCommand sends a text command to the device.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.closingMu.Lock()
	closing := s.closing
	s.closingMu.Unlock()
	if closing {
		return ErrClosed
	}

	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	s.stats.commands.Add(1)
	return nil
}

// Monitor decodes packets from the port until the context ends, the port
// reaches EOF or a packet is malformed. Packets are delivered in order and
// never dropped; Monitor blocks while the Packets stream is full.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	defer close(s.packets)
	r := bufio.NewReader(s.port)

	pktChan := make(chan Packet)
	readErrChan := make(chan error, 1)

	// the blocking port read runs apart from the loop below so that context
	// cancellation is not held up by a silent device
	go func() {
		defer close(pktChan)
		for {
			p, err := ReadPacket(r)
			if err != nil {
				readErrChan <- err
				return
			}
			select {
			case pktChan <- p:
			case <-ctx.Done():
				readErrChan <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p, ok := <-pktChan:
			if !ok {
				err := <-readErrChan
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if s.isClosing() || errors.Is(err, io.EOF) {
					return nil
				}
				if errors.Is(err, ErrMalformedPacket) {
					s.stats.malformed.Add(1)
				}
				return fmt.Errorf("failed to read from serial port: %w", err)
			}
			s.count(p)
			s.publish(p.String())
			select {
			case s.packets <- p:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *SerialMux[T]) count(p Packet) {
	switch p.Kind {
	case PacketLine:
		s.stats.lines.Add(1)
		s.stats.payloadBytes.Add(uint64(len(p.Data)))
	case PacketEnd:
		s.stats.ends.Add(1)
	case PacketError:
		s.stats.deviceErrors.Add(1)
	}
}

func (s *SerialMux[T]) publish(event string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.stats.dropped.Add(1)
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Stats returns the link counters.
func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		Commands:     s.stats.commands.Load(),
		Lines:        s.stats.lines.Load(),
		Ends:         s.stats.ends.Load(),
		DeviceErrors: s.stats.deviceErrors.Load(),
		PayloadBytes: s.stats.payloadBytes.Load(),
		Malformed:    s.stats.malformed.Load(),
		Dropped:      s.stats.dropped.Load(),
	}
}

// Close closes all subscriber channels and the port. A running Monitor
// returns once its pending read fails.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes attaches serial debugging endpoints under /debug/ on
// mux. tsweb restricts them to localhost and the tailnet.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Serial lines", func() any { return s.stats.lines.Load() })

	debug.Handle("serial", "serial link counters", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	}))

	// API endpoint to write a command to the device
	debug.HandleSilent("send-command-api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			httputil.BadRequest(w, "missing command")
			return
		}
		if err := s.SendCommand(command); err != nil {
			httputil.InternalServerError(w, "failed to write command")
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	}))

	// Server-Sent Events carrying a summary of each packet from the device.
	debug.HandleSilent("tail", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
}
