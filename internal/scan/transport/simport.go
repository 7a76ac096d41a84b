package transport

import (
	"bytes"
	"sync"

	"github.com/banshee-data/linescan/internal/monitoring"
	"github.com/banshee-data/linescan/internal/serialmux"
	"github.com/banshee-data/linescan/internal/timeutil"
)

// SimulatedPort is an in-memory serial port with a simulated scanner on the
// far end. It speaks the same wire protocol as the hardware, so a Serial
// transport on top of it exercises the full link.
type SimulatedPort struct {
	*serialmux.TestableSerialPort

	cfg     SimConfig
	mu      sync.Mutex
	pending []byte
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewSimulatedPort starts a simulated device behind an in-memory port.
func NewSimulatedPort(cfg SimConfig) *SimulatedPort {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	sp := &SimulatedPort{TestableSerialPort: serialmux.NewTestableSerialPort(), cfg: cfg}
	sp.OnWrite = sp.handle
	return sp
}

// handle splits host writes into commands.
func (sp *SimulatedPort) handle(p []byte) {
	sp.mu.Lock()
	sp.pending = append(sp.pending, p...)
	var cmds [][]byte
	for {
		i := bytes.IndexByte(sp.pending, '\n')
		if i < 0 {
			break
		}
		cmds = append(cmds, bytes.TrimSpace(sp.pending[:i]))
		sp.pending = sp.pending[i+1:]
	}
	sp.mu.Unlock()

	for _, c := range cmds {
		sp.command(c)
	}
}

func (sp *SimulatedPort) command(c []byte) {
	pc, stop, err := ParseCommand(c)
	if err != nil {
		sp.send(serialmux.Packet{Kind: serialmux.PacketError, Data: []byte(err.Error())})
		return
	}
	sp.halt()
	if stop {
		sp.send(serialmux.Packet{Kind: serialmux.PacketEnd})
		return
	}
	pass, err := newSimPass(sp.cfg, pc)
	if err != nil {
		sp.send(serialmux.Packet{Kind: serialmux.PacketError, Data: []byte(err.Error())})
		return
	}

	stopCh := make(chan struct{})
	sp.mu.Lock()
	sp.stop = stopCh
	sp.mu.Unlock()
	sp.wg.Add(1)
	go sp.run(pass, stopCh)
}

// halt stops a running pass and waits for its sender.
func (sp *SimulatedPort) halt() {
	sp.mu.Lock()
	if sp.stop != nil {
		close(sp.stop)
		sp.stop = nil
	}
	sp.mu.Unlock()
	sp.wg.Wait()
}

// run streams one pass as packets.
func (sp *SimulatedPort) run(p *simPass, stop chan struct{}) {
	defer sp.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		deviceErr, stall := p.fault()
		if deviceErr {
			sp.send(serialmux.Packet{Kind: serialmux.PacketError, Data: []byte(ErrDeviceFault.Error())})
			return
		}
		if stall {
			<-stop
			return
		}
		line, ok := p.next()
		if !ok {
			sp.send(serialmux.Packet{Kind: serialmux.PacketEnd})
			return
		}
		if sp.cfg.LinePeriod > 0 {
			sp.cfg.Clock.Sleep(sp.cfg.LinePeriod)
		}
		sp.send(serialmux.Packet{
			Kind:    serialmux.PacketLine,
			Channel: uint8(line.Channel),
			Depth:   uint8(line.Depth),
			Index:   uint32(line.Index),
			Data:    line.Data,
		})
	}
}

func (sp *SimulatedPort) send(p serialmux.Packet) {
	b, err := p.MarshalBinary()
	if err != nil {
		monitoring.Logf("[sim] dropping packet: %v", err)
		return
	}
	sp.AddReadData(b)
}

// Close stops the simulated device and closes the port.
func (sp *SimulatedPort) Close() error {
	sp.halt()
	return sp.TestableSerialPort.Close()
}
