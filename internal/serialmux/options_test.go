package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{
			name: "defaults",
			in:   PortOptions{},
			want: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "explicit values",
			in:   PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"},
			want: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"},
		},
		{
			name: "negative baud rate uses default",
			in:   PortOptions{BaudRate: -5, Parity: " odd "},
			want: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "O"},
		},
		{name: "data bits too small", in: PortOptions{DataBits: 4}, wantErr: true},
		{name: "data bits too large", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Normalize() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPortOptions_Equal(t *testing.T) {
	if !(PortOptions{}).Equal(PortOptions{BaudRate: DefaultBaudRate, Parity: "none"}) {
		t.Error("zero options should equal explicit defaults")
	}
	if (PortOptions{BaudRate: 9600}).Equal(PortOptions{BaudRate: 19200}) {
		t.Error("different baud rates reported equal")
	}
	if (PortOptions{DataBits: 12}).Equal(PortOptions{DataBits: 12}) {
		t.Error("invalid options reported equal")
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 57600, DataBits: 7, StopBits: 2, Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	want := serial.Mode{BaudRate: 57600, DataBits: 7, StopBits: serial.TwoStopBits, Parity: serial.OddParity}
	if *mode != want {
		t.Errorf("SerialMode() = %+v, want %+v", *mode, want)
	}

	if _, err := (PortOptions{Parity: "X"}).SerialMode(); err == nil {
		t.Error("SerialMode() with bad parity: want error")
	}
}

func TestRealPortFactory_OpenMissingDevice(t *testing.T) {
	_, err := RealPortFactory{}.Open("/dev/nonexistent-linescan-port", PortOptions{})
	if err == nil {
		t.Error("expected error opening a non-existent serial port")
	}
}

func TestOpenSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockPortFactory(port)
	opts := PortOptions{BaudRate: 9600}

	mux, err := OpenSerialMux(factory, "/dev/ttyUSB0", opts)
	if err != nil {
		t.Fatalf("OpenSerialMux() error = %v", err)
	}
	defer mux.Close()

	call := factory.LastCall()
	if call == nil || call.Path != "/dev/ttyUSB0" || call.Opts != opts {
		t.Errorf("LastCall() = %+v, want path /dev/ttyUSB0 opts %+v", call, opts)
	}

	factory.Error = ErrPortClosed
	if _, err := OpenSerialMux(factory, "/dev/ttyUSB1", opts); err == nil {
		t.Error("OpenSerialMux() with failing factory: want error")
	}
}
