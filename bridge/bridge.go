// Package bridge implements the PTY serial bridge supplemented feature of
// SPEC_FULL.md: it exposes a connected Peripheral's write/notify
// characteristic pair as a PTY device node, so an ordinary serial
// application can talk to a BLE UART-style peripheral without knowing
// anything about GATT.
//
// Grounded on pkg/ble/bridge.go's Bridge (creack/pty + golang.org/x/term,
// a raw PTY plus a read goroutine pushing bytes to a write callback),
// adapted to drive writes through peripheral.Peripheral.WriteWithoutResponse
// (spec §4.3's backpressure-serialized write path) and to receive
// peripheral-side updates through RegisterOnChange rather than a
// hand-rolled callback.
package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/srg/blecentral/observe"
	"github.com/srg/blecentral/peripheral"
	"github.com/srg/blecentral/uuid"
)

// Options configures which characteristic pair the bridge drives.
type Options struct {
	// Service is the GATT service containing both characteristics.
	Service uuid.BTUUID
	// WriteCharacteristic receives bytes read from the PTY.
	WriteCharacteristic uuid.BTUUID
	// NotifyCharacteristic delivers bytes written back to the PTY. If
	// it equals WriteCharacteristic, both directions share one
	// characteristic (common for simple UART-style services).
	NotifyCharacteristic uuid.BTUUID
	// BufferSize sizes the PTY read buffer.
	BufferSize int
}

// DefaultOptions returns sensible defaults; callers must still set
// Service/WriteCharacteristic/NotifyCharacteristic.
func DefaultOptions() *Options {
	return &Options{BufferSize: 1024}
}

// Bridge pumps bytes between a PTY device node and a connected
// Peripheral's characteristic pair.
type Bridge struct {
	logger *logrus.Logger

	mu       sync.RWMutex
	master   *os.File
	slave    *os.File
	running  bool
	onChange *observe.Handle
	stop     chan struct{}
	stopped  chan struct{}
}

// New creates an idle Bridge.
func New(logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{logger: logger}
}

// Start opens a PTY and begins pumping: bytes read from the PTY are sent
// via p.WriteWithoutResponse (the backpressure-serialized path of spec
// §4.3), and notifications on opts.NotifyCharacteristic are written back
// to the PTY. Returns the PTY's device path.
func (b *Bridge) Start(ctx context.Context, p *peripheral.Peripheral, opts *Options) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return "", fmt.Errorf("bridge: already running")
	}
	if opts == nil || opts.Service.IsZero() || opts.WriteCharacteristic.IsZero() {
		return "", fmt.Errorf("bridge: Service and WriteCharacteristic are required")
	}
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = 1024
	}

	master, slave, err := pty.Open()
	if err != nil {
		return "", fmt.Errorf("bridge: opening PTY: %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		b.logger.WithError(err).Warn("bridge: failed to set PTY raw mode")
	}

	ch, err := p.GetCharacteristic(opts.Service, opts.NotifyCharacteristic)
	if err == nil {
		b.onChange = ch.RegisterOnChange(func(v []byte) {
			if v == nil {
				return
			}
			b.mu.RLock()
			m := b.master
			b.mu.RUnlock()
			if m == nil {
				return
			}
			if _, err := m.Write(v); err != nil {
				b.logger.WithError(err).Error("bridge: writing notification to PTY")
			}
		})
	} else {
		b.logger.WithError(err).Debug("bridge: notify characteristic not present, PTY is write-only")
	}

	b.master = master
	b.slave = slave
	b.running = true
	b.stop = make(chan struct{})
	b.stopped = make(chan struct{})

	go b.pump(ctx, p, opts, bufSize)

	name := slave.Name()
	b.logger.WithField("pty", name).Info("bridge: started")
	return name, nil
}

func (b *Bridge) pump(ctx context.Context, p *peripheral.Peripheral, opts *Options, bufSize int) {
	defer close(b.stopped)

	buf := make([]byte, bufSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		default:
		}

		n, err := b.master.Read(buf)
		if err != nil {
			if err != io.EOF {
				b.logger.WithError(err).Error("bridge: reading PTY")
			}
			return
		}
		if n == 0 {
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		if err := p.WriteWithoutResponse(ctx, opts.Service, opts.WriteCharacteristic, data); err != nil {
			b.logger.WithError(err).Error("bridge: writing to peripheral")
		}
	}
}

// Name returns the PTY device path, or "" if not running.
func (b *Bridge) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.slave == nil {
		return ""
	}
	return b.slave.Name()
}

// Stop closes the PTY and deregisters the notification handler.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}

	close(b.stop)
	// Closing the PTY unblocks the pump's pending master.Read.
	if b.master != nil {
		_ = b.master.Close()
	}
	if b.slave != nil {
		_ = b.slave.Close()
	}
	<-b.stopped

	if b.onChange != nil {
		b.onChange.Deregister()
		b.onChange = nil
	}
	b.master = nil
	b.slave = nil
	b.running = false
	return nil
}
