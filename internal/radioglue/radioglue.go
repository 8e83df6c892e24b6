// Package radioglue provides the process-wide radio handle and the
// top-level on/off/config/send*/receive* API that forwards to it.
package radioglue

import (
	"sync"

	"github.com/BergLucas/microbit-go-simulator/internal/radio"
)

var (
	once   sync.Once
	handle *radio.Radio
)

// Init installs the process-wide radio instance. It must be called exactly
// once, typically from a cmd/ binary's main before any other radioglue
// function is used; subsequent calls are no-ops.
func Init(basePort int, syncAddr string, debug bool) {
	once.Do(func() {
		handle = radio.New(basePort, syncAddr, debug)
	})
}

func get() *radio.Radio {
	if handle == nil {
		panic("radioglue: Init was never called")
	}
	return handle
}

// On turns the radio on.
func On() error { return get().On() }

// Off turns the radio off.
func Off() error { return get().Off() }

// Config reconfigures the radio's settings.
func Config(cfg radio.Config) error { return get().Configure(cfg) }

// Reset restores the default configuration.
func Reset() error { return get().Reset() }

// SendBytes broadcasts a raw message.
func SendBytes(message []byte) error { return get().SendBytes(message) }

// Send broadcasts a UTF-8 string message.
func Send(message string) error { return get().Send(message) }

// ReceiveBytes pops the next raw message, if any.
func ReceiveBytes() ([]byte, bool) { return get().ReceiveBytes() }

// Receive pops the next string message, if any.
func Receive() (string, bool) { return get().Receive() }

// ReceiveFull pops the next mailbox entry in full, if any.
func ReceiveFull() (radio.Entry, bool) { return get().ReceiveFull() }
