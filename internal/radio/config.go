package radio

import "fmt"

// Data rate constants.
const (
	Rate250KBit = 250
	Rate1MBit   = 1000
	Rate2MBit   = 2000
)

const (
	maxAddress = 1<<31 - 1
	// MaxPower is used both to validate the power field and to derive
	// RSSI.
	MaxPower = 7
)

// Config is the radio's configuration. Defaults match the micro:bit
// runtime: Length=32, Queue=3, Channel=7, Power=6, Address=0x75626974,
// Group=0, DataRate=Rate1MBit.
type Config struct {
	Length   int
	Queue    int
	Channel  int
	Power    int
	Address  uint32
	Group    int
	DataRate int
}

// DefaultConfig returns the radio's default configuration.
func DefaultConfig() Config {
	return Config{
		Length:   32,
		Queue:    3,
		Channel:  7,
		Power:    6,
		Address:  0x75626974,
		Group:    0,
		DataRate: Rate1MBit,
	}
}

// Validate checks every field against its range. Unset optional
// fields should be filled in from DefaultConfig before calling Validate.
func (c Config) Validate() error {
	if c.Length < 1 || c.Length > 254 {
		return fmt.Errorf("%w: length must be between 1 and 254", ErrConfiguration)
	}
	if c.Queue < 1 {
		return fmt.Errorf("%w: queue must be at least 1", ErrConfiguration)
	}
	if c.Channel < 0 || c.Channel > 83 {
		return fmt.Errorf("%w: channel must be between 0 and 83", ErrConfiguration)
	}
	if c.Power < 0 || c.Power > MaxPower {
		return fmt.Errorf("%w: power must be between 0 and 7", ErrConfiguration)
	}
	if c.Address > maxAddress {
		return fmt.Errorf("%w: address must be between 0 and 2^31-1", ErrConfiguration)
	}
	if c.Group < 0 || c.Group > 255 {
		return fmt.Errorf("%w: group must be between 0 and 255", ErrConfiguration)
	}
	if c.DataRate != Rate250KBit && c.DataRate != Rate1MBit && c.DataRate != Rate2MBit {
		return fmt.Errorf("%w: data_rate must be 250, 1000 or 2000", ErrConfiguration)
	}
	return nil
}

// tag returns the canonical channel<N>group<M> form.
func (c Config) tag() string {
	return fmt.Sprintf("channel%dgroup%d", c.Channel, c.Group)
}
