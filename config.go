package fleetglow

import (
	"encoding"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"libdb.so/fleetglow/internal/led"
	"libdb.so/fleetglow/internal/message"
)

// Config is the configuration for the fleetglow daemon.
type Config struct {
	// Listen is the UDP address to receive feedback messages on.
	Listen string `toml:"listen"`
	// ReceiveSize is the maximum number of bytes read from one datagram.
	ReceiveSize int `toml:"receive_size"`
	// Baud is the baud rate for every serial connection.
	Baud int `toml:"baud"`
	// LoopPause is the pause after every iteration of the control loop.
	LoopPause TOMLDuration `toml:"loop_pause"`
	// OpenSettle is the pause after opening a serial port.
	OpenSettle TOMLDuration `toml:"open_settle"`
	// Readback makes devices wait for a reply byte after each frame.
	Readback bool `toml:"readback"`
	// Simulate runs every device in simulated mode.
	Simulate bool `toml:"simulate"`
	// Ambient configures the ambient animation.
	Ambient AmbientConfig `toml:"ambient"`
	// Reactive configures the frames sent in response to messages.
	Reactive ReactiveConfig `toml:"reactive"`
	// Devices is the ordered list of devices.
	Devices []DeviceConfig `toml:"device"`
}

// AmbientConfig is the configuration for the ambient animation. With the
// defaults, speeds fall in [25, 100) and lengths in (5, 50].
type AmbientConfig struct {
	Color      led.RGBColor `toml:"color"`
	FieldPause TOMLDuration `toml:"field_pause"`
	MinSpeed   int          `toml:"min_speed"`
	SpeedSpan  int          `toml:"speed_span"`
	MaxLength  int          `toml:"max_length"`
	LengthSpan int          `toml:"length_span"`
}

// ReactiveConfig is the configuration for reactive frames.
type ReactiveConfig struct {
	// Color is the color shown for a correct answer.
	Color       led.RGBColor `toml:"color"`
	Speed       int          `toml:"speed"`
	Length      int          `toml:"length"`
	FieldPause  TOMLDuration `toml:"field_pause"`
	DevicePause TOMLDuration `toml:"device_pause"`
}

// DeviceConfig is the configuration for a single device.
type DeviceConfig struct {
	// Name is an optional human-readable name. The path is used if empty.
	Name string `toml:"name,omitempty"`
	// Path is the path to the serial device, usually /dev/ttyACM0.
	Path string `toml:"path"`
	// Strands is the number of strands connected to the device.
	Strands int `toml:"strands"`
	// Simulated writes frames to standard output instead of the device.
	Simulated bool `toml:"simulated"`
}

// DisplayName returns the name of the device, or its path if it has none.
func (c DeviceConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Path
}

// DefaultConfig returns the default configuration. It has no devices.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "0.0.0.0:5005",
		ReceiveSize: 4096,
		Baud:        9600,
		LoopPause:   TOMLDuration(200 * time.Millisecond),
		OpenSettle:  TOMLDuration(100 * time.Millisecond),
		Ambient: AmbientConfig{
			Color:      led.RGB(0x00, 0xFF, 0xFF),
			FieldPause: TOMLDuration(50 * time.Millisecond),
			MinSpeed:   25,
			SpeedSpan:  75,
			MaxLength:  50,
			LengthSpan: 45,
		},
		Reactive: ReactiveConfig{
			Color:       message.DefaultStyle.Correct,
			Speed:       message.DefaultStyle.Speed,
			Length:      message.DefaultStyle.Length,
			FieldPause:  TOMLDuration(25 * time.Millisecond),
			DevicePause: TOMLDuration(75 * time.Millisecond),
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.Wrapf(err, "invalid listen address %q", c.Listen)
	}

	if c.ReceiveSize < 1 {
		return fmt.Errorf("invalid receive size %d", c.ReceiveSize)
	}

	if c.Baud < 1 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}

	if len(c.Devices) == 0 {
		return errors.New("no devices configured")
	}

	for i, d := range c.Devices {
		if d.Path == "" && !(d.Simulated || c.Simulate) {
			return fmt.Errorf("device %d has no path", i)
		}
		if d.Strands < 1 {
			return fmt.Errorf("device %s has invalid strand count %d", d.DisplayName(), d.Strands)
		}
	}

	return nil
}

// MessageStyle returns the style of reactive frames.
func (c *Config) MessageStyle() message.Style {
	return message.Style{
		Correct: c.Reactive.Color,
		Speed:   c.Reactive.Speed,
		Length:  c.Reactive.Length,
	}
}

// ReactiveOptions returns the transmit options for reactive frames.
func (c *Config) ReactiveOptions() TransmitOptions {
	return TransmitOptions{
		FieldPause: time.Duration(c.Reactive.FieldPause),
		Readback:   c.Readback,
	}
}

// AmbientStyle returns the style of ambient frames.
func (c *Config) AmbientStyle() AmbientStyle {
	return AmbientStyle{
		Color:      c.Ambient.Color,
		MinSpeed:   c.Ambient.MinSpeed,
		SpeedSpan:  c.Ambient.SpeedSpan,
		MaxLength:  c.Ambient.MaxLength,
		LengthSpan: c.Ambient.LengthSpan,
		Options: TransmitOptions{
			FieldPause: time.Duration(c.Ambient.FieldPause),
			Readback:   c.Readback,
		},
	}
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader. Values missing from the
// input keep their defaults from DefaultConfig.
func ParseConfig(r io.Reader) (*Config, error) {
	config := DefaultConfig()
	if err := toml.NewDecoder(r).Decode(config); err != nil {
		return nil, err
	}
	return config, nil
}
