package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so YAML files and environment variables can
// spell values as "250ms" or "1s" instead of raw nanosecond integers.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Nanos returns the duration as integer nanoseconds.
func (d Duration) Nanos() int64 {
	return int64(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText implements encoding.TextUnmarshaler for envconfig.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Accepts "1s" strings or plain
// integers, which are read as nanoseconds.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := unmarshal(&n); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\" or integer nanoseconds")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func durationOf(s string) Duration {
	v, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("bad built-in duration %q: %v", s, err))
	}
	return Duration(v)
}
