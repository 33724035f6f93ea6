package audit

// Default configuration values.
const (
	DefaultOutput     = "stdout"
	DefaultBufferSize = 1024
)

// Config configures the recorder.
type Config struct {
	// Output is "stdout", "stderr" or a file path opened for append.
	Output string

	// BufferSize bounds the queue of pending entries.
	BufferSize int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Output:     DefaultOutput,
		BufferSize: DefaultBufferSize,
	}
}

// GetEffectiveOutput returns the output, defaulting to stdout.
func (c *Config) GetEffectiveOutput() string {
	if c == nil || c.Output == "" {
		return DefaultOutput
	}
	return c.Output
}

// GetEffectiveBufferSize returns the queue size, defaulting when unset.
func (c *Config) GetEffectiveBufferSize() int {
	if c == nil || c.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return c.BufferSize
}
