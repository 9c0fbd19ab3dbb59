package config

type Config struct {
	LogLevel string // debug/info/warn/error
	Debug    bool

	// ImmediateSeconds sizes the first buffer scheduled after a seek or
	// play, DeferredSeconds every buffer decoded ahead after that.
	ImmediateSeconds float64
	DeferredSeconds  float64

	DeviceID    string
	PeriodMS    int
	NoAudio     bool
	MetricsAddr string
}
