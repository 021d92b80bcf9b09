// Package nwwatch defines shared data structures for nwwatch.
package nwwatch

// Device describes one monitored network device. Devices are immutable
// for the process lifetime; they are owned by configuration.
type Device struct {
	Name           string `yaml:"name"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port,omitempty"`
	Username       string `yaml:"username"`
	PasswordEnvKey string `yaml:"password_env_key,omitempty"`
	DeviceType     string `yaml:"device_type"`
	PingHost       string `yaml:"ping_host,omitempty"`
}

// PingTarget returns the host used for reachability probes. It defaults
// to the SSH host when no dedicated ping host is configured.
func (d Device) PingTarget() string {
	if d.PingHost != "" {
		return d.PingHost
	}
	return d.Host
}

// CommandFilters holds per-command output filter overrides. A nil slice
// means "use the global filters"; an empty slice disables filtering for
// that command.
type CommandFilters struct {
	LineExcludeSubstrings   []string `yaml:"line_exclude_substrings,omitempty"`
	OutputExcludeSubstrings []string `yaml:"output_exclude_substrings,omitempty"`
}

// Command describes one command collected from every device. Schedule
// (cron) and IntervalSeconds are mutually exclusive; with neither set the
// command follows the global default interval.
type Command struct {
	Text            string          `yaml:"command_text"`
	Schedule        string          `yaml:"schedule,omitempty"`
	IntervalSeconds int             `yaml:"interval_seconds,omitempty"`
	Filters         *CommandFilters `yaml:"filters,omitempty"`
}

// Run is one recorded execution of one command against one device.
// Runs are append-only and never mutated after creation.
type Run struct {
	ID                int64
	Device            string
	Command           string
	Timestamp         int64 // epoch seconds
	Output            string
	OK                bool
	Error             string
	DurationMS        float64
	Filtered          bool
	Truncated         bool
	OriginalLineCount int
}

// PingSample is one recorded reachability probe of one device. RTTMS is
// nil when the probe failed or the round-trip time could not be parsed.
type PingSample struct {
	ID        int64
	Device    string
	Timestamp int64 // epoch seconds
	OK        bool
	RTTMS     *float64
	Error     string
}
