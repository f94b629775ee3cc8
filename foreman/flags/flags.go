package flags

import (
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"

	Data            = "data"
	Pool            = "pool"
	Preemption      = "preemption"
	AgingInterval   = "aging-interval"
	ForecastWindow  = "forecast-window"
	ForecastHorizon = "forecast-horizon"
	MaxRetries      = "max-retries"
	RetryDelay      = "retry-delay"
	Resume          = "resume"
)

// Setup registers the scheduler flags on the given flag set and binds them
// into viper, with FOREMAN_* environment variables as overrides.
func Setup(flags *flag.FlagSet) {
	// Foreman
	flags.String(LogFormat, "text", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.String(Data, ".foreman", "data directory for state snapshots and checkpoints")

	// Scheduler
	flags.StringSlice(Pool, []string{"cpu=" + strconv.Itoa(runtime.NumCPU())}, "resource pool capacities, as kind=amount")
	flags.String(Preemption, "never", "preemption policy (never, lower-priority, deadline-override)")
	flags.Duration(AgingInterval, 1*time.Minute, "how long a queued task waits before its priority is bumped (0 disables aging)")
	flags.Duration(ForecastWindow, 15*time.Minute, "ledger window feeding the resource usage forecast")
	flags.Duration(ForecastHorizon, 5*time.Minute, "forecast horizon for the low-priority admission throttle (0 disables throttling)")
	flags.Int(MaxRetries, 3, "default retry budget for tasks without their own")
	flags.Duration(RetryDelay, 5*time.Second, "default base delay between retries, doubled on each attempt")
	flags.Bool(Resume, false, "resume from the last state snapshot instead of starting fresh")

	// Init
	viper.SetEnvPrefix("foreman")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
