package config

import (
	"sort"
	"strings"

	logx "paneld/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections together with
// safe structured attrs for logging. Secrets (tokens) are reported only as
// set/unset booleans.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Daemon != newCfg.Daemon {
		changed = append(changed, "daemon")
		attrs = append(attrs,
			logx.String("daemon.base_url", strings.TrimSpace(newCfg.Daemon.BaseURL)),
			logx.Bool("daemon.token_set", strings.TrimSpace(newCfg.Daemon.Token) != ""),
			logx.String("daemon.timeout", strings.TrimSpace(newCfg.Daemon.Timeout)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick_interval", strings.TrimSpace(newCfg.Scheduler.TickInterval)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	if len(oldCfg.Seed) != len(newCfg.Seed) {
		changed = append(changed, "seed")
		attrs = append(attrs, logx.Int("seed.count", len(newCfg.Seed)))
	}

	sort.Strings(changed)
	return changed, attrs
}
