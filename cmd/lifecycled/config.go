package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the daemon's bound configuration, loaded from flags and
// SWARM_* environment variables via viper and used as-is: no schema
// validation layer sits in front of it.
type Config struct {
	RootDir        string
	DBPath         string
	NATSURL        string
	ArchiveDays    int
	CompressDays   int
	SweepCron      string
	AgentLogMaxMB  int
	AgentLogBackup int
	AgentLogMaxAge int
	DebugAddr      string
}

func bindConfigFlags(flags *pflag.FlagSet) {
	flags.String("root-dir", "./data/workspace", "root of the workspace directory tree")
	flags.String("db-path", "./data/tasks.db", "path to the BoltDB task store file")
	flags.String("nats-url", "", "NATS server URL for notification fan-out (empty disables it)")
	flags.Int("archive-days", 7, "age in days after which completed tasks are archived")
	flags.Int("compress-days", 90, "age in days after which archived tasks are compressed")
	flags.String("sweep-cron", "0 */5 * * * *", "cron expression (with seconds) driving the periodic sweep")
	flags.Int("agent-log-max-mb", 10, "per-agent log file size before rotation")
	flags.Int("agent-log-backups", 5, "rotated per-agent log files to retain")
	flags.Int("agent-log-max-age", 30, "days to retain rotated per-agent log files")
	flags.String("debug-addr", ":8080", "listen address for the /health and /debug/stats endpoints")
}

func loadConfig(flags *pflag.FlagSet) Config {
	v := viper.New()
	v.SetEnvPrefix("SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	return Config{
		RootDir:        v.GetString("root-dir"),
		DBPath:         v.GetString("db-path"),
		NATSURL:        v.GetString("nats-url"),
		ArchiveDays:    v.GetInt("archive-days"),
		CompressDays:   v.GetInt("compress-days"),
		SweepCron:      v.GetString("sweep-cron"),
		AgentLogMaxMB:  v.GetInt("agent-log-max-mb"),
		AgentLogBackup: v.GetInt("agent-log-backups"),
		AgentLogMaxAge: v.GetInt("agent-log-max-age"),
		DebugAddr:      v.GetString("debug-addr"),
	}
}
