package cfg

import "time"

type Cfg struct {
	// Storage configuration
	DBPath        string
	RedisAddr     string
	RedisPassword string
	ReplayTTL     time.Duration

	// Application configuration
	DestinationsDir string
	Port            string
	WorkerCount     int
	SweepInterval   time.Duration
	PublishTimeout  time.Duration
	APIAccessKey    string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
