package store

import "time"

// Config holds database configuration.
type Config struct {
	DSN             string        `env:"DATABASE_DSN"               envDefault:"file:kiln.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS"    envDefault:"4"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS"    envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"1h"`
	ImageBaseURL    string        `env:"IMAGE_BASE_URL"             envDefault:"/v1/images"`
	MaxTags         int           `env:"TAGGER_MAX_TAGS"            envDefault:"10"`
}
