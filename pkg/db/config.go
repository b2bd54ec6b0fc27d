package db

// Config carries connection settings for the configured dialect. Pool
// values are optional; zero leaves the driver default untouched.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int // seconds
	ConnMaxIdleTime int // seconds
}
