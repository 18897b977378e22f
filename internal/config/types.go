package config

import (
	"wellbeat/internal/queue"
	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Queue   QueueConfig   `json:"queue"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // pointer: omitted defaults to true
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// QueueConfig controls the job queue.
//
// Pools caps concurrent executions per job kind so a burst of reminder edits
// cannot starve dispatch. Zero values fall back to queue defaults.
type QueueConfig struct {
	Workers   int         `json:"workers,omitempty"`
	QueueSize int         `json:"queue_size,omitempty"`
	Pools     PoolsConfig `json:"pools,omitempty"`
}

type PoolsConfig struct {
	Dispatch    int `json:"dispatch,omitempty"`
	Completion  int `json:"completion,omitempty"`
	Maintenance int `json:"maintenance,omitempty"`
}

// Logx maps the logging section onto the logx service config.
func (c *Config) Logx() logx.Config {
	console := true
	if c.Logging.Console != nil {
		console = *c.Logging.Console
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

// Store maps the storage section onto the store config.
func (c *Config) Store() (store.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	path := c.Storage.Path
	if path == "" {
		path = "./wellbeat.db"
	}
	return store.Config{Path: path, BusyTimeout: busy}, nil
}

// QueueService maps the queue section onto the queue config.
func (c *Config) QueueService() queue.Config {
	return queue.Config{
		Workers:   c.Queue.Workers,
		QueueSize: c.Queue.QueueSize,
		PoolLimits: map[queue.Kind]int{
			queue.KindDispatch:    c.Queue.Pools.Dispatch,
			queue.KindCompletion:  c.Queue.Pools.Completion,
			queue.KindMaintenance: c.Queue.Pools.Maintenance,
		},
	}
}
