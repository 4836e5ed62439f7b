package config

import (
	"github.com/RobinCK/flowmesh/pkg/engine/events"
	"github.com/RobinCK/flowmesh/pkg/logger"
)

// ToLoggerConfig converts LoggerConfig to logger.Config.
func (c LoggerConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddCaller:  c.AddCaller,
		Stacktrace: c.Stacktrace,
	}
}

// ToEventsConfig converts KafkaConfig to the lifecycle event publisher's
// Config. There is no consumer group here, the publisher only produces.
func (c KafkaConfig) ToEventsConfig() events.Config {
	return events.Config{
		Brokers: c.Brokers,
		Topic:   c.Topic,
	}
}
