// shared/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
)

// CommonConfig holds infrastructure details shared by every process in the
// repo: database, brokers and cache.
type CommonConfig struct {
	// DATABASE_URL wins over the DB_* parts when set (Supabase hands out a
	// full connection string).
	DATABASE_URL string
	DB_USER      string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSLMODE   string

	KAFKA_TOPIC  string
	KAFKA_BROKER string

	RABBITMQ_USER     string
	RABBITMQ_PASSWORD string
	RABBITMQ_HOST     string
	RABBITMQ_PORT     string
	RABBITMQ_QUEUE    string

	REDIS_URL string
}

// LoadCommonConfig returns the shared infrastructure config.
func LoadCommonConfig() *CommonConfig {
	return &CommonConfig{
		DATABASE_URL: os.Getenv("DATABASE_URL"),
		DB_USER:      os.Getenv("DB_USER"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_HOST:      os.Getenv("DB_HOST"),
		DB_PORT:      os.Getenv("DB_PORT"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_SSLMODE:   os.Getenv("DB_SSLMODE"),

		KAFKA_TOPIC:  os.Getenv("KAFKA_TOPIC"),
		KAFKA_BROKER: os.Getenv("KAFKA_BROKER"),

		RABBITMQ_USER:     os.Getenv("RABBITMQ_USER"),
		RABBITMQ_PASSWORD: os.Getenv("RABBITMQ_PASSWORD"),
		RABBITMQ_HOST:     os.Getenv("RABBITMQ_HOST"),
		RABBITMQ_PORT:     os.Getenv("RABBITMQ_PORT"),
		RABBITMQ_QUEUE:    os.Getenv("RABBITMQ_QUEUE"),

		REDIS_URL: os.Getenv("REDIS_URL"),
	}
}

// GetDBURL returns the PostgreSQL connection string, or "" when nothing is
// configured.
func (c *CommonConfig) GetDBURL() string {
	if c.DATABASE_URL != "" {
		return c.DATABASE_URL
	}
	if c.DB_HOST == "" {
		return ""
	}
	port := c.DB_PORT
	if port == "" {
		port = "5432"
	}
	sslmode := c.DB_SSLMODE
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.DB_USER, c.DB_PASSWORD, c.DB_HOST, port, c.DB_NAME, sslmode)
}

// KafkaEnabled reports whether events should go to Kafka.
func (c *CommonConfig) KafkaEnabled() bool {
	return strings.TrimSpace(c.KAFKA_BROKER) != ""
}

// RabbitMQEnabled reports whether events should go to RabbitMQ.
func (c *CommonConfig) RabbitMQEnabled() bool {
	return c.RABBITMQ_HOST != ""
}

// GetRabbitMQURL formats the config into a RabbitMQ connection string.
func (c *CommonConfig) GetRabbitMQURL() string {
	// standard port when missing
	host := c.RABBITMQ_HOST
	if host == "" {
		host = "localhost"
	}
	port := c.RABBITMQ_PORT
	if port == "" {
		port = "5672"
	}

	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		c.RABBITMQ_USER, c.RABBITMQ_PASSWORD, host, port)
}

// GetRabbitMQQueue is the queue ledger events are published to.
func (c *CommonConfig) GetRabbitMQQueue() string {
	if c.RABBITMQ_QUEUE == "" {
		return "ledger-events"
	}
	return c.RABBITMQ_QUEUE
}

// GetKafkaTopic is the topic ledger events are published to.
func (c *CommonConfig) GetKafkaTopic() string {
	if c.KAFKA_TOPIC == "" {
		return "ledger-events"
	}
	return c.KAFKA_TOPIC
}
