package mq

import "time"

// ConsumerConfig is the yaml form of SubscribeOptions.
type ConsumerConfig struct {
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	MessageTTL      time.Duration `yaml:"messageTTL"`
}

// SubscribeOptions converts the config and applies defaults.
func (c ConsumerConfig) SubscribeOptions() *SubscribeOptions {
	opts := &SubscribeOptions{
		ConsumerGroup:   c.ConsumerGroup,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		DeadLetterTopic: c.DeadLetterTopic,
		MessageTTL:      c.MessageTTL,
	}
	opts.SetDefaults()
	return opts
}
