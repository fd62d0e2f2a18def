package app

import (
	"strings"

	"github.com/charlesng35/guildstats/internal/cache"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	cfg := cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}

	sentinel := c.Redis.Sentinel
	if master := strings.TrimSpace(sentinel.MasterName); master != "" {
		addresses := make([]string, 0, len(sentinel.Addresses))
		for _, addr := range sentinel.Addresses {
			if addr = strings.TrimSpace(addr); addr != "" {
				addresses = append(addresses, addr)
			}
		}
		cfg.Sentinel = &cache.RedisSentinelConfig{
			MasterName: master,
			Addresses:  addresses,
			Username:   strings.TrimSpace(sentinel.Username),
			Password:   sentinel.Password,
		}
	}
	return cfg
}
