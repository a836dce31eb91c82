package config

import (
	"strings"
	"time"
)

// secretKeys lists the dot-separated keys whose values are masked on output.
var secretKeys = map[string]bool{
	"ai.api_key": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// flatten lists every setting under its dot-separated viper key. With
// durationsAsStrings set, durations are rendered like "30s".
func flatten(c *Config, durationsAsStrings bool) map[string]any {
	d := func(v time.Duration) any {
		if durationsAsStrings {
			return v.String()
		}
		return v
	}
	return map[string]any{
		"database.path":            c.Database.Path,
		"database.timeout":         d(c.Database.Timeout),
		"database.max_connections": c.Database.MaxConnections,

		"http.host":          c.HTTP.Host,
		"http.port":          c.HTTP.Port,
		"http.read_timeout":  d(c.HTTP.ReadTimeout),
		"http.write_timeout": d(c.HTTP.WriteTimeout),
		"http.cors_origin":   c.HTTP.CORSOrigin,

		"websocket.ping_interval": d(c.WebSocket.PingInterval),
		"websocket.read_timeout":  d(c.WebSocket.ReadTimeout),
		"websocket.write_timeout": d(c.WebSocket.WriteTimeout),
		"websocket.buffer_size":   c.WebSocket.BufferSize,

		"chat.typing_timeout":        d(c.Chat.TypingTimeout),
		"chat.max_message_length":    c.Chat.MaxMessageLength,
		"chat.rate_limit_per_minute": c.Chat.RateLimitPerMinute,
		"chat.context_window":        c.Chat.ContextWindow,
		"chat.history_limit":         c.Chat.HistoryLimit,

		"auth.token_ttl": d(c.Auth.TokenTTL),

		"ai.enabled":            c.AI.Enabled,
		"ai.provider":           c.AI.Provider,
		"ai.api_key":            c.AI.APIKey,
		"ai.base_url":           c.AI.BaseURL,
		"ai.model":              c.AI.Model,
		"ai.temperature":        c.AI.Temperature,
		"ai.max_tokens":         c.AI.MaxTokens,
		"ai.request_timeout":    d(c.AI.RequestTimeout),
		"ai.reuse_cooldown":     d(c.AI.ReuseCooldown),
		"ai.idle_eviction":      d(c.AI.IdleEviction),
		"ai.sweep_schedule":     c.AI.SweepSchedule,
		"ai.response_cooldown":  d(c.AI.ResponseCooldown),
		"ai.typing_delay_min":   d(c.AI.TypingDelayMin),
		"ai.typing_delay_max":   d(c.AI.TypingDelayMax),
		"ai.max_context_tokens": c.AI.MaxContextTokens,

		"log_level": c.LogLevel,
	}
}

// unflatten nests dot-separated keys back into maps.
func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for i, part := range parts {
			if i == len(parts)-1 {
				current[part] = v
				break
			}
			next, ok := current[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				current[part] = next
			}
			current = next
		}
	}
	return out
}

// maskSecrets replaces non-empty secret values with "***" and their last four
// characters.
func maskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			out[k] = v
			continue
		}
		if len(s) <= 4 {
			out[k] = "***" + s
		} else {
			out[k] = "***" + s[len(s)-4:]
		}
	}
	return out
}
