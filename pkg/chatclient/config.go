package chatclient

import (
	"scene_chat/internal/config"
)

// ConfigFrom строит клиентскую конфигурацию из серверной секции чата.
// Единственный путь получения лимитов и интервалов: значения, которые
// клиент показывает и применяет локально, совпадают с применяемыми
// сервером.
func ConfigFrom(chat config.ChatConfig, url, token string) Config {
	return Config{
		URL:               url,
		Token:             token,
		ReconnectBase:     chat.Reconnect.BaseInterval,
		ReconnectMax:      chat.Reconnect.MaxInterval,
		MaxAttempts:       chat.Reconnect.MaxAttempts,
		HeartbeatInterval: chat.Heartbeat.Interval,
		RateWindow:        chat.RateLimit.Window,
		RateLimit:         chat.RateLimit.Limit,
	}
}
