// Package config は環境変数ベースのアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// MQTT
	MQTTPort   string
	MQTTWSPort string

	// 運用HTTPサーバー（/health, /metrics）
	ServerPort string

	// タイムゾーン（IANA名）。スケジュール判定と日付境界はすべてこのゾーンで行う。
	Timezone string
	Location *time.Location

	// デバイス署名検証鍵。未設定なら組み込みの公開鍵を使用する。
	DeviceVerifyKeyPEM string

	// タグ読み取りモーダルのサーバー側タイムアウト
	ScanRequestTimeout time.Duration

	// リーダー死活監視
	StaleSweepInterval time.Duration
	StaleThreshold     time.Duration

	// Webhook
	WebhookTimeout      time.Duration
	WebhookAllowPrivate bool // LAN上のHome Assistant等へ送る場合はtrue
	WebhookRatePerSec   float64
	SummaryInterval     time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.Timezone = os.Getenv("TIMEZONE")
	if cfg.Timezone == "" {
		missing = append(missing, "TIMEZONE")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	// Optional fields with defaults
	cfg.MQTTPort = getEnvString("MQTT_PORT", "1887")
	cfg.MQTTWSPort = getEnvString("MQTT_WS_PORT", "8887")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.DeviceVerifyKeyPEM = os.Getenv("DEVICE_VERIFY_KEY")
	cfg.ScanRequestTimeout = getEnvDuration("SCAN_REQUEST_TIMEOUT", 60*time.Second)
	cfg.StaleSweepInterval = getEnvDuration("STALE_SWEEP_INTERVAL", 3*time.Minute)
	cfg.StaleThreshold = getEnvDuration("STALE_THRESHOLD", 3*time.Minute)
	cfg.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second)
	cfg.WebhookAllowPrivate = getEnvBool("WEBHOOK_ALLOW_PRIVATE", true)
	cfg.WebhookRatePerSec = getEnvFloat("WEBHOOK_RATE", 1.0)
	cfg.SummaryInterval = getEnvDuration("SUMMARY_INTERVAL", 10*time.Minute)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
