package model

import "time"

// 署名検証失敗の段階的ロックアウト定数。
// 失敗が5回連続するとBANが発動し、BAN回数が3回に達すると
// クールダウンが5分から24時間に引き上がる（2段階エスカレーション）。
const (
	BanFailureThreshold = 5
	BanLongThreshold    = 3
	BanShortCooldown    = 5 * time.Minute
	BanLongCooldown     = 24 * time.Hour
)

// BanRecord はデバイスごとの署名検証失敗カウンタとBAN期限を表す。
// 初回失敗時に遅延作成され、検証成功でカウンタとBAN期限がリセットされる。
type BanRecord struct {
	MacAddress     string
	FailedAttempts int
	BanCount       int
	LastAttemptAt  time.Time
	BanExpiresAt   *time.Time // 非nilかつ未来ならすべての接続・publishを拒否する
}

// BannedUntil は現時点でBANが有効ならその期限を返す。
func (b *BanRecord) BannedUntil(now time.Time) (time.Time, bool) {
	if b == nil || b.BanExpiresAt == nil {
		return time.Time{}, false
	}
	if now.Before(*b.BanExpiresAt) {
		return *b.BanExpiresAt, true
	}
	return time.Time{}, false
}

// RecordFailure は署名検証失敗を1回記録した後の状態遷移を適用する。
// 失敗回数が閾値に達するとカウンタをゼロに戻し、BAN回数を進め、
// BAN回数に応じた期限を設定する。
func (b *BanRecord) RecordFailure(now time.Time) {
	b.FailedAttempts++
	b.LastAttemptAt = now

	if b.FailedAttempts >= BanFailureThreshold {
		b.FailedAttempts = 0
		b.BanCount++
		cooldown := BanShortCooldown
		if b.BanCount >= BanLongThreshold {
			cooldown = BanLongCooldown
		}
		expiry := now.Add(cooldown)
		b.BanExpiresAt = &expiry
	}
}
