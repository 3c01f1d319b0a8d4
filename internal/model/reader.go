// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
)

// Reader はNFCリーダーデバイスを表す。
// MACアドレスが安定した識別子で、初回登録publish時に行が作成される。
type Reader struct {
	ID           int64
	MacAddress   string
	Name         string
	FriendlyName string // 管理者が付けた表示名。未設定なら空文字列。
	IsOnline     bool
	LastSeen     time.Time
	IPAddress    string
	ModelNumber  string
}

// DisplayName は表示用のリーダー名を返す。
// friendly_nameが設定されていればそれを優先し、なければ登録名、
// どちらもなければMACアドレス末尾6桁から生成した名前を返す。
func (r *Reader) DisplayName() string {
	if r.FriendlyName != "" {
		return r.FriendlyName
	}
	if r.Name != "" {
		return r.Name
	}
	return DefaultReaderName(r.MacAddress)
}

// DefaultReaderName はMACアドレスからデフォルトのリーダー名を生成する。
func DefaultReaderName(macAddress string) string {
	compact := strings.ToUpper(strings.ReplaceAll(macAddress, ":", ""))
	if len(compact) > 6 {
		compact = compact[len(compact)-6:]
	}
	return fmt.Sprintf("Chorecast Reader %s", compact)
}

// ReaderSession はリーダーと現在サインイン中のユーザーの1対1対応を表す。
// user_tag_signin認証モードでのみ使用される、揮発的な状態。
type ReaderSession struct {
	ReaderMacAddress string
	UserID           int64
	SignedInAt       time.Time
}
