// Package mqtt はブローカー組み込みのトピック体系、ペイロード定義、
// 認可テーブル、およびフック配線を提供する。
package mqtt

import (
	"fmt"
	"strings"
)

// 固定トピック。
const (
	TopicRegister   = "chorecast/readers/register"
	TopicFeedback   = "chorecast/feedback"
	TopicDashboard  = "chorecast/updates/dashboard"
	TopicStatistics = "chorecast/updates/statistics"
)

// クライアントID接頭辞。接続時のクラス分類に使う。
const (
	readerClientPrefix   = "chorecast-reader-"
	frontendClientPrefix = "chorecast_frontend_"
)

// StatusTopic はリーダーのハートビート兼ステータス配信トピック。
func StatusTopic(macAddress string) string {
	return "chorecast/reader/status/" + macAddress
}

// ScanTopic はリーダーのスキャン結果トピック。
func ScanTopic(macAddress string) string {
	return "chorecast/scan/" + macAddress
}

// CommandTopic はサーバーからリーダーへのコマンドトピック。
func CommandTopic(macAddress string) string {
	return "chorecast/reader/" + macAddress + "/command"
}

// ScanCommandTopic は管理クライアントからリーダーへのスキャン指示トピック。
func ScanCommandTopic(macAddress string) string {
	return "chorecast/reader/" + macAddress + "/scan_command"
}

// UserStatusTopic はユーザー個別のフィードバックトピック。
func UserStatusTopic(userID int64) string {
	return fmt.Sprintf("chorecast/user/%d/status", userID)
}

// ClientClass はMQTTクライアントの種別。
type ClientClass int

const (
	ClassAnonymous ClientClass = iota
	ClassReader
	ClassFrontend
)

func (c ClientClass) String() string {
	switch c {
	case ClassReader:
		return "reader"
	case ClassFrontend:
		return "frontend"
	}
	return "anonymous"
}

// Classify はクライアントIDから種別を判定する。
func Classify(clientID string) ClientClass {
	switch {
	case strings.HasPrefix(clientID, readerClientPrefix):
		return ClassReader
	case strings.HasPrefix(clientID, frontendClientPrefix):
		return ClassFrontend
	}
	return ClassAnonymous
}

// ReaderMacFromClientID はリーダーのクライアントIDからMACアドレス部分を取り出す。
// リーダー以外のクライアントIDでは空文字列を返す。
func ReaderMacFromClientID(clientID string) string {
	if !strings.HasPrefix(clientID, readerClientPrefix) {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(clientID, readerClientPrefix))
}

// クラスごとの許可パターン。該当しないものはすべて拒否する。
var publishPolicy = map[ClientClass][]string{
	ClassReader: {
		"chorecast/readers/register",
		"chorecast/reader/status/+",
		"chorecast/scan/+",
	},
	ClassFrontend: {
		"chorecast/reader/+/command",
		"chorecast/reader/+/scan_command",
	},
}

var subscribePolicy = map[ClientClass][]string{
	ClassReader: {
		"chorecast/reader/+/command",
		"chorecast/reader/+/scan_command",
	},
	ClassFrontend: {
		"chorecast/reader/status/+",
		"chorecast/feedback",
		"chorecast/user/+/status",
		"chorecast/updates/#",
	},
}

// CanPublish は指定クラスのクライアントがtopicへpublishできるかを返す。
func CanPublish(class ClientClass, topic string) bool {
	for _, pattern := range publishPolicy[class] {
		if coversFilter(pattern, topic) {
			return true
		}
	}
	return false
}

// CanSubscribe は指定クラスのクライアントがfilterを購読できるかを返す。
// filterはワイルドカードを含んでよく、許可パターンが購読範囲全体を
// 覆っている場合のみ許可する。
func CanSubscribe(class ClientClass, filter string) bool {
	for _, pattern := range subscribePolicy[class] {
		if coversFilter(pattern, filter) {
			return true
		}
	}
	return false
}

// coversFilter はpatternがfilterにマッチする全トピックをカバーするかを返す。
func coversFilter(pattern, filter string) bool {
	patternParts := strings.Split(pattern, "/")
	filterParts := strings.Split(filter, "/")

	for i, part := range patternParts {
		if part == "#" {
			return true
		}
		if i >= len(filterParts) {
			return false
		}
		switch part {
		case "+":
			// filter側の"#"は複数階層に及ぶためカバーできない
			if filterParts[i] == "#" {
				return false
			}
		default:
			if filterParts[i] != part {
				return false
			}
		}
	}
	return len(patternParts) == len(filterParts)
}
