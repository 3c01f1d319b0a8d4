package mqtt

import (
	"encoding/json"
	"fmt"
)

// Registration はリーダーの登録publishのペイロード。
// modelHashがモデル番号に対する署名（hex形式のASN.1 DER）を運ぶ。
type Registration struct {
	MacAddress string `json:"macAddress"`
	IPAddress  string `json:"ipAddress,omitempty"`
	Name       string `json:"name,omitempty"`
	Model      string `json:"model,omitempty"`
	ModelHash  string `json:"modelHash,omitempty"`
}

// DecodeRegistration は登録ペイロードを復号する。
// フィールドの欠落は署名検証側が個別メッセージで扱うため、ここでは
// JSONとして壊れている場合のみエラーにする。
func DecodeRegistration(data []byte) (Registration, error) {
	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return Registration{}, fmt.Errorf("登録ペイロードの復号に失敗しました: %w", err)
	}
	return reg, nil
}

// ReaderStatus はリーダーのハートビートとステータス配信のペイロード。
// リーダーからのハートビートとサーバーからのブロードキャストで同じ形を使う。
// ハートビートは登録と同じくmodelとmodelHashで署名を運ぶ。
type ReaderStatus struct {
	MacAddress string `json:"macAddress"`
	Name       string `json:"name,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`
	Model      string `json:"model,omitempty"`
	ModelHash  string `json:"modelHash,omitempty"`
	Online     bool   `json:"online"`
}

// DecodeReaderStatus はハートビートペイロードを復号する。
func DecodeReaderStatus(data []byte) (ReaderStatus, error) {
	var status ReaderStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return ReaderStatus{}, fmt.Errorf("ステータスペイロードの復号に失敗しました: %w", err)
	}
	if status.MacAddress == "" {
		return ReaderStatus{}, fmt.Errorf("ステータスペイロードにmacAddressがありません")
	}
	return status, nil
}

// Scan はリーダーのタグスキャン結果のペイロード。
// 通常スキャンはtagIdのみ、モーダルフローではrequestIdとstatusを伴う。
// ファームウェアが署名フィールドを含める場合はpublishごとに検証される。
type Scan struct {
	TagID      string `json:"tagId,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	MacAddress string `json:"macAddress,omitempty"`
	Model      string `json:"model,omitempty"`
	ModelHash  string `json:"modelHash,omitempty"`
}

// DecodeScan はスキャンペイロードを復号する。
func DecodeScan(data []byte) (Scan, error) {
	var scan Scan
	if err := json.Unmarshal(data, &scan); err != nil {
		return Scan{}, fmt.Errorf("スキャンペイロードの復号に失敗しました: %w", err)
	}
	return scan, nil
}

// Command はサーバーからリーダーへのコマンドペイロード。
// リーダーはstatusとmessageを画面に表示する。
type Command struct {
	Command string `json:"command,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ScanCommand は管理クライアントからのスキャン指示のペイロード。
type ScanCommand struct {
	Command   string `json:"command"`
	RequestID string `json:"requestId"`
	UserID    int64  `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DecodeScanCommand はスキャン指示ペイロードを復号する。
func DecodeScanCommand(data []byte) (ScanCommand, error) {
	var cmd ScanCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return ScanCommand{}, fmt.Errorf("スキャン指示ペイロードの復号に失敗しました: %w", err)
	}
	if cmd.Command == "" {
		return ScanCommand{}, fmt.Errorf("スキャン指示ペイロードにcommandがありません")
	}
	return cmd, nil
}

// ModalFeedback はモーダルフローのフィードバックイベント。
// chorecast/feedbackへ配信され、typeは常に"scan_modal_feedback"。
type ModalFeedback struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	TagID     string `json:"tagId,omitempty"`
	RequestID string `json:"requestId"`
}

// NewModalFeedback はフィードバックイベントを組み立てる。
func NewModalFeedback(requestID, status, message, tagID string) ModalFeedback {
	return ModalFeedback{
		Type:      "scan_modal_feedback",
		Status:    status,
		Message:   message,
		TagID:     tagID,
		RequestID: requestID,
	}
}

// ChoreEvent はチョア完了・サインイン・サインアウトのブロードキャスト。
type ChoreEvent struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	ChoreID  int64  `json:"choreId,omitempty"`
	UserID   int64  `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

// ChoreEventのtype値。
const (
	EventChoreCompleted = "chore_completed"
	EventUserSignedIn   = "user_signed_in"
	EventUserSignedOut  = "user_signed_out"
)

// UserStatus はユーザー個別トピックへのフィードバックペイロード。
type UserStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
