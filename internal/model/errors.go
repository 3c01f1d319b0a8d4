package model

// ScanError はスキャン拒否の理由を表す。Codeは機械可読の拒否コード、
// Messageはリーダーとモーダルに表示する英語メッセージ。
type ScanError struct {
	Code     string
	Message  string
	Severity string
}

func (e *ScanError) Error() string {
	return e.Code + ": " + e.Message
}

func newScanError(code, message string) *ScanError {
	return &ScanError{Code: code, Message: message, Severity: "error"}
}

// スキャン拒否コードのコンストラクタ群。メッセージは端末表示用の固定文言。
func ErrNoTagDetected() *ScanError {
	return newScanError("no_tag_detected", "No tag detected")
}

func ErrTagNotFound(tagID string) *ScanError {
	return newScanError("tag_not_found", "Unknown tag "+tagID)
}

func ErrAuthMethodMismatch() *ScanError {
	return newScanError("auth_method_mismatch", "This reader does not accept user tags")
}

func ErrUserNotFoundOrDisabled() *ScanError {
	return newScanError("user_not_found_or_disabled", "User not found or disabled")
}

func ErrNoUserSignedIn() *ScanError {
	return newScanError("no_user_signed_in", "Please sign in first")
}

func ErrChoreNotFoundOrDisabled() *ScanError {
	return newScanError("chore_not_found_or_disabled", "Chore not found or disabled")
}

func ErrNotScheduledToday(choreName string) *ScanError {
	return newScanError("not_due_or_assigned", choreName+" is not scheduled for today")
}

func ErrNotStartedYet(choreName, dueTime string) *ScanError {
	return newScanError("not_due_or_assigned", choreName+" does not start until "+dueTime)
}

// ErrNotAssignedToUser は当日の担当者名が分かる場合の拒否。
func ErrNotAssignedToUser(choreName, assigneeName string) *ScanError {
	return newScanError("not_assigned_to_user", "Not your turn: "+choreName+" is assigned to "+assigneeName+" today")
}

// ErrNotAssignedToday は担当者を特定できない場合の拒否。
// 担当者のいない手動チョアや空のプールはここに落ちる。
func ErrNotAssignedToday(choreName string) *ScanError {
	return newScanError("not_assigned_to_user", choreName+" is not assigned to you today")
}

func ErrAlreadyCompleted(choreName string) *ScanError {
	err := newScanError("already_completed", choreName+" is already completed today")
	err.Severity = "warning"
	return err
}

func ErrUnsupportedTagType() *ScanError {
	return newScanError("unsupported_tag_type", "Unsupported tag type")
}
