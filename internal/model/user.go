package model

// User は家庭内のチョア担当者を表す。
// NFCTagIDはユーザーを識別するタグのタグID（user_tag_signinモード用）、
// AssignedReaderIDは固定割り当てされたリーダーのID（reader_assignedモード用）。
type User struct {
	ID               int64
	Username         string
	IsAdmin          bool
	Enabled          bool
	NFCTagID         string
	AssignedReaderID *int64
}

// TagType はNFCタグの用途種別。
type TagType string

const (
	TagTypeUser  TagType = "user"
	TagTypeChore TagType = "chore"
)

// Tag は登録済みNFCタグを表す。TagIDが物理タグのUIDに対応する。
type Tag struct {
	ID    int64
	Name  string
	TagID string
	Type  TagType
}
