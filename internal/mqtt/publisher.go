package mqtt

// Publisher はサーバー発のJSON publishを行うインターフェース。
// 実装はブローカー組み込みのインラインクライアントが提供する。
type Publisher interface {
	PublishJSON(topic string, payload any) error
}
