// Package broker は組み込みMQTTブローカーの組み立てとフック配線を担う。
package broker

import (
	"encoding/json"
	"fmt"
	"log/slog"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/hitoshi/chorecast/internal/mqtt"
)

// Options はブローカーの待ち受け設定。
type Options struct {
	TCPAddress string
	WSAddress  string
	Logger     *slog.Logger
}

// Broker は組み込みMQTTブローカー。TCPとWebSocketで待ち受け、
// サーバー発のpublishはインラインクライアントで行う。
type Broker struct {
	server *mochi.Server
	logger *slog.Logger
}

// New はリスナーを登録済みのBrokerを生成する。Serveを呼ぶまで待ち受けは始まらない。
func New(opts Options) (*Broker, error) {
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       opts.Logger,
	})

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: opts.TCPAddress})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("TCPリスナーの登録に失敗しました: %w", err)
	}
	ws := listeners.NewWebsocket(listeners.Config{ID: "ws", Address: opts.WSAddress})
	if err := server.AddListener(ws); err != nil {
		return nil, fmt.Errorf("WebSocketリスナーの登録に失敗しました: %w", err)
	}

	return &Broker{server: server, logger: opts.Logger}, nil
}

// AttachHook は認証・認可・配信処理のフックを登録する。
func (b *Broker) AttachHook(hook *Hook) error {
	if err := b.server.AddHook(hook, nil); err != nil {
		return fmt.Errorf("フックの登録に失敗しました: %w", err)
	}
	return nil
}

// Publisher はインラインクライアント経由のPublisherを返す。
func (b *Broker) Publisher() mqtt.Publisher {
	return &inlinePublisher{server: b.server}
}

// Serve はブローカーの待ち受けを開始する。
func (b *Broker) Serve() error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("ブローカーの起動に失敗しました: %w", err)
	}
	return nil
}

// Close はブローカーを停止する。
func (b *Broker) Close() error {
	return b.server.Close()
}

// inlinePublisher はブローカーのインラインクライアントでJSONを配信する。
type inlinePublisher struct {
	server *mochi.Server
}

func (p *inlinePublisher) PublishJSON(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ペイロードのエンコードに失敗しました: %w", err)
	}
	if err := p.server.Publish(topic, data, false, 0); err != nil {
		return fmt.Errorf("publishに失敗しました: %w", err)
	}
	return nil
}
