package broker

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/hitoshi/chorecast/internal/metrics"
	"github.com/hitoshi/chorecast/internal/mqtt"
	"github.com/hitoshi/chorecast/internal/scan"
	"github.com/hitoshi/chorecast/internal/trust"
)

// Hook はブローカーのイベントをチョアキャストの各コンポーネントへ橋渡しする。
// 接続認証はBAN台帳、認可はクライアント種別ごとのトピック表、publishは
// トピックに応じて登録・ハートビート・スキャン・モーダル開始へ振り分ける。
type Hook struct {
	mochi.HookBase

	gate       *trust.Gate
	tracker    *mqtt.Tracker
	correlator *scan.Correlator
	processor  *scan.Processor
	pub        mqtt.Publisher
	collector  *metrics.Collector
	logger     *slog.Logger
}

// HookDeps はHookの依存をまとめる。
type HookDeps struct {
	Gate       *trust.Gate
	Tracker    *mqtt.Tracker
	Correlator *scan.Correlator
	Processor  *scan.Processor
	Publisher  mqtt.Publisher
	Collector  *metrics.Collector
	Logger     *slog.Logger
}

// NewHook はHookを生成する。
func NewHook(deps HookDeps) *Hook {
	return &Hook{
		gate:       deps.Gate,
		tracker:    deps.Tracker,
		correlator: deps.Correlator,
		processor:  deps.Processor,
		pub:        deps.Publisher,
		collector:  deps.Collector,
		logger:     deps.Logger,
	}
}

// ID はフックの識別子を返す。
func (h *Hook) ID() string {
	return "chorecast"
}

// Provides は処理対象のブローカーイベントを申告する。
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnConnectAuthenticate,
		mochi.OnACLCheck,
		mochi.OnPublish,
		mochi.OnSessionEstablished,
		mochi.OnDisconnect,
	}, []byte{b})
}

// OnConnectAuthenticate は接続時の入場判定。リーダーはBAN台帳を確認し、
// BAN中なら接続ごと拒否する。その他のクライアントは接続を許し、
// トピック認可で締める。
func (h *Hook) OnConnectAuthenticate(cl *mochi.Client, pk packets.Packet) bool {
	if mqtt.Classify(cl.ID) != mqtt.ClassReader {
		return true
	}

	macAddress := mqtt.ReaderMacFromClientID(cl.ID)
	decision := h.gate.AdmitConnection(context.Background(), macAddress)
	if !decision.Allow {
		h.logger.Warn("BAN中のリーダーの接続を拒否しました",
			slog.String("client_id", cl.ID),
			slog.String("message", decision.Message))
		return false
	}
	return true
}

// OnACLCheck はトピックごとの認可判定。
func (h *Hook) OnACLCheck(cl *mochi.Client, topic string, write bool) bool {
	if cl.Net.Inline {
		return true
	}
	class := mqtt.Classify(cl.ID)
	allowed := mqtt.CanSubscribe(class, topic)
	if write {
		allowed = mqtt.CanPublish(class, topic)
	}
	if !allowed {
		h.logger.Info("トピックアクセスを拒否しました",
			slog.String("client_id", cl.ID),
			slog.String("class", class.String()),
			slog.String("topic", topic),
			slog.Bool("write", write))
	}
	return allowed
}

// OnPublish は受信publishをトピックに応じて処理する。処理対象の
// 生publishは配送せず、サーバーが整形済みのメッセージを配り直す。
func (h *Hook) OnPublish(cl *mochi.Client, pk packets.Packet) (packets.Packet, error) {
	if cl.Net.Inline {
		return pk, nil
	}

	ctx := context.Background()
	topic := pk.TopicName

	switch {
	case topic == mqtt.TopicRegister:
		h.handleRegister(ctx, cl, pk.Payload)
		return pk, packets.ErrRejectPacket

	case strings.HasPrefix(topic, "chorecast/reader/status/"):
		h.handleStatus(ctx, strings.TrimPrefix(topic, "chorecast/reader/status/"), pk.Payload)
		return pk, packets.ErrRejectPacket

	case strings.HasPrefix(topic, "chorecast/scan/"):
		h.handleScan(ctx, strings.TrimPrefix(topic, "chorecast/scan/"), pk.Payload)
		return pk, packets.ErrRejectPacket

	case strings.HasPrefix(topic, "chorecast/reader/") && strings.HasSuffix(topic, "/scan_command"):
		h.handleScanCommand(ctx, cl, pk.Payload)
		return pk, packets.ErrRejectPacket
	}

	return pk, nil
}

// OnSessionEstablished は接続完了後の在席処理。
func (h *Hook) OnSessionEstablished(cl *mochi.Client, pk packets.Packet) {
	if mqtt.Classify(cl.ID) != mqtt.ClassReader {
		return
	}
	macAddress := mqtt.ReaderMacFromClientID(cl.ID)
	if err := h.tracker.HandleConnect(context.Background(), macAddress); err != nil {
		h.logger.Error("リーダー接続処理に失敗しました",
			slog.String("mac_address", macAddress), slog.String("error", err.Error()))
	}
}

// OnDisconnect は切断時の後始末。リーダーはオフライン化し、
// 管理クライアントは保留中のタグ読み取りを破棄する。
func (h *Hook) OnDisconnect(cl *mochi.Client, err error, expire bool) {
	switch mqtt.Classify(cl.ID) {
	case mqtt.ClassReader:
		macAddress := mqtt.ReaderMacFromClientID(cl.ID)
		if err := h.tracker.HandleDisconnect(context.Background(), macAddress); err != nil {
			h.logger.Error("リーダー切断処理に失敗しました",
				slog.String("mac_address", macAddress), slog.String("error", err.Error()))
		}
	case mqtt.ClassFrontend:
		h.correlator.DropClient(cl.ID)
	}
}

func (h *Hook) handleRegister(ctx context.Context, cl *mochi.Client, payload []byte) {
	clientMac := mqtt.ReaderMacFromClientID(cl.ID)

	reg, err := mqtt.DecodeRegistration(payload)
	if err != nil {
		h.logger.Warn("登録ペイロードが壊れています",
			slog.String("client_id", cl.ID), slog.String("error", err.Error()))
		h.sendCommand(clientMac, "rejected", "Registration payload could not be parsed.")
		return
	}

	decision := h.gate.VerifyRegistration(ctx, trust.Registration{
		MacAddress:   reg.MacAddress,
		IPAddress:    reg.IPAddress,
		Name:         reg.Name,
		ModelNumber:  reg.Model,
		SignatureHex: reg.ModelHash,
	})

	targetMac := reg.MacAddress
	if targetMac == "" {
		targetMac = clientMac
	}
	h.sendCommand(targetMac, decision.Status, decision.Message)

	if !decision.Allow {
		if h.collector != nil {
			h.collector.VerifyFailed()
			if decision.Status == "banned" {
				h.collector.BanIssued()
			}
		}
		return
	}

	if err := h.tracker.HandleRegistered(ctx, reg.MacAddress); err != nil {
		h.logger.Error("登録後のステータス配信に失敗しました",
			slog.String("mac_address", reg.MacAddress), slog.String("error", err.Error()))
	}
}

func (h *Hook) handleStatus(ctx context.Context, topicMac string, payload []byte) {
	status, err := mqtt.DecodeReaderStatus(payload)
	if err != nil {
		h.logger.Warn("ステータスペイロードが壊れています",
			slog.String("mac_address", topicMac), slog.String("error", err.Error()))
		return
	}

	// ハートビートもpublishごとにBAN台帳と署名を通す。
	// 接続後にBANされたリーダーはここで止まる。
	macAddress := status.MacAddress
	if macAddress == "" {
		macAddress = topicMac
	}
	decision := h.gate.AuthorizePublish(ctx, macAddress, status.Model, status.ModelHash, true)
	if !decision.Allow {
		h.rejectPublish(topicMac, decision)
		return
	}

	if err := h.tracker.HandleStatus(ctx, topicMac, status); err != nil {
		h.logger.Error("ハートビート処理に失敗しました",
			slog.String("mac_address", topicMac), slog.String("error", err.Error()))
	}
}

func (h *Hook) handleScan(ctx context.Context, readerMac string, payload []byte) {
	result, err := mqtt.DecodeScan(payload)
	if err != nil {
		h.logger.Warn("スキャンペイロードが壊れています",
			slog.String("mac_address", readerMac), slog.String("error", err.Error()))
		return
	}

	// スキャンもBAN台帳を通す。署名はペイロードが運ぶ場合のみ検証する。
	macAddress := result.MacAddress
	if macAddress == "" {
		macAddress = readerMac
	}
	decision := h.gate.AuthorizePublish(ctx, macAddress, result.Model, result.ModelHash, false)
	if !decision.Allow {
		h.rejectPublish(readerMac, decision)
		return
	}

	if h.collector != nil {
		h.collector.ScanReceived()
	}
	h.processor.HandleScan(ctx, readerMac, result)
}

func (h *Hook) handleScanCommand(ctx context.Context, cl *mochi.Client, payload []byte) {
	cmd, err := mqtt.DecodeScanCommand(payload)
	if err != nil {
		h.logger.Warn("スキャン指示ペイロードが壊れています",
			slog.String("client_id", cl.ID), slog.String("error", err.Error()))
		return
	}
	if cmd.Command != "start_scan" {
		h.logger.Info("未対応のスキャン指示を無視しました",
			slog.String("command", cmd.Command))
		return
	}
	if err := h.correlator.Begin(ctx, cmd.RequestID, cmd.UserID, cmd.Username, cl.ID); err != nil {
		h.logger.Error("タグ読み取りリクエストの受付に失敗しました",
			slog.String("request_id", cmd.RequestID), slog.String("error", err.Error()))
	}
}

// rejectPublish は入場判定で拒否されたpublishの後処理。
// デバイスへ判定結果を返し、メトリクスに記録する。
func (h *Hook) rejectPublish(macAddress string, decision trust.Decision) {
	h.logger.Warn("リーダーpublishを拒否しました",
		slog.String("mac_address", macAddress),
		slog.String("status", decision.Status),
		slog.String("message", decision.Message))
	h.sendCommand(macAddress, decision.Status, decision.Message)
	if h.collector != nil {
		h.collector.VerifyFailed()
		if decision.Status == "banned" {
			h.collector.BanIssued()
		}
	}
}

func (h *Hook) sendCommand(macAddress, status, message string) {
	if macAddress == "" {
		return
	}
	cmd := mqtt.Command{Status: status, Message: message}
	if err := h.pub.PublishJSON(mqtt.CommandTopic(macAddress), cmd); err != nil {
		h.logger.Error("コマンドの送信に失敗しました",
			slog.String("mac_address", macAddress), slog.String("error", err.Error()))
	}
}
