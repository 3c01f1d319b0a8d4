// Package trust はデバイス登録の署名検証とBAN台帳による入場判定を提供する。
package trust

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
	"github.com/hitoshi/chorecast/internal/repository"
)

// DefaultVerifyKeyPEM はリーダーファームウェアに対応する既定の検証鍵。
// DEVICE_VERIFY_KEYで差し替えられる。
const DefaultVerifyKeyPEM = `-----BEGIN PUBLIC KEY-----
MFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAEPJGUX1aDqwVUoOmqBtjmFO925g6a
n2dNuJXAScM7yvdBKUCrJdwZi7oQDRh0D8O/IDBO7QMcs9m24GHgcKoMNg==
-----END PUBLIC KEY-----`

// creationPhrase は署名対象に連結する合言葉。ファームウェア側と一致している必要がある。
const creationPhrase = "chorecast_created_by_kenwetech-please-enjoy"

// Decision は接続・登録検証の判定結果。StatusとMessageは
// デバイスのコマンドトピックへそのまま送り返せる内容になっている。
type Decision struct {
	Allow   bool
	Status  string
	Message string
}

// Registration はリーダーの登録publishから取り出した検証対象フィールド。
type Registration struct {
	MacAddress   string
	IPAddress    string
	Name         string
	ModelNumber  string
	SignatureHex string
}

// Gate は署名検証とBAN台帳を束ねた入場判定器。
// ストア障害時はフェイルクローズ（拒否）で判定する。
type Gate struct {
	bans    repository.BanRepository
	readers repository.ReaderRepository
	pubKey  *ecdsa.PublicKey
	logger  *slog.Logger
	now     func() time.Time
}

// NewGate はGateを生成する。publicKeyPEMが空の場合は既定の検証鍵を使う。
func NewGate(bans repository.BanRepository, readers repository.ReaderRepository, publicKeyPEM string, logger *slog.Logger) (*Gate, error) {
	if publicKeyPEM == "" {
		publicKeyPEM = DefaultVerifyKeyPEM
	}
	key, err := parseVerifyKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Gate{
		bans:    bans,
		readers: readers,
		pubKey:  key,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func parseVerifyKey(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("検証鍵のPEMデコードに失敗しました")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("検証鍵の解析に失敗しました: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("検証鍵がECDSA公開鍵ではありません")
	}
	return key, nil
}

// AdmitConnection は接続時の入場判定を行う。判定材料はBAN台帳のみで、
// 台帳の読み出しに失敗した場合も拒否する。
func (g *Gate) AdmitConnection(ctx context.Context, macAddress string) Decision {
	record, err := g.bans.Find(ctx, macAddress)
	if err != nil {
		g.logger.Error("BAN台帳の読み出しに失敗したため接続を拒否します",
			slog.String("mac_address", macAddress), slog.String("error", err.Error()))
		return Decision{Allow: false, Status: "error", Message: "Service unavailable. Try again later."}
	}
	now := g.now()
	if until, banned := record.BannedUntil(now); banned {
		return g.bannedDecision(now, until)
	}
	return Decision{Allow: true}
}

// VerifyRegistration は登録publishの署名を検証し、BAN台帳を更新する。
// 必須フィールド欠落はカウンタに触れずに拒否し、検証成功時は
// カウンタとBAN期限をリセットしてリーダー行を作成・更新する。
func (g *Gate) VerifyRegistration(ctx context.Context, reg Registration) Decision {
	now := g.now()

	record, err := g.bans.Find(ctx, reg.MacAddress)
	if err != nil {
		g.logger.Error("BAN台帳の読み出しに失敗したため登録を拒否します",
			slog.String("mac_address", reg.MacAddress), slog.String("error", err.Error()))
		return Decision{Allow: false, Status: "error", Message: "Service unavailable. Try again later."}
	}
	if until, banned := record.BannedUntil(now); banned {
		return g.bannedDecision(now, until)
	}

	if reg.MacAddress == "" {
		return Decision{Allow: false, Status: "rejected", Message: "Registration is missing a MAC address."}
	}
	if reg.ModelNumber == "" {
		return Decision{Allow: false, Status: "rejected", Message: "Registration is missing a model number."}
	}
	if reg.SignatureHex == "" {
		return Decision{Allow: false, Status: "rejected", Message: "Registration is missing a signature."}
	}

	if !g.verifySignature(reg.ModelNumber, reg.SignatureHex) {
		return g.recordFailure(ctx, reg.MacAddress, record, now)
	}

	if err := g.bans.Reset(ctx, reg.MacAddress); err != nil {
		g.logger.Error("BANカウンタのリセットに失敗しました",
			slog.String("mac_address", reg.MacAddress), slog.String("error", err.Error()))
		return Decision{Allow: false, Status: "error", Message: "Service unavailable. Try again later."}
	}

	reader := &model.Reader{
		MacAddress:  reg.MacAddress,
		Name:        reg.Name,
		IsOnline:    true,
		LastSeen:    now,
		IPAddress:   reg.IPAddress,
		ModelNumber: reg.ModelNumber,
	}
	if reader.Name == "" {
		reader.Name = model.DefaultReaderName(reg.MacAddress)
	}
	if err := g.readers.UpsertRegistration(ctx, reader); err != nil {
		g.logger.Error("リーダー行の保存に失敗しました",
			slog.String("mac_address", reg.MacAddress), slog.String("error", err.Error()))
		return Decision{Allow: false, Status: "error", Message: "Service unavailable. Try again later."}
	}

	g.logger.Info("リーダーの登録を受理しました",
		slog.String("mac_address", reg.MacAddress),
		slog.String("model_number", reg.ModelNumber))
	return Decision{Allow: true, Status: "registered", Message: "Reader registered successfully."}
}

// AuthorizePublish は登録以外のリーダーpublish（ステータス・スキャン）の
// 入場判定を行う。BAN中のデバイスはペイロードを見ずに拒否する。
// 署名を運ぶpublishは検証し、成否をBAN台帳へ反映する。
// requireSignatureがtrueの場合は署名のないpublishも拒否する。
// 接続済みセッションであっても、セッション中にBANされたデバイスはここで締め出される。
func (g *Gate) AuthorizePublish(ctx context.Context, macAddress, modelNumber, signatureHex string, requireSignature bool) Decision {
	now := g.now()

	record, err := g.bans.Find(ctx, macAddress)
	if err != nil {
		g.logger.Error("BAN台帳の読み出しに失敗したためpublishを拒否します",
			slog.String("mac_address", macAddress), slog.String("error", err.Error()))
		return Decision{Allow: false, Status: "error", Message: "Service unavailable. Try again later."}
	}
	if until, banned := record.BannedUntil(now); banned {
		return g.bannedDecision(now, until)
	}

	if modelNumber == "" && signatureHex == "" {
		if requireSignature {
			return Decision{Allow: false, Status: "rejected", Message: "Model and signature required."}
		}
		return Decision{Allow: true}
	}
	if modelNumber == "" || signatureHex == "" {
		return Decision{Allow: false, Status: "rejected", Message: "Model and signature required."}
	}

	if !g.verifySignature(modelNumber, signatureHex) {
		return g.recordFailure(ctx, macAddress, record, now)
	}

	if err := g.bans.Reset(ctx, macAddress); err != nil {
		g.logger.Error("BANカウンタのリセットに失敗しました",
			slog.String("mac_address", macAddress), slog.String("error", err.Error()))
		return Decision{Allow: false, Status: "error", Message: "Service unavailable. Try again later."}
	}
	return Decision{Allow: true}
}

// verifySignature はmodelNumberと合言葉の連結に対するECDSA署名を検証する。
// 署名はASN.1 DERのhex表現。
func (g *Gate) verifySignature(modelNumber, signatureHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(modelNumber + creationPhrase))
	return ecdsa.VerifyASN1(g.pubKey, digest[:], sig)
}

// recordFailure は検証失敗をBAN台帳へ反映し、拒否判定を返す。
func (g *Gate) recordFailure(ctx context.Context, macAddress string, record *model.BanRecord, now time.Time) Decision {
	if record == nil {
		record = &model.BanRecord{MacAddress: macAddress}
	}
	record.RecordFailure(now)

	if err := g.bans.Upsert(ctx, record); err != nil {
		g.logger.Error("BAN台帳の更新に失敗しました",
			slog.String("mac_address", macAddress), slog.String("error", err.Error()))
		return Decision{Allow: false, Status: "error", Message: "Service unavailable. Try again later."}
	}

	if until, banned := record.BannedUntil(now); banned {
		g.logger.Warn("署名検証の連続失敗によりデバイスをBANしました",
			slog.String("mac_address", macAddress),
			slog.Int("ban_count", record.BanCount),
			slog.Time("ban_expires_at", until))
		return g.bannedDecision(now, until)
	}

	g.logger.Warn("デバイス署名の検証に失敗しました",
		slog.String("mac_address", macAddress),
		slog.Int("failed_attempts", record.FailedAttempts))
	return Decision{Allow: false, Status: "rejected", Message: "Device signature is not recognized."}
}

// bannedDecision はBAN中デバイスへの拒否判定を組み立てる。
// メッセージには残り時間（分、切り上げ）を含める。
func (g *Gate) bannedDecision(now, until time.Time) Decision {
	remaining := until.Sub(now)
	minutes := int(remaining.Minutes())
	if remaining > time.Duration(minutes)*time.Minute {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return Decision{
		Allow:   false,
		Status:  "banned",
		Message: fmt.Sprintf("Device is banned. Try again in %d minutes.", minutes),
	}
}
