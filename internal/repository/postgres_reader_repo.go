package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
)

// PostgresReaderRepo はPostgreSQLを使用したリーダーリポジトリ。
type PostgresReaderRepo struct {
	db *sql.DB
}

// NewPostgresReaderRepo はPostgresReaderRepoを生成する。
func NewPostgresReaderRepo(db *sql.DB) *PostgresReaderRepo {
	return &PostgresReaderRepo{db: db}
}

const readerColumns = `id, mac_address, name, friendly_name, is_online, last_seen, ip_address, model_number`

func scanReader(scan func(dest ...any) error) (*model.Reader, error) {
	reader := &model.Reader{}
	var friendlyName, ipAddress, modelNumber sql.NullString

	if err := scan(
		&reader.ID, &reader.MacAddress, &reader.Name, &friendlyName,
		&reader.IsOnline, &reader.LastSeen, &ipAddress, &modelNumber,
	); err != nil {
		return nil, err
	}

	reader.FriendlyName = nullStringValue(friendlyName)
	reader.IPAddress = nullStringValue(ipAddress)
	reader.ModelNumber = nullStringValue(modelNumber)
	return reader, nil
}

// FindByMac はMACアドレスでリーダーを検索する。見つからない場合はnilを返す。
func (r *PostgresReaderRepo) FindByMac(ctx context.Context, macAddress string) (*model.Reader, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+readerColumns+` FROM chorecast_readers WHERE mac_address = $1`,
		macAddress,
	)
	reader, err := scanReader(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リーダーの取得に失敗しました: %w", err)
	}
	return reader, nil
}

// ListOnline はオンライン状態のリーダー一覧をlast_seen降順で返す。
func (r *PostgresReaderRepo) ListOnline(ctx context.Context) ([]*model.Reader, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+readerColumns+` FROM chorecast_readers
		 WHERE is_online = TRUE
		 ORDER BY last_seen DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("オンラインリーダーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var readers []*model.Reader
	for rows.Next() {
		reader, err := scanReader(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("オンラインリーダーの読み取りに失敗しました: %w", err)
		}
		readers = append(readers, reader)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("オンラインリーダーの走査に失敗しました: %w", err)
	}
	return readers, nil
}

// UpsertRegistration は登録publishの内容でリーダー行を作成または更新する。
func (r *PostgresReaderRepo) UpsertRegistration(ctx context.Context, reader *model.Reader) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chorecast_readers (mac_address, name, is_online, last_seen, ip_address, model_number)
		 VALUES ($1, $2, TRUE, $3, $4, $5)
		 ON CONFLICT (mac_address) DO UPDATE SET
		    name = EXCLUDED.name,
		    is_online = TRUE,
		    last_seen = EXCLUDED.last_seen,
		    ip_address = EXCLUDED.ip_address,
		    model_number = EXCLUDED.model_number`,
		reader.MacAddress, reader.Name, reader.LastSeen,
		nullString(reader.IPAddress), nullString(reader.ModelNumber),
	)
	if err != nil {
		return fmt.Errorf("リーダー登録の保存に失敗しました: %w", err)
	}
	return nil
}

// RefreshNetwork はステータスpublishで報告された情報を反映する。
func (r *PostgresReaderRepo) RefreshNetwork(ctx context.Context, macAddress, ipAddress string, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chorecast_readers SET
		    is_online = TRUE,
		    last_seen = $2,
		    ip_address = COALESCE($3, ip_address)
		 WHERE mac_address = $1`,
		macAddress, seenAt, nullString(ipAddress),
	)
	if err != nil {
		return fmt.Errorf("リーダーのネットワーク情報更新に失敗しました: %w", err)
	}
	return nil
}

// SetOnline はリーダーのオンライン状態を更新する。
func (r *PostgresReaderRepo) SetOnline(ctx context.Context, macAddress string, online bool, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chorecast_readers SET is_online = $2, last_seen = $3 WHERE mac_address = $1`,
		macAddress, online, seenAt,
	)
	if err != nil {
		return fmt.Errorf("リーダーのオンライン状態更新に失敗しました: %w", err)
	}
	return nil
}

// ListStale はオンライン扱いのままlast_seenが古いリーダーを返す。
func (r *PostgresReaderRepo) ListStale(ctx context.Context, threshold time.Time) ([]*model.Reader, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+readerColumns+` FROM chorecast_readers
		 WHERE is_online = TRUE AND last_seen < $1`,
		threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("停滞リーダーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var readers []*model.Reader
	for rows.Next() {
		reader, err := scanReader(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("停滞リーダーの読み取りに失敗しました: %w", err)
		}
		readers = append(readers, reader)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("停滞リーダーの走査に失敗しました: %w", err)
	}
	return readers, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullInt64 は*int64をsql.NullInt64に変換する。
func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// nullInt64Value はsql.NullInt64から*int64を取得する。
func nullInt64Value(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

// nullTimeValue はsql.NullTimeから*time.Timeを取得する。
func nullTimeValue(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// compile-time interface check
var _ ReaderRepository = (*PostgresReaderRepo)(nil)
