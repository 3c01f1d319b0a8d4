package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chorecast/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したリーダーセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByReader はリーダーの現在のセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByReader(ctx context.Context, readerMac string) (*model.ReaderSession, error) {
	session := &model.ReaderSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT reader_mac_address, user_id, signed_in_at
		 FROM reader_sessions WHERE reader_mac_address = $1`,
		readerMac,
	).Scan(&session.ReaderMacAddress, &session.UserID, &session.SignedInAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リーダーセッションの取得に失敗しました: %w", err)
	}
	return session, nil
}

// Replace はリーダーのセッションを置き換える。
func (r *PostgresSessionRepo) Replace(ctx context.Context, session *model.ReaderSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reader_sessions (reader_mac_address, user_id, signed_in_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (reader_mac_address) DO UPDATE SET
		    user_id = EXCLUDED.user_id,
		    signed_in_at = EXCLUDED.signed_in_at`,
		session.ReaderMacAddress, session.UserID, session.SignedInAt,
	)
	if err != nil {
		return fmt.Errorf("リーダーセッションの保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteByReader はリーダーのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByReader(ctx context.Context, readerMac string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM reader_sessions WHERE reader_mac_address = $1`, readerMac)
	if err != nil {
		return fmt.Errorf("リーダーセッションの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
