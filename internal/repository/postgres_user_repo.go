package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chorecast/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, username, is_admin, enabled, nfc_tag_id, assigned_reader_id`

func scanUser(scan func(dest ...any) error) (*model.User, error) {
	user := &model.User{}
	var nfcTagID sql.NullString
	var assignedReaderID sql.NullInt64

	if err := scan(
		&user.ID, &user.Username, &user.IsAdmin, &user.Enabled,
		&nfcTagID, &assignedReaderID,
	); err != nil {
		return nil, err
	}

	user.NFCTagID = nullStringValue(nfcTagID)
	user.AssignedReaderID = nullInt64Value(assignedReaderID)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// FindByTag はNFCタグIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByTag(ctx context.Context, tagID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE nfc_tag_id = $1`, tagID)
	user, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("タグIDによるユーザーの検索に失敗しました: %w", err)
	}
	return user, nil
}

// FindByAssignedReader は指定リーダーに割り当てられた有効なユーザーを返す。
func (r *PostgresUserRepo) FindByAssignedReader(ctx context.Context, readerID int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE assigned_reader_id = $1 AND enabled = TRUE
		 ORDER BY id ASC LIMIT 1`,
		readerID)
	user, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リーダー割り当てユーザーの検索に失敗しました: %w", err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

// PostgresTagRepo はPostgreSQLを使用したNFCタグリポジトリ。
type PostgresTagRepo struct {
	db *sql.DB
}

// NewPostgresTagRepo はPostgresTagRepoを生成する。
func NewPostgresTagRepo(db *sql.DB) *PostgresTagRepo {
	return &PostgresTagRepo{db: db}
}

// FindByTagID はタグのUID文字列でタグを検索する。見つからない場合はnilを返す。
func (r *PostgresTagRepo) FindByTagID(ctx context.Context, tagID string) (*model.Tag, error) {
	tag := &model.Tag{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, tag_id, tag_type FROM nfc_tags WHERE tag_id = $1`,
		tagID,
	).Scan(&tag.ID, &tag.Name, &tag.TagID, &tag.Type)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("NFCタグの取得に失敗しました: %w", err)
	}
	return tag, nil
}

// compile-time interface check
var _ TagRepository = (*PostgresTagRepo)(nil)
