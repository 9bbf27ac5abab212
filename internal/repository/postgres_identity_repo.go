package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/paircal/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(external_id, ''), display_name, COALESCE(pair_id::text, ''), created_at, updated_at
		 FROM identities WHERE id = $1`,
		id,
	))
}

// FindByExternalID は外部IDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Identity, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(external_id, ''), display_name, COALESCE(pair_id::text, ''), created_at, updated_at
		 FROM identities WHERE external_id = $1`,
		externalID,
	))
}

// Create はユーザーを作成する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, external_id, display_name, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
		identity.ID, identity.ExternalID, identity.DisplayName, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// UpdateDisplayName は表示名を更新する。
func (r *PostgresIdentityRepo) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE identities SET display_name = $2, updated_at = now() WHERE id = $1`,
		id, displayName,
	)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するevents、pairing_codes、notification_settingsはCASCADE削除される。
func (r *PostgresIdentityRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM identities WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity not found: %s", id)
	}
	return nil
}

func (r *PostgresIdentityRepo) scanOne(row *sql.Row) (*model.Identity, error) {
	identity := &model.Identity{}
	err := row.Scan(
		&identity.ID, &identity.ExternalID, &identity.DisplayName,
		&identity.PairID, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	return identity, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
