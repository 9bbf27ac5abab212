package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/lib/pq"
)

// PostgresPairRepo はPostgreSQLを使用したペア・ペアリングコードリポジトリ。
type PostgresPairRepo struct {
	db *sql.DB
}

// NewPostgresPairRepo はPostgresPairRepoを生成する。
func NewPostgresPairRepo(db *sql.DB) *PostgresPairRepo {
	return &PostgresPairRepo{db: db}
}

// FindPairByID は指定IDのペアを取得する。見つからない場合はnilを返す。
func (r *PostgresPairRepo) FindPairByID(ctx context.Context, id string) (*model.Pair, error) {
	pair := &model.Pair{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, member_a, member_b, created_at FROM pairs WHERE id = $1`,
		id,
	).Scan(&pair.ID, &pair.MemberA, &pair.MemberB, &pair.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pair by ID: %w", err)
	}

	return pair, nil
}

// DeletePair はペアを削除する。identities.pair_idはFKのON DELETE SET NULLにより
// 両メンバー同時にクリアされる（対称的な解除）。
func (r *PostgresPairRepo) DeletePair(ctx context.Context, pairID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pairs WHERE id = $1`,
		pairID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete pair: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pair not found: %s", pairID)
	}
	return nil
}

// UpsertCode は発行者のコードを作成または上書きする（1ユーザー1コード）。
// ON CONFLICTはowner_idの再発行のみ処理するため、他ユーザーの行（期限切れで
// 未削除のものを含む）とコード値が衝突するとcode PKの一意制約違反になる。
// その場合はErrCodeCollisionを返し、サービス層の再生成リトライに委ねる。
func (r *PostgresPairRepo) UpsertCode(ctx context.Context, code *model.PairingCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pairing_codes (code, owner_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		code.Code, code.OwnerID, code.ExpiresAt, code.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrCodeCollision
		}
		return fmt.Errorf("failed to upsert pairing code: %w", err)
	}
	return nil
}

// ActiveCodeExists は未期限切れコードの中に指定コードが存在するかを返す。
func (r *PostgresPairRepo) ActiveCodeExists(ctx context.Context, code string, now time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pairing_codes WHERE code = $1 AND expires_at > $2)`,
		code, now,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pairing code existence: %w", err)
	}
	return exists, nil
}

// FindCodeByOwner は発行者の現在のコードを取得する。見つからない場合はnilを返す。
func (r *PostgresPairRepo) FindCodeByOwner(ctx context.Context, ownerID string) (*model.PairingCode, error) {
	code := &model.PairingCode{}
	err := r.db.QueryRowContext(ctx,
		`SELECT code, owner_id, expires_at, created_at FROM pairing_codes WHERE owner_id = $1`,
		ownerID,
	).Scan(&code.Code, &code.OwnerID, &code.ExpiresAt, &code.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pairing code by owner: %w", err)
	}

	return code, nil
}

// RedeemCode はコードを償還し、同一トランザクションでペアを作成してコードを削除する。
// コード行をFOR UPDATEでロックしてから検証するため、並行する償還は直列化され
// 一方だけが成功する（もう一方はコード削除済みのためErrCodeNotFound）。
func (r *PostgresPairRepo) RedeemCode(ctx context.Context, code, redeemerID, pairID string, now time.Time) (*model.Pair, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. コード行をロックして取得
	var ownerID string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, expires_at FROM pairing_codes WHERE code = $1 FOR UPDATE`,
		code,
	).Scan(&ownerID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock pairing code: %w", err)
	}
	if !now.Before(expiresAt) {
		return nil, ErrCodeNotFound
	}

	// 2. 自己ペアリングの検査
	if ownerID == redeemerID {
		return nil, ErrSelfPairing
	}

	// 3. 両当事者の行をロックし、既存ペアがないことを検査
	//    （デッドロック回避のためID順にロックする）
	first, second := ownerID, redeemerID
	if second < first {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		var pairIDRef sql.NullString
		err = tx.QueryRowContext(ctx,
			`SELECT pair_id FROM identities WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&pairIDRef)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("identity not found: %s", id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock identity: %w", err)
		}
		if pairIDRef.Valid {
			return nil, ErrAlreadyPaired
		}
	}

	// 4. ペアを作成し、両メンバーのpair_idを設定
	pair := &model.Pair{
		ID:        pairID,
		MemberA:   ownerID,
		MemberB:   redeemerID,
		CreatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pairs (id, member_a, member_b, created_at) VALUES ($1, $2, $3, $4)`,
		pair.ID, pair.MemberA, pair.MemberB, pair.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pair: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE identities SET pair_id = $1, updated_at = $2 WHERE id = ANY($3)`,
		pair.ID, now, pq.Array([]string{ownerID, redeemerID}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set pair reference: %w", err)
	}

	// 5. コードを無効化（単回使用）
	_, err = tx.ExecContext(ctx,
		`DELETE FROM pairing_codes WHERE code = $1`,
		code,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete pairing code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return pair, nil
}

// compile-time interface check
var _ PairRepository = (*PostgresPairRepo)(nil)
