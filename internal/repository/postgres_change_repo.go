package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/lib/pq"
)

// PostgresChangeRepo はPostgreSQLを使用した変更フィードリポジトリ。
type PostgresChangeRepo struct {
	db *sql.DB
}

// NewPostgresChangeRepo はPostgresChangeRepoを生成する。
func NewPostgresChangeRepo(db *sql.DB) *PostgresChangeRepo {
	return &PostgresChangeRepo{db: db}
}

// ListSince は指定origin群の変更レコードをseq昇順で返す。
func (r *PostgresChangeRepo) ListSince(ctx context.Context, originIDs []string, sinceSeq int64, limit int) ([]*model.ChangeRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, event_id, op, COALESCE(payload, 'null'::jsonb), origin_id, version, created_at
		 FROM changes
		 WHERE origin_id = ANY($1) AND seq > $2
		 ORDER BY seq ASC
		 LIMIT $3`,
		pq.Array(originIDs), sinceSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var records []*model.ChangeRecord
	for rows.Next() {
		rec := &model.ChangeRecord{}
		var payload []byte
		if err := rows.Scan(&rec.Seq, &rec.EventID, &rec.Op, &payload, &rec.OriginID, &rec.Version, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change records: %w", err)
	}

	return records, nil
}

// LatestSeq は現在の最大seqを返す。レコードがない場合は0を返す。
func (r *PostgresChangeRepo) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM changes`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest seq: %w", err)
	}
	return seq, nil
}

// compile-time interface check
var _ ChangeRepository = (*PostgresChangeRepo)(nil)
