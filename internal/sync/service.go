package sync

import (
	"context"
	"fmt"

	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// デフォルトおよび上限のページサイズ。クライアントは連続取得でページングする。
const (
	defaultChangeLimit = 200
	maxChangeLimit     = 1000
)

// ChangePage は変更フィードの1ページ。
type ChangePage struct {
	Changes   []*model.ChangeRecord
	LatestSeq int64
}

// Service は変更フィードの読み出しを提供するサービス層。
// フィードは呼び出し者本人とパートナー（ペアリング時のみ）を起点とする
// 変更をseq昇順で返す。
type Service struct {
	changeRepo   repository.ChangeRepository
	identityRepo repository.IdentityRepository
	pairRepo     repository.PairRepository
}

// NewService はServiceを生成する。
func NewService(
	changeRepo repository.ChangeRepository,
	identityRepo repository.IdentityRepository,
	pairRepo repository.PairRepository,
) *Service {
	return &Service{
		changeRepo:   changeRepo,
		identityRepo: identityRepo,
		pairRepo:     pairRepo,
	}
}

// ChangesSince はsinceSeqより後の変更をseq昇順で最大limit件返す。
// limitが0以下ならデフォルト、上限超過なら上限に丸める。
// 返却されるLatestSeqはフィード全体の最新seqで、クライアントは
// len(Changes)==0 かつ sinceSeq==LatestSeq で追いつきを判定できる。
func (s *Service) ChangesSince(ctx context.Context, callerID string, sinceSeq int64, limit int) (*ChangePage, error) {
	if limit <= 0 {
		limit = defaultChangeLimit
	}
	if limit > maxChangeLimit {
		limit = maxChangeLimit
	}

	originIDs, err := s.visibleOrigins(ctx, callerID)
	if err != nil {
		return nil, err
	}

	changes, err := s.changeRepo.ListSince(ctx, originIDs, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	latest, err := s.changeRepo.LatestSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest seq: %w", err)
	}

	return &ChangePage{Changes: changes, LatestSeq: latest}, nil
}

// visibleOrigins は呼び出し者がフィードで観測できる変更起点のID列を返す。
func (s *Service) visibleOrigins(ctx context.Context, callerID string) ([]string, error) {
	identity, err := s.identityRepo.FindByID(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, model.NewUserNotFoundError()
	}

	originIDs := []string{callerID}
	if !identity.IsPaired() {
		return originIDs, nil
	}

	pair, err := s.pairRepo.FindPairByID(ctx, identity.PairID)
	if err != nil {
		return nil, fmt.Errorf("failed to find pair: %w", err)
	}
	if pair != nil {
		originIDs = append(originIDs, pair.PartnerOf(callerID))
	}
	return originIDs, nil
}
