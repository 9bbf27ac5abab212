// Package pairing はペアリングコードの発行・償還とペア解除のドメインロジックを提供する。
package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// codeChars はペアリングコードに使用する文字集合（大文字英数字）。
const codeChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// codeLength はペアリングコードの桁数。
const codeLength = 6

// ServiceConfig はペアリングサービスの設定。
type ServiceConfig struct {
	CodeTTL     time.Duration // コードの有効期間
	MaxAttempts int           // 衝突時の再生成上限
}

// Service はペアリングのビジネスロジックを提供する。
type Service struct {
	identityRepo repository.IdentityRepository
	pairRepo     repository.PairRepository
	config       ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	identityRepo repository.IdentityRepository,
	pairRepo repository.PairRepository,
	config ServiceConfig,
) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.CodeTTL <= 0 {
		config.CodeTTL = 15 * time.Minute
	}
	return &Service{
		identityRepo: identityRepo,
		pairRepo:     pairRepo,
		config:       config,
	}
}

// IssueCode はペアリングコードを発行する。
// 既にペアに属している場合はAlreadyPairedで失敗する。
// 未償還の既存コードは新しいコードで上書きされる（1ユーザー1コード）。
// 有効コードとの衝突時は再生成し、上限を超えた場合はエラーを返す。
func (s *Service) IssueCode(ctx context.Context, identityID string) (*model.PairingCode, error) {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, model.NewUserNotFoundError()
	}
	if identity.IsPaired() {
		return nil, model.NewAlreadyPairedError()
	}

	now := time.Now()
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate pairing code: %w", err)
		}

		exists, err := s.pairRepo.ActiveCodeExists(ctx, code, now)
		if err != nil {
			return nil, fmt.Errorf("failed to check code collision: %w", err)
		}
		if exists {
			continue
		}

		pairingCode := &model.PairingCode{
			Code:      code,
			OwnerID:   identityID,
			ExpiresAt: now.Add(s.config.CodeTTL),
			CreatedAt: now,
		}
		if err := s.pairRepo.UpsertCode(ctx, pairingCode); err != nil {
			// 期限切れで未削除の他ユーザー行とも衝突しうる。
			// ActiveCodeExistsは期限切れを無視するため、保存時の衝突も再生成で扱う。
			if errors.Is(err, repository.ErrCodeCollision) {
				continue
			}
			return nil, fmt.Errorf("failed to save pairing code: %w", err)
		}

		slog.Info("pairing code issued",
			slog.String("identity_id", identityID),
			slog.Time("expires_at", pairingCode.ExpiresAt),
		)
		return pairingCode, nil
	}

	return nil, fmt.Errorf("failed to generate unique pairing code after %d attempts", s.config.MaxAttempts)
}

// RedeemCode はコードを償還してペアを作成する。
// ペア作成とコード無効化はリポジトリ層の単一トランザクションで行われるため、
// 並行する償還で二重にペアが作られることはない。
func (s *Service) RedeemCode(ctx context.Context, identityID, code string) (*model.Pair, *model.Identity, error) {
	if len(code) != codeLength {
		return nil, nil, model.NewValidationError("pairCode", "コードは6文字です")
	}

	pair, err := s.pairRepo.RedeemCode(ctx, code, identityID, uuid.New().String(), time.Now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCodeNotFound):
			return nil, nil, model.NewPairingCodeNotFoundError(code)
		case errors.Is(err, repository.ErrSelfPairing):
			return nil, nil, model.NewSelfPairingError()
		case errors.Is(err, repository.ErrAlreadyPaired):
			return nil, nil, model.NewAlreadyPairedError()
		default:
			return nil, nil, fmt.Errorf("failed to redeem pairing code: %w", err)
		}
	}

	partner, err := s.identityRepo.FindByID(ctx, pair.PartnerOf(identityID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find partner: %w", err)
	}

	slog.Info("pair created",
		slog.String("pair_id", pair.ID),
		slog.String("member_a", pair.MemberA),
		slog.String("member_b", pair.MemberB),
	)
	return pair, partner, nil
}

// Unpair はペアを解除する。両メンバーは同一操作で同時に未ペア状態へ遷移する。
// ペアが存在しない場合はNotPairedで失敗する。
func (s *Service) Unpair(ctx context.Context, identityID string) error {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return model.NewUserNotFoundError()
	}
	if !identity.IsPaired() {
		return model.NewNotPairedError()
	}

	if err := s.pairRepo.DeletePair(ctx, identity.PairID); err != nil {
		return fmt.Errorf("failed to delete pair: %w", err)
	}

	slog.Info("pair dissolved",
		slog.String("pair_id", identity.PairID),
		slog.String("requested_by", identityID),
	)
	return nil
}

// Partner は現在のパートナーを返す。未ペアの場合はnilを返す。
func (s *Service) Partner(ctx context.Context, identityID string) (*model.Identity, error) {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, model.NewUserNotFoundError()
	}
	if !identity.IsPaired() {
		return nil, nil
	}

	pair, err := s.pairRepo.FindPairByID(ctx, identity.PairID)
	if err != nil {
		return nil, fmt.Errorf("failed to find pair: %w", err)
	}
	if pair == nil {
		return nil, nil
	}

	partner, err := s.identityRepo.FindByID(ctx, pair.PartnerOf(identityID))
	if err != nil {
		return nil, fmt.Errorf("failed to find partner: %w", err)
	}
	return partner, nil
}

// generateCode は6文字の大文字英数字コードを暗号論的乱数で生成する。
func generateCode() (string, error) {
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", err
		}
		b[i] = codeChars[n.Int64()]
	}
	return string(b), nil
}
