package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/paircal/internal/model"
	"github.com/hitoshi/paircal/internal/repository"
)

// anonymousPrefix は匿名（テスト）ユーザーの外部IDに付与するプレフィックス。
const anonymousPrefix = "test_user_"

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// LoginResult はログイン結果を表す。
type LoginResult struct {
	Identity *model.Identity
	Token    string
}

// Service はログインとアカウント削除のビジネスロジックを提供する。
type Service struct {
	tokens       *TokenService
	identityRepo repository.IdentityRepository
	pairRepo     repository.PairRepository
}

// NewService はServiceを生成する。
func NewService(
	tokens *TokenService,
	identityRepo repository.IdentityRepository,
	pairRepo repository.PairRepository,
) *Service {
	return &Service{
		tokens:       tokens,
		identityRepo: identityRepo,
		pairRepo:     pairRepo,
	}
}

// Login は外部IDをキーとする冪等なアップサートでユーザーを取得または作成し、
// ベアラートークンを発行する。externalIDが空の場合は匿名ユーザーとして
// ランダムな外部ハンドルを採番する。
func (s *Service) Login(ctx context.Context, externalID, displayName string) (*LoginResult, error) {
	actualExternalID := externalID
	if actualExternalID == "" {
		handle, err := generateAnonymousHandle()
		if err != nil {
			return nil, fmt.Errorf("failed to generate anonymous handle: %w", err)
		}
		actualExternalID = handle
	}

	identity, err := s.identityRepo.FindByExternalID(ctx, actualExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity == nil {
		now := time.Now()
		name := displayName
		if name == "" {
			name = "ゲストユーザー"
		}
		identity = &model.Identity{
			ID:          uuid.New().String(),
			ExternalID:  actualExternalID,
			DisplayName: name,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.identityRepo.Create(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}
		slog.Info("new identity created",
			slog.String("identity_id", identity.ID),
			slog.Bool("anonymous", externalID == ""),
		)
	} else if displayName != "" && displayName != identity.DisplayName {
		if err := s.identityRepo.UpdateDisplayName(ctx, identity.ID, displayName); err != nil {
			return nil, fmt.Errorf("failed to update display name: %w", err)
		}
		identity.DisplayName = displayName
	}

	token, err := s.tokens.Generate(identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &LoginResult{Identity: identity, Token: token}, nil
}

// GetCurrentIdentity は指定IDのユーザーを返す。
func (s *Service) GetCurrentIdentity(ctx context.Context, identityID string) (*model.Identity, error) {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, model.NewUserNotFoundError()
	}
	return identity, nil
}

// DeleteAccount はアカウントを削除する。ペアに属している場合は先に解除し、
// 予定・ペアリングコード・通知設定はCASCADE削除に委ねる。
func (s *Service) DeleteAccount(ctx context.Context, identityID string) error {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return model.NewUserNotFoundError()
	}

	if identity.IsPaired() {
		if err := s.pairRepo.DeletePair(ctx, identity.PairID); err != nil {
			return fmt.Errorf("failed to unpair before deletion: %w", err)
		}
	}

	if err := s.identityRepo.DeleteByID(ctx, identityID); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	slog.Info("account deleted", slog.String("identity_id", identityID))
	return nil
}

// generateAnonymousHandle は匿名ユーザー用のランダムな外部ハンドルを生成する。
func generateAnonymousHandle() (string, error) {
	b := make([]byte, 6)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36Chars))))
		if err != nil {
			return "", err
		}
		b[i] = base36Chars[n.Int64()]
	}
	return anonymousPrefix + string(b), nil
}
