// internal/service/order/application/claim_service.go
package application

import (
	"context"
	"time"

	"fulfillment/internal/pkg/apperr"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/domain/port"

	"github.com/google/uuid"
)

// ClaimService 编排理赔状态机的命令
type ClaimService struct {
	deps   Deps
	claims domain.ClaimRepository
	policy port.ClaimEligibilityPolicy
}

func NewClaimService(deps Deps, claims domain.ClaimRepository, policy port.ClaimEligibilityPolicy) *ClaimService {
	return &ClaimService{deps: deps, claims: claims, policy: policy}
}

func (s *ClaimService) Get(ctx context.Context, claimID string) (*domain.Claim, error) {
	return s.claims.FindByID(ctx, claimID)
}

// RequestClaim 在订单锁下发起理赔，订单状态与资格策略共同决定能否发起
func (s *ClaimService) RequestClaim(ctx context.Context, cmd RequestClaimCommand) (*domain.Claim, error) {
	var result *domain.Claim
	err := s.deps.runCommand(ctx, "app.RequestClaim", "claim", OrderLockKey(cmd.OrderID),
		func(ctx context.Context, st domain.Stores, now time.Time) ([]domain.OrderEvent, error) {
			order, err := st.Orders.FindByID(ctx, cmd.OrderID)
			if err != nil {
				return nil, err
			}
			eligible := true
			if s.policy != nil {
				if eligible, err = s.policy.Eligible(ctx, order, cmd.Type, now); err != nil {
					return nil, apperr.Internal("claim.eligibility", err)
				}
			}
			c, err := domain.RequestClaim(order, eligible, domain.ClaimRequest{
				ID:           uuid.NewString(),
				OrderItemID:  cmd.OrderItemID,
				Type:         cmd.Type,
				Reason:       cmd.Reason,
				Quantity:     cmd.Quantity,
				RefundAmount: cmd.RefundAmount,
				Actor:        cmd.Actor,
				Now:          now,
			})
			if err != nil {
				return nil, err
			}
			if err := st.Claims.Save(ctx, c); err != nil {
				return nil, err
			}
			result = c
			return c.PullEvents(), nil
		})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order_id", cmd.OrderID).Str("claim_id", result.ID).Str("type", string(result.Type)).Msg("✅ claim requested")
	return result, nil
}

func (s *ClaimService) Approve(ctx context.Context, cmd ClaimCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.ApproveClaim", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.Approve(cmd.Actor, now)
	})
}

func (s *ClaimService) Reject(ctx context.Context, cmd RejectClaimCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.RejectClaim", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.Reject(cmd.Actor, cmd.Reason, now)
	})
}

func (s *ClaimService) StartProcessing(ctx context.Context, cmd ClaimCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.StartProcessingClaim", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.StartProcessing(cmd.Actor, now)
	})
}

func (s *ClaimService) Complete(ctx context.Context, cmd ClaimCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.CompleteClaim", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.Complete(cmd.Actor, now)
	})
}

func (s *ClaimService) Cancel(ctx context.Context, cmd ClaimCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.CancelClaim", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.Cancel(cmd.Actor, now)
	})
}

func (s *ClaimService) ScheduleReturnPickup(ctx context.Context, cmd ClaimTimestampCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.ScheduleReturnPickup", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.ScheduleReturnPickup(cmd.At, cmd.Actor, now)
	})
}

func (s *ClaimService) MarkReturnReceived(ctx context.Context, cmd ClaimTimestampCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.MarkReturnReceived", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.MarkReturnReceived(cmd.At, cmd.Actor, now)
	})
}

func (s *ClaimService) MarkExchangeShipped(ctx context.Context, cmd ClaimTimestampCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.MarkExchangeShipped", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.MarkExchangeShipped(cmd.At, cmd.Actor, now)
	})
}

func (s *ClaimService) MarkExchangeDelivered(ctx context.Context, cmd ClaimTimestampCommand) (*domain.Claim, error) {
	return s.mutate(ctx, "app.MarkExchangeDelivered", cmd.ClaimID, func(c *domain.Claim, now time.Time) error {
		return c.MarkExchangeDelivered(cmd.At, cmd.Actor, now)
	})
}

func (s *ClaimService) mutate(ctx context.Context, spanName, claimID string, apply func(*domain.Claim, time.Time) error) (*domain.Claim, error) {
	var result *domain.Claim
	err := s.deps.runCommand(ctx, spanName, "claim", ClaimLockKey(claimID),
		func(ctx context.Context, st domain.Stores, now time.Time) ([]domain.OrderEvent, error) {
			c, err := st.Claims.FindByID(ctx, claimID)
			if err != nil {
				return nil, err
			}
			if err := apply(c, now); err != nil {
				return nil, err
			}
			if err := st.Claims.Save(ctx, c); err != nil {
				return nil, err
			}
			result = c
			return c.PullEvents(), nil
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}
