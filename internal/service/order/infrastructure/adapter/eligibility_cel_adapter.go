package adapter

import (
	"context"
	"time"

	"fulfillment/internal/service/order/domain"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// CELEligibilityAdapter 用 CEL 表达式判断订单能否发起理赔。
// 可用变量：order（state、memberId、itemCount、deliveredAt、completedAt）、claimType、now。
type CELEligibilityAdapter struct {
	expr    string
	program cel.Program
}

func NewCELEligibilityAdapter(expr string) (*CELEligibilityAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("claimType", cel.StringType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile eligibility rule %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("eligibility rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build cel program")
	}
	return &CELEligibilityAdapter{expr: expr, program: prg}, nil
}

func (a *CELEligibilityAdapter) Eligible(ctx context.Context, order *domain.Order, claimType domain.ClaimType, now time.Time) (bool, error) {
	out, _, err := a.program.ContextEval(ctx, map[string]any{
		"order":     orderFacts(order),
		"claimType": string(claimType),
		"now":       now,
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate eligibility rule for order %s", order.ID)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errors.Errorf("eligibility rule returned %T", out.Value())
	}
	return ok, nil
}

// orderFacts 只暴露规则需要的字段；未发生的时间戳不出现在 map 中，规则用 has() 判断
func orderFacts(o *domain.Order) map[string]any {
	items := 0
	for _, it := range o.Items {
		items += it.Quantity
	}
	facts := map[string]any{
		"state":     string(o.State),
		"memberId":  o.MemberID,
		"itemCount": items,
	}
	if o.DeliveredAt != nil {
		facts["deliveredAt"] = *o.DeliveredAt
	}
	if o.CompletedAt != nil {
		facts["completedAt"] = *o.CompletedAt
	}
	return facts
}
