// internal/service/order/domain/state.go
package domain

// State 定义了订单的生命周期状态
type State string

const (
	StateCreated   State = "CREATED"   // 结算完成，订单已记录
	StateConfirmed State = "CONFIRMED" // 商家已确认
	StatePreparing State = "PREPARING" // 备货中
	StateShipped   State = "SHIPPED"   // 已发货
	StateDelivered State = "DELIVERED" // 已送达
	StateCompleted State = "COMPLETED" // 已完成（终态）
	StateCancelled State = "CANCELLED" // 已取消（终态），只能从发货前状态进入
)

// AllStates 按生命周期顺序列出全部订单状态
var AllStates = []State{
	StateCreated, StateConfirmed, StatePreparing, StateShipped,
	StateDelivered, StateCompleted, StateCancelled,
}

// IsTerminal 终态之后不再有任何合法迁移
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

func (s State) String() string { return string(s) }
