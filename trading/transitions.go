package trading

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gochen-trade/contracts"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
)

type transitionKey struct {
	from  State
	event string
}

// transition 一条状态转换：apply 修改实例字段并把要发出的命令放入发件箱
type transition struct {
	to    State
	apply func(st *PurchaseState, msg messaging.IMessage) error
}

// transitions 以 (当前状态, 事件类型) 为键；表中没有的组合一律忽略，状态只会向前
var transitions = map[transitionKey]transition{
	{StateAccepted, contracts.TypeGilDebited}:                {to: StateItemsGranted, apply: onGilDebited},
	{StateAccepted, contracts.TypeGilDebitFailed}:            {to: StateFaulted, apply: onGilDebitFailed},
	{StateItemsGranted, contracts.TypeInventoryItemsGranted}: {to: StateCompleted},
	{StateItemsGranted, contracts.TypeGrantItemsFailed}:      {to: StateFaulted, apply: onGrantItemsFailed},
}

// lookupTransition 查找当前状态下对某事件的转换
func lookupTransition(from State, eventType string) (transition, bool) {
	t, ok := transitions[transitionKey{from: from, event: eventType}]
	return t, ok
}

// sagaEvents saga 订阅的结果事件
func sagaEvents() []string {
	return []string{
		contracts.TypeGilDebited,
		contracts.TypeGilDebitFailed,
		contracts.TypeInventoryItemsGranted,
		contracts.TypeGrantItemsFailed,
	}
}

func onGilDebited(st *PurchaseState, msg messaging.IMessage) error {
	evt, err := contracts.Decode[contracts.GilDebited](msg)
	if err != nil {
		return err
	}
	var total decimal.Decimal
	switch {
	case st.DebitAmount != nil:
		total = *st.DebitAmount
	case evt.Gil.IsPositive():
		total = evt.Gil
	default:
		return retry.Permanent(fmt.Errorf("saga %s debited without a known amount", st.CorrelationID))
	}
	st.PurchaseTotal = &total
	return enqueueCommand(st, contracts.TypeGrantItems, contracts.GrantItems{
		UserID:        st.UserID,
		CatalogItemID: st.ItemID,
		Quantity:      st.Quantity,
		CorrelationID: st.CorrelationID,
	})
}

// debitDisagrees 事件携带了金额且与受理时的扣款金额不同
func debitDisagrees(st *PurchaseState, gil decimal.Decimal) bool {
	return st.DebitAmount != nil && !gil.IsZero() && !gil.Equal(*st.DebitAmount)
}

func onGilDebitFailed(st *PurchaseState, msg messaging.IMessage) error {
	evt, err := contracts.Decode[contracts.GilDebitFailed](msg)
	if err != nil {
		return err
	}
	st.ErrorMessage = fmt.Sprintf("debit failed: %s", evt.Reason)
	return nil
}

// onGrantItemsFailed 发放失败，按已扣金额退款
func onGrantItemsFailed(st *PurchaseState, msg messaging.IMessage) error {
	evt, err := contracts.Decode[contracts.GrantItemsFailed](msg)
	if err != nil {
		return err
	}
	st.ErrorMessage = fmt.Sprintf("grant items failed: %s", evt.Reason)
	if st.PurchaseTotal == nil {
		return retry.Permanent(fmt.Errorf("saga %s in %s without purchase total", st.CorrelationID, st.CurrentState))
	}
	return enqueueCommand(st, contracts.TypeCreditGil, contracts.CreditGil{
		UserID:        st.UserID,
		Gil:           *st.PurchaseTotal,
		CorrelationID: st.CorrelationID,
	})
}

func enqueueCommand(st *PurchaseState, messageType string, payload any) error {
	cmd, err := newPendingCommand(st.CorrelationID, messageType, payload)
	if err != nil {
		return err
	}
	st.enqueue(cmd)
	return nil
}

func newPendingCommand(correlationID uuid.UUID, messageType string, payload any) (PendingCommand, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return PendingCommand{}, retry.Permanent(newBadCommandError(correlationID, messageType, err))
	}
	return PendingCommand{
		ID:      contracts.MessageID(correlationID, messageType),
		Type:    messageType,
		Payload: data,
	}, nil
}

// message 把发件箱条目还原为命令消息
func (c PendingCommand) message(correlationID uuid.UUID) *messaging.Message {
	return messaging.NewCommand(c.ID, c.Type, correlationID.String(), c.Payload)
}
