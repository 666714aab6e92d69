package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gochen-trade/contracts"
	"gochen-trade/errors"
	"gochen-trade/logging"
	"gochen-trade/messaging"
	"gochen-trade/patterns/retry"
	"gochen-trade/validation"
)

// Publisher 发布结果事件所需的总线能力
type Publisher interface {
	Publish(ctx context.Context, message messaging.IMessage) error
}

// Service 用户服务
type Service struct {
	users       UserRepository
	bus         Publisher
	startingGil decimal.Decimal
	logger      logging.Logger
	now         func() time.Time
}

// NewService 创建用户服务，startingGil 为新用户的初始余额
func NewService(users UserRepository, bus Publisher, startingGil decimal.Decimal) *Service {
	return &Service{
		users:       users,
		bus:         bus,
		startingGil: startingGil,
		logger:      logging.ComponentLogger("identity.service"),
		now:         time.Now,
	}
}

// Register 订阅扣款与退款命令
func (s *Service) Register(ctx context.Context, bus messaging.IMessageBus) error {
	if err := bus.Subscribe(ctx, contracts.TypeDebitGil, messaging.NewHandler("identity.debit-gil", s.HandleDebitGil)); err != nil {
		return fmt.Errorf("subscribe %s: %w", contracts.TypeDebitGil, err)
	}
	if err := bus.Subscribe(ctx, contracts.TypeCreditGil, messaging.NewHandler("identity.credit-gil", s.HandleCreditGil)); err != nil {
		return fmt.Errorf("subscribe %s: %w", contracts.TypeCreditGil, err)
	}
	return nil
}

// RegisterUser 注册用户，用户名不区分大小写唯一
func (s *Service) RegisterUser(ctx context.Context, username, email string) (*User, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	_, exists, err := s.users.Find(ctx, func(u *User) bool { return strings.EqualFold(u.Username, username) })
	if err != nil {
		return nil, errors.Normalize(err)
	}
	if exists {
		return nil, errors.NewError(errors.ErrCodeDuplicate, fmt.Sprintf("用户名 %s 已存在", username))
	}

	user := &User{
		ID:          uuid.New(),
		Username:    username,
		Email:       email,
		Gil:         s.startingGil,
		CreatedDate: s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, errors.Normalize(err)
	}
	s.logger.Info(ctx, "用户已注册", logging.Stringer("user_id", user.ID), logging.String("username", username))
	return user, nil
}

// Get 查询用户，不存在返回 ErrCodeNotFound
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	user, found, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, errors.Normalize(err)
	}
	if !found {
		return nil, errors.NewError(errors.ErrCodeNotFound, fmt.Sprintf("user %s not found", id))
	}
	return user, nil
}

// List 按注册时间列出用户
func (s *Service) List(ctx context.Context) ([]*User, error) {
	users, err := s.users.GetAll(ctx, nil)
	if err != nil {
		return nil, errors.Normalize(err)
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].CreatedDate.Before(users[j].CreatedDate) })
	return users, nil
}

// Update 修改邮箱与余额（管理接口）
func (s *Service) Update(ctx context.Context, id uuid.UUID, email string, gil decimal.Decimal) error {
	if err := validation.ValidateEmail(email); err != nil {
		return err
	}
	if err := validation.ValidateDecimalRange(gil, "Gil", MinGil, MaxGil); err != nil {
		return err
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	user.Email = email
	user.Gil = gil
	if err := s.users.Update(ctx, user); err != nil {
		return errors.Normalize(err)
	}
	return nil
}

// Delete 删除用户，不存在返回 ErrCodeNotFound
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return errors.Normalize(s.users.Remove(ctx, id))
}

// HandleDebitGil 扣款
//
// 未知用户与余额不足是业务结果，转换为 GilDebitFailed 事件而不是处理失败。
func (s *Service) HandleDebitGil(ctx context.Context, msg messaging.IMessage) error {
	cmd, err := contracts.Decode[contracts.DebitGil](msg)
	if err != nil {
		return err
	}
	logger := s.logger.WithFields(
		logging.Stringer("correlation_id", cmd.CorrelationID),
		logging.String("message_id", msg.GetID()))

	if !cmd.Gil.IsPositive() {
		return retry.Permanent(errors.NewError(errors.ErrCodeValidation, fmt.Sprintf("扣款金额必须大于0: %s", cmd.Gil)))
	}

	user, found, err := s.users.Get(ctx, cmd.UserID)
	if err != nil {
		return err
	}
	if !found {
		logger.Warn(ctx, "扣款用户不存在", logging.Stringer("user_id", cmd.UserID))
		return s.publishDebitFailed(ctx, cmd.CorrelationID, contracts.ReasonUnknownUser)
	}

	key := "debit:" + cmd.CorrelationID.String()
	failKey := "debit-failed:" + cmd.CorrelationID.String()
	if user.applied(failKey) {
		// 已判定余额不足的扣款不因之后充值而生效
		return s.publishDebitFailed(ctx, cmd.CorrelationID, contracts.ReasonInsufficientFunds)
	}
	if !user.applied(key) {
		if user.Gil.LessThan(cmd.Gil) {
			logger.Info(ctx, "余额不足",
				logging.Stringer("user_id", cmd.UserID),
				logging.Stringer("balance", user.Gil),
				logging.Stringer("amount", cmd.Gil))
			user.markApplied(failKey)
			if err := s.users.Update(ctx, user); err != nil {
				return err
			}
			return s.publishDebitFailed(ctx, cmd.CorrelationID, contracts.ReasonInsufficientFunds)
		}
		user.Gil = user.Gil.Sub(cmd.Gil)
		user.markApplied(key)
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		logger.Info(ctx, "已扣款", logging.Stringer("user_id", cmd.UserID), logging.Stringer("amount", cmd.Gil))
	}

	return s.bus.Publish(ctx, contracts.NewOutcome(contracts.TypeGilDebited, cmd.CorrelationID,
		contracts.GilDebited{CorrelationID: cmd.CorrelationID, Gil: cmd.Gil}))
}

// HandleCreditGil 退款（补偿），未知用户无法补偿，记录后以不可重试错误结束
func (s *Service) HandleCreditGil(ctx context.Context, msg messaging.IMessage) error {
	cmd, err := contracts.Decode[contracts.CreditGil](msg)
	if err != nil {
		return err
	}
	logger := s.logger.WithFields(
		logging.Stringer("correlation_id", cmd.CorrelationID),
		logging.String("message_id", msg.GetID()))

	user, found, err := s.users.Get(ctx, cmd.UserID)
	if err != nil {
		return err
	}
	if !found {
		logger.Error(ctx, "退款用户不存在，需人工处理",
			logging.Stringer("user_id", cmd.UserID), logging.Stringer("amount", cmd.Gil))
		return retry.Permanent(errors.NewError(errors.ErrCodeUnknownUser, fmt.Sprintf("user %s not found", cmd.UserID)))
	}

	key := "credit:" + cmd.CorrelationID.String()
	if !user.applied(key) {
		user.Gil = user.Gil.Add(cmd.Gil)
		user.markApplied(key)
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		logger.Info(ctx, "已退款", logging.Stringer("user_id", cmd.UserID), logging.Stringer("amount", cmd.Gil))
	}

	return s.bus.Publish(ctx, contracts.NewOutcome(contracts.TypeGilCredited, cmd.CorrelationID,
		contracts.GilCredited{CorrelationID: cmd.CorrelationID}))
}

func (s *Service) publishDebitFailed(ctx context.Context, correlationID uuid.UUID, reason string) error {
	return s.bus.Publish(ctx, contracts.NewOutcome(contracts.TypeGilDebitFailed, correlationID,
		contracts.GilDebitFailed{CorrelationID: correlationID, Reason: reason}))
}
