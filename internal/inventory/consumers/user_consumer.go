package consumers

import (
	"context"

	"github.com/cultivar/cultivar-backend/internal/inventory/repository"
	"github.com/cultivar/cultivar-backend/pkg/logger"
	"github.com/cultivar/cultivar-backend/pkg/messaging"
)

// UserEventConsumer keeps the local user cache in step with the user
// service so movement records can resolve display names without a
// cross-service call.
type UserEventConsumer struct {
	consumer      *messaging.Consumer
	userCacheRepo *repository.UserCacheRepository
	logger        *logger.Logger
}

// NewUserEventConsumer creates a new user event consumer
func NewUserEventConsumer(rmq *messaging.RabbitMQ, userCacheRepo *repository.UserCacheRepository, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "inventory-service.user-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	c := &UserEventConsumer{
		consumer:      consumer,
		userCacheRepo: userCacheRepo,
		logger:        log,
	}

	consumer.RegisterHandler(messaging.EventUserCreated, c.handleUserCreated)
	consumer.RegisterHandler(messaging.EventUserUpdated, c.handleUserUpdated)
	consumer.RegisterHandler(messaging.EventUserDeleted, c.handleUserDeleted)

	return c, nil
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *UserEventConsumer) handleUserCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user created event")

	return c.userCacheRepo.Set(ctx, cachedUser(data.UserID, data.FirstName, data.LastName, data.Email, data.RoleName))
}

// handleUserUpdated upserts because update events carry full state and
// can arrive before the created event on a fresh queue.
func (c *UserEventConsumer) handleUserUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user updated event")

	return c.userCacheRepo.Set(ctx, cachedUser(data.UserID, data.FirstName, data.LastName, data.Email, data.RoleName))
}

func (c *UserEventConsumer) handleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user deleted event")

	return c.userCacheRepo.Delete(ctx, data.UserID)
}

func cachedUser(userID, firstName, lastName, email, roleName string) *repository.CachedUser {
	user := &repository.CachedUser{
		UserID:    userID,
		FirstName: firstName,
		LastName:  lastName,
	}
	if email != "" {
		user.Email = &email
	}
	if roleName != "" {
		user.RoleName = &roleName
	}
	return user
}
