package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
	"github.com/kursadbilgin/satellite-dispatch/internal/tracker"
	goredis "github.com/redis/go-redis/v9"
)

const defaultStateTTL = 24 * time.Hour

var _ tracker.StateStore = (*StateStore)(nil)

// StateStore mirrors the latest transfer status of each subscription into a
// Redis hash so every replica can serve it.
type StateStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewStateStore(client *goredis.Client, ttl time.Duration) (*StateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateStore{client: client, ttl: ttl}, nil
}

func stateKey(subscriptionID int) string {
	return "satellite:transfer:" + strconv.Itoa(subscriptionID)
}

func (s *StateStore) Save(ctx context.Context, status domain.TransferStatus) error {
	key := stateKey(status.SubscriptionID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", status.State.String(),
		"stateCode", int(status.State),
		"pendingCount", status.PendingCount,
		"errorCode", int(status.ErrorCode),
		"errorName", status.ErrorCode.String(),
		"updatedAt", status.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save transfer status: %w", err)
	}
	return nil
}

// Load returns the mirrored status, or domain.ErrNotFound when none is stored.
func (s *StateStore) Load(ctx context.Context, subscriptionID int) (domain.TransferStatus, error) {
	values, err := s.client.HGetAll(ctx, stateKey(subscriptionID)).Result()
	if err != nil {
		return domain.TransferStatus{}, fmt.Errorf("failed to load transfer status: %w", err)
	}
	if len(values) == 0 {
		return domain.TransferStatus{}, domain.ErrNotFound
	}

	status := domain.TransferStatus{SubscriptionID: subscriptionID}
	var errs []error

	stateCode, err := strconv.Atoi(values["stateCode"])
	errs = append(errs, err)
	status.State = domain.TransferState(stateCode)

	status.PendingCount, err = strconv.Atoi(values["pendingCount"])
	errs = append(errs, err)

	errorCode, err := strconv.Atoi(values["errorCode"])
	errs = append(errs, err)
	status.ErrorCode = domain.ErrorCode(errorCode)

	status.UpdatedAt, err = time.Parse(time.RFC3339Nano, values["updatedAt"])
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return domain.TransferStatus{}, fmt.Errorf("corrupt transfer status for subscription %d: %w", subscriptionID, err)
	}
	return status, nil
}
