// Package redis implements the inventory store on Redis.
//
// Each item is a hash (price, stock). Reserve, release and add-stock are Lua
// scripts so the check and the update happen atomically on the server.
// Operation ids are plain keys with a TTL that remember the reserved count.
// A release that finds no reservation leaves "cancelled" under the reserve id,
// so a reserve arriving after its release is a duplicate.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/checkout-saga/internal/inventory-service/domain"
)

const (
	itemKeyPrefix      = "inventory:item:"
	operationKeyPrefix = "inventory:op:"
)

// Script results.
const (
	resultNotFound     = -1
	resultInsufficient = 0
	resultApplied      = 1
	resultDuplicate    = 2
	resultNotReserved  = 3
)

// KEYS[1] item hash, KEYS[2] operation key.
// ARGV[1] count, ARGV[2] ttl seconds, ARGV[3] '1' when the operation key is used.
var reserveScript = redis.NewScript(`
if ARGV[3] == '1' and redis.call('EXISTS', KEYS[2]) == 1 then
	return 2
end

local stock = redis.call('HGET', KEYS[1], 'stock')
if not stock then
	return -1
end

local count = tonumber(ARGV[1])
if tonumber(stock) < count then
	return 0
end

redis.call('HINCRBY', KEYS[1], 'stock', -count)
if ARGV[3] == '1' then
	redis.call('SET', KEYS[2], count, 'EX', ARGV[2])
end
return 1
`)

// KEYS[1] item hash, KEYS[2] release operation key, KEYS[3] reserve operation key.
// ARGV[1] count, ARGV[2] ttl seconds, ARGV[3] / ARGV[4] '1' when KEYS[2] / KEYS[3] are used.
var releaseScript = redis.NewScript(`
if ARGV[3] == '1' and redis.call('EXISTS', KEYS[2]) == 1 then
	return 2
end

local count = tonumber(ARGV[1])
if ARGV[4] == '1' then
	local reserved = redis.call('GET', KEYS[3])
	if not reserved then
		redis.call('SET', KEYS[3], 'cancelled', 'EX', ARGV[2])
		return 3
	end
	if reserved == 'cancelled' then
		return 3
	end
	count = tonumber(reserved)
end

if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end

redis.call('HINCRBY', KEYS[1], 'stock', count)
if ARGV[3] == '1' then
	redis.call('SET', KEYS[2], count, 'EX', ARGV[2])
end
return 1
`)

var addStockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'stock', ARGV[1])
`)

var _ domain.Store = (*Store)(nil)

type Store struct {
	client       redis.UniversalClient
	operationTTL time.Duration
}

// NewStore keeps operation keys for operationTTL, which bounds how late a
// release can still find its reservation.
func NewStore(client redis.UniversalClient, operationTTL time.Duration) *Store {
	if operationTTL < time.Second {
		operationTTL = time.Second
	}
	return &Store{client: client, operationTTL: operationTTL}
}

func (s *Store) CreateItem(ctx context.Context, itemID string, price decimal.Decimal) (*domain.StockItem, error) {
	if err := s.client.HSet(ctx, itemKey(itemID), "price", price.String(), "stock", 0).Err(); err != nil {
		return nil, fmt.Errorf("redis: create item: %w", err)
	}
	return &domain.StockItem{ItemID: itemID, Price: price}, nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (*domain.StockItem, error) {
	fields, err := s.client.HGetAll(ctx, itemKey(itemID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get item: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrItemNotFound
	}

	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return nil, fmt.Errorf("redis: parse price of %s: %w", itemID, err)
	}
	stock, err := strconv.ParseInt(fields["stock"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse stock of %s: %w", itemID, err)
	}
	return &domain.StockItem{ItemID: itemID, Price: price, Stock: stock}, nil
}

func (s *Store) AddStock(ctx context.Context, itemID string, count int64) (int64, error) {
	stock, err := addStockScript.Run(ctx, s.client, []string{itemKey(itemID)}, count).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: add stock: %w", err)
	}
	if stock == resultNotFound {
		return 0, domain.ErrItemNotFound
	}
	return stock, nil
}

func (s *Store) Reserve(ctx context.Context, itemID string, count int64, operationID string) (bool, error) {
	keys := []string{itemKey(itemID), operationKey(operationID)}
	res, err := reserveScript.Run(ctx, s.client, keys, count, s.ttlSeconds(), flag(operationID)).Int()
	if err != nil {
		return false, fmt.Errorf("redis: reserve: %w", err)
	}

	switch res {
	case resultApplied:
		return true, nil
	case resultDuplicate:
		return false, nil
	case resultInsufficient:
		return false, domain.ErrInsufficientStock
	case resultNotFound:
		return false, domain.ErrItemNotFound
	default:
		return false, fmt.Errorf("redis: reserve: unexpected script result %d", res)
	}
}

func (s *Store) Release(ctx context.Context, itemID string, count int64, operationID, reserveOperationID string) (bool, error) {
	keys := []string{itemKey(itemID), operationKey(operationID), operationKey(reserveOperationID)}
	res, err := releaseScript.Run(ctx, s.client, keys,
		count, s.ttlSeconds(), flag(operationID), flag(reserveOperationID),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: release: %w", err)
	}

	switch res {
	case resultApplied:
		return true, nil
	case resultDuplicate, resultNotReserved:
		return false, nil
	case resultNotFound:
		return false, domain.ErrItemNotFound
	default:
		return false, fmt.Errorf("redis: release: unexpected script result %d", res)
	}
}

func (s *Store) ttlSeconds() int64 {
	return int64(s.operationTTL / time.Second)
}

func itemKey(itemID string) string {
	return itemKeyPrefix + itemID
}

func operationKey(operationID string) string {
	return operationKeyPrefix + operationID
}

func flag(operationID string) string {
	if operationID == "" {
		return "0"
	}
	return "1"
}

