// Package redisstore keeps counter aggregates in Redis hashes and provides
// a pub/sub change bus.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/store"
)

// Logger provides minimal logging required by the package.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const updatedAtField = "_updated_at"

var errUIDRequired = errors.New("redisstore: uid is required")

func countersKey(uid string) string { return "counters:{" + uid + "}" }

// CountersTopic is the channel announcing changes to uid's counters.
func CountersTopic(uid string) string { return "counters:" + uid }

// adjustScript clamps the count at zero and stamps the hash with a
// strictly increasing Redis server time in ms.
var adjustScript = redis.NewScript(`
	local key = KEYS[1]
	local field = ARGV[1]
	local delta = tonumber(ARGV[2])
	local reset = ARGV[3] == '1'

	local n = 0
	if not reset then
		n = tonumber(redis.call('HGET', key, field) or '0') + delta
		if n < 0 then n = 0 end
	end
	redis.call('HSET', key, field, n)

	local t = redis.call('TIME')
	local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
	local prev = tonumber(redis.call('HGET', key, '_updated_at') or '0')
	if now <= prev then now = prev + 1 end
	redis.call('HSET', key, '_updated_at', now)

	redis.call('PUBLISH', ARGV[4], '1')
	return redis.call('HGETALL', key)
`)

// Counters implements store.Counters.
type Counters struct {
	rdb    *redis.Client
	bus    *Bus
	logger Logger
}

// NewCounters constructs Counters.
func NewCounters(rdb *redis.Client, logger Logger) *Counters {
	return &Counters{rdb: rdb, bus: NewBus(rdb, logger), logger: logger}
}

func (c *Counters) GetCounters(ctx context.Context, uid string) (models.Counters, error) {
	if uid == "" {
		return models.Counters{}, errUIDRequired
	}
	fields, err := c.rdb.HGetAll(ctx, countersKey(uid)).Result()
	if err != nil {
		return models.Counters{}, fmt.Errorf("get counters %s: %w", uid, err)
	}
	return parseCounters(uid, fields)
}

func (c *Counters) IncrementCounter(ctx context.Context, uid, category string, delta int) (models.Counters, error) {
	return c.adjust(ctx, uid, category, delta, false)
}

func (c *Counters) ResetCounter(ctx context.Context, uid, category string) (models.Counters, error) {
	return c.adjust(ctx, uid, category, 0, true)
}

func (c *Counters) adjust(ctx context.Context, uid, category string, delta int, reset bool) (models.Counters, error) {
	if uid == "" {
		return models.Counters{}, errUIDRequired
	}
	if !models.ValidCategory(category) {
		return models.Counters{}, fmt.Errorf("counter %q: %w", category, models.ErrInvalidCategory)
	}
	flag := "0"
	if reset {
		flag = "1"
	}
	res, err := adjustScript.Run(ctx, c.rdb, []string{countersKey(uid)}, category, delta, flag, CountersTopic(uid)).Result()
	if err != nil {
		return models.Counters{}, fmt.Errorf("adjust counter %s/%s: %w", uid, category, err)
	}
	flat, ok := res.([]interface{})
	if !ok {
		return models.Counters{}, fmt.Errorf("adjust counter: unexpected reply %T", res)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return parseCounters(uid, fields)
}

// SubscribeCounters delivers the document now and after every change.
func (c *Counters) SubscribeCounters(ctx context.Context, uid string, fn func(models.Counters, error)) (store.Subscription, error) {
	if uid == "" {
		return nil, errUIDRequired
	}
	bg := context.WithoutCancel(ctx)
	refresh := func() error {
		doc, err := c.GetCounters(bg, uid)
		if err != nil {
			return err
		}
		fn(doc, nil)
		return nil
	}
	return c.bus.Watch(bg, CountersTopic(uid), refresh, func(err error) { fn(models.Counters{}, err) })
}

func parseCounters(uid string, fields map[string]string) (models.Counters, error) {
	doc := models.Counters{UID: uid, Counts: make(map[string]int, len(fields))}
	for k, v := range fields {
		if k == updatedAtField {
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return models.Counters{}, fmt.Errorf("counters %s: bad %s %q", uid, k, v)
			}
			doc.UpdatedAt = clock.FromMillis(ms)
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.Counters{}, fmt.Errorf("counters %s: bad count %s=%q", uid, k, v)
		}
		doc.Counts[k] = n
	}
	doc.Recompute()
	return doc, nil
}
