package membership

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedChecker 缓存查询结果; 出错的查询不缓存
type CachedChecker struct {
	next  Checker
	cache *expirable.LRU[string, bool]
}

func NewCachedChecker(next Checker, size int, ttl time.Duration) *CachedChecker {
	if size <= 0 {
		size = 4096
	}
	return &CachedChecker{next: next, cache: expirable.NewLRU[string, bool](size, nil, ttl)}
}

func (cc *CachedChecker) lookup(key string, load func() (bool, error)) (bool, error) {
	if ok, found := cc.cache.Get(key); found {
		return ok, nil
	}
	ok, err := load()
	if err != nil {
		return false, err
	}
	cc.cache.Add(key, ok)
	return ok, nil
}

func (cc *CachedChecker) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	return cc.lookup("m\x00"+roomID+"\x00"+userID, func() (bool, error) {
		return cc.next.IsMember(ctx, userID, roomID)
	})
}

func (cc *CachedChecker) HasRole(ctx context.Context, userID, roomID, role string) (bool, error) {
	return cc.lookup("r\x00"+roomID+"\x00"+userID+"\x00"+role, func() (bool, error) {
		return cc.next.HasRole(ctx, userID, roomID, role)
	})
}

// Purge 清空缓存
func (cc *CachedChecker) Purge() {
	cc.cache.Purge()
}
