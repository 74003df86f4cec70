package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ClaimIdempotencyKey records that participantID has submitted
// idempotencyKey, and reports whether this call is the first to claim
// it. A duplicate submission within TTL_Idempotency_Key returns
// claimed=false and the caller should treat the request as a repeat.
func ClaimIdempotencyKey(ctx context.Context, c *RedisCache, participantID, idempotencyKey string) (claimed bool, err error) {
	key := NS_Idempotency + ":key:" + participantID + ":" + idempotencyKey
	return c.SetNX(ctx, key, true, TTL_Idempotency_Key)
}

// ClaimContentHash is the fallback duplicate check for callers that
// didn't send an idempotency key: it hashes the economically
// significant fields of the order and claims that hash for a short
// window, catching double-clicks and retry storms without requiring
// client cooperation.
func ClaimContentHash(ctx context.Context, c *RedisCache, participantID, code, side, orderType, quantity, price string) (claimed bool, err error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s", participantID, code, side, orderType, quantity, price)))
	key := NS_Idempotency + ":hash:" + hex.EncodeToString(sum[:])
	return c.SetNX(ctx, key, true, TTL_Content_Hash)
}
