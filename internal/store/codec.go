package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/omarluq/quota-relay/internal/bucket"
)

// Field names shared by the JSON document (olric) and the Redis hash.
const (
	fieldTokens     = "tokens"
	fieldMaxTokens  = "max_tokens"
	fieldRefillRate = "refill_rate"
	fieldLastRefill = "last_refill"
	fieldCreatedAt  = "created_at"
)

// record is a stored bucket plus the bookkeeping needed for fixed TTLs.
type record struct {
	CreatedAt time.Time
	Bucket    bucket.Bucket
}

// encodeJSON renders a record as a flat JSON object. Timestamps are Unix
// nanoseconds so every backend round-trips them exactly.
func encodeJSON(r record) (string, error) {
	doc := "{}"
	var err error
	for _, kv := range []struct {
		value any
		field string
	}{
		{r.Bucket.Tokens, fieldTokens},
		{r.Bucket.MaxTokens, fieldMaxTokens},
		{r.Bucket.RefillRate, fieldRefillRate},
		{r.Bucket.LastRefill.UnixNano(), fieldLastRefill},
		{r.CreatedAt.UnixNano(), fieldCreatedAt},
	} {
		doc, err = sjson.Set(doc, kv.field, kv.value)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrSerializationFailed, err)
		}
	}
	return doc, nil
}

// decodeJSON parses a document written by encodeJSON.
func decodeJSON(doc string) (record, error) {
	if !gjson.Valid(doc) {
		return record{}, fmt.Errorf("%w: invalid json", ErrSerializationFailed)
	}
	fields := gjson.GetMany(doc, fieldTokens, fieldMaxTokens, fieldRefillRate, fieldLastRefill, fieldCreatedAt)
	for i, f := range fields {
		if !f.Exists() {
			return record{}, fmt.Errorf("%w: missing field #%d", ErrSerializationFailed, i)
		}
	}
	return record{
		Bucket: bucket.Bucket{
			Tokens:     fields[0].Float(),
			MaxTokens:  int(fields[1].Int()),
			RefillRate: fields[2].Float(),
			LastRefill: time.Unix(0, fields[3].Int()),
		},
		CreatedAt: time.Unix(0, fields[4].Int()),
	}, nil
}

// encodeHash renders a record as Redis hash field/value pairs.
func encodeHash(r record) map[string]any {
	return map[string]any{
		fieldTokens:     strconv.FormatFloat(r.Bucket.Tokens, 'g', -1, 64),
		fieldMaxTokens:  strconv.Itoa(r.Bucket.MaxTokens),
		fieldRefillRate: strconv.FormatFloat(r.Bucket.RefillRate, 'g', -1, 64),
		fieldLastRefill: strconv.FormatInt(r.Bucket.LastRefill.UnixNano(), 10),
		fieldCreatedAt:  strconv.FormatInt(r.CreatedAt.UnixNano(), 10),
	}
}

// decodeHash parses the result of HGETALL. The second return is false when
// the hash is empty (key missing).
func decodeHash(h map[string]string) (record, bool, error) {
	if len(h) == 0 {
		return record{}, false, nil
	}
	tokens, err := parseFloatField(h, fieldTokens)
	if err != nil {
		return record{}, false, err
	}
	rate, err := parseFloatField(h, fieldRefillRate)
	if err != nil {
		return record{}, false, err
	}
	maxTokens, err := parseIntField(h, fieldMaxTokens)
	if err != nil {
		return record{}, false, err
	}
	lastRefill, err := parseIntField(h, fieldLastRefill)
	if err != nil {
		return record{}, false, err
	}
	created, err := parseIntField(h, fieldCreatedAt)
	if err != nil {
		// Hashes written without created_at count from their last refill.
		created = lastRefill
	}
	return record{
		Bucket: bucket.Bucket{
			Tokens:     tokens,
			MaxTokens:  int(maxTokens),
			RefillRate: rate,
			LastRefill: time.Unix(0, lastRefill),
		},
		CreatedAt: time.Unix(0, created),
	}, true, nil
}

func parseFloatField(h map[string]string, field string) (float64, error) {
	v, err := strconv.ParseFloat(h[field], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s: %w", ErrSerializationFailed, field, err)
	}
	return v, nil
}

func parseIntField(h map[string]string, field string) (int64, error) {
	v, err := strconv.ParseInt(h[field], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s: %w", ErrSerializationFailed, field, err)
	}
	return v, nil
}
