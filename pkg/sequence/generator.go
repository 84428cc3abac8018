package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator issues human-facing codes. Voucher codes are grouped for manual
// entry; reference codes are short daily-scoped identifiers.
type Generator interface {
	NextVoucherCode(ctx context.Context) (string, error)
	NextReferenceCode(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

// NextVoucherCode produces a XXXX-XXXX-XXXX code over an alphabet with no
// easily-confused characters. A redis counter folds a per-day sequence into
// the last group so bulk generation cannot collide.
func (g *RedisGenerator) NextVoucherCode(ctx context.Context) (string, error) {
	today := time.Now().UTC().Format("060102")
	key := fmt.Sprintf("seq:VCH:%s", today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		expire := time.Until(time.Now().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	head, err := randomAlphaNumeric(8)
	if err != nil {
		return "", err
	}

	return formatVoucherCode(head, seq), nil
}

// seqSpace is the number of values a 4-char base36 group can hold.
const seqSpace = 36 * 36 * 36 * 36

// formatVoucherCode folds the daily sequence into the last 4-char group
// modulo its base36 space, keeping the code width fixed once the sequence
// outgrows 4 digits. The random head disambiguates codes past a wrap.
func formatVoucherCode(head string, seq int64) string {
	encodedSeq := strings.ToUpper(fmt.Sprintf("%04s", strconv.FormatInt(seq%seqSpace, 36)))
	raw := head + encodedSeq

	groups := make([]string, 0, 3)
	for i := 0; i < len(raw); i += 4 {
		groups = append(groups, raw[i:i+4])
	}
	return strings.Join(groups, "-")
}

func (g *RedisGenerator) NextReferenceCode(ctx context.Context) (string, error) {
	today := time.Now().UTC().Format("060102")
	key := fmt.Sprintf("seq:TXN:%s", today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		expire := time.Until(time.Now().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	encodedSeq := strings.ToUpper(fmt.Sprintf("%03s", strconv.FormatInt(seq, 36)))
	randSuffix, _ := randomAlphaNumeric(2)

	return fmt.Sprintf("TXN-%s-%s%s", today, encodedSeq, randSuffix), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
