package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 15, 0, time.UTC)

	k1 := GenerateKey("cg-1", "sched-1", at)
	k2 := GenerateKey("cg-1", "sched-1", at)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestGenerateKeyTruncatesToMinute(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	// Seconds within the same minute collapse to one key.
	assert.Equal(t,
		GenerateKey("cg-1", "sched-1", base.Add(5*time.Second)),
		GenerateKey("cg-1", "sched-1", base.Add(55*time.Second)))

	assert.NotEqual(t,
		GenerateKey("cg-1", "sched-1", base),
		GenerateKey("cg-1", "sched-1", base.Add(time.Minute)))
}

func TestGenerateKeyVariesByInputs(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	assert.NotEqual(t,
		GenerateKey("cg-1", "sched-1", at),
		GenerateKey("cg-2", "sched-1", at))
	assert.NotEqual(t,
		GenerateKey("cg-1", "sched-1", at),
		GenerateKey("cg-1", "sched-2", at))
}
