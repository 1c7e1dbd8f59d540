package idgen

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workerIDOf(id int64) int64 {
	return (id >> workerIDShift) & maxWorkerID
}

func TestSnowflake_Generate(t *testing.T) {
	gen, err := NewSnowflake(42)
	require.NoError(t, err)

	id1 := gen.Generate()
	id2 := gen.Generate()

	assert.NotEqual(t, id1, id2)
	assert.Greater(t, id2, id1)
	assert.Equal(t, int64(42), workerIDOf(id1))
}

func TestNewSnowflake_InvalidWorkerID(t *testing.T) {
	tests := []struct {
		name     string
		workerID int64
	}{
		{name: "负数机器ID", workerID: -1},
		{name: "超过上限", workerID: 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSnowflake(tt.workerID)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "workerID 必须在 0-1023 之间")
		})
	}
}

func TestSnowflake_ConcurrentUnique(t *testing.T) {
	gen, err := NewSnowflake(1)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestGenerateDailyCode(t *testing.T) {
	c1 := GenerateDailyCode()
	c2 := GenerateDailyCode()

	assert.True(t, strings.HasPrefix(c1, "DB"))
	assert.Equal(t, strings.ToUpper(c1), c1)
	assert.NotEqual(t, c1, c2)
}

func TestGenerateTransactionNo(t *testing.T) {
	no := GenerateTransactionNo()
	assert.True(t, strings.HasPrefix(no, "TXN"))
	// TXN + 14位时间 + 8位序号
	assert.Len(t, no, 3+14+8)
}

func TestSnowflake_ClockRollback(t *testing.T) {
	gen, err := NewSnowflake(3)
	require.NoError(t, err)

	// 模拟上一次生成时的时钟比现在快
	gen.timestamp = time.Now().UnixMilli() + 50
	first := gen.Generate()
	second := gen.Generate()

	assert.Greater(t, second, first)
	assert.Equal(t, int64(3), workerIDOf(second))
}
