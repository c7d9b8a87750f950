package batch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_ConcurrentReserve(t *testing.T) {
	tests := []struct {
		name    string
		ceiling int64
		want    int64
	}{
		{name: "bounded", ceiling: 500, want: 500},
		{name: "unlimited", ceiling: 0, want: 2000},
		{name: "negative is unlimited", ceiling: -1, want: 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.ceiling)
			var (
				wg  sync.WaitGroup
				mu  sync.Mutex
				got int64
			)
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 250; i++ {
						if l.Reserve() {
							mu.Lock()
							got++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, l.Count())
			assert.Equal(t, tt.ceiling > 0, l.Reached())
		})
	}
}

func TestHeaders(t *testing.T) {
	h := Headers{
		Fields:         []string{"a", "b"},
		AnalysisLayers: []string{"el1"},
		ListFields:     []string{"dr1.x"},
		QAFields:       []string{"qa"},
	}
	assert.Equal(t, 5, h.Width())
	assert.Equal(t, []string{"a", "b", "el1", "dr1.x", "qa"}, h.Names())
}

func TestPointAndInterval(t *testing.T) {
	assert.True(t, Point{Lon: 1, Lat: 2}.Valid())
	assert.False(t, invalidPoint.Valid())
	assert.True(t, Interval{Lft: 1, Rgt: 10}.Contains(Interval{Lft: 3, Rgt: 4}))
	assert.False(t, Interval{Lft: 1, Rgt: 10}.Contains(Interval{Lft: 3, Rgt: 11}))
}
