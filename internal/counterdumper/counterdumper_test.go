package counterdumper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounterDumper(t *testing.T) {
	reports := make(chan uint64, 10)

	c := &CounterDumper{
		Period: 50 * time.Millisecond,
		OnReport: func(v uint64) {
			reports <- v
		},
	}
	c.Start()

	c.Add(3)

	select {
	case v := <-reports:
		require.Equal(t, uint64(3), v)
	case <-time.After(2 * time.Second):
		t.Error("timed out")
	}

	c.Increase()
	c.Increase()
	c.Stop()
	close(reports)

	var sum uint64
	for v := range reports {
		sum += v
	}
	require.Equal(t, uint64(2), sum)
	require.Equal(t, uint64(5), c.Total())
}
