package translator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitStableReturnsSettledAnswer(t *testing.T) {
	reads := []string{"", "Đặt", "Đặt hai", "Đặt hai lá bài.", "Đặt hai lá bài.", "Đặt hai lá bài."}
	i := 0
	read := func() (string, bool) {
		if i >= len(reads) {
			return reads[len(reads)-1], true
		}
		text := reads[i]
		i++
		return text, text != ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := waitStable(ctx, time.Millisecond, read)
	require.NoError(t, err)
	assert.Equal(t, "Đặt hai lá bài.", out)
}

func TestWaitStableDeadlineWhileStreaming(t *testing.T) {
	n := 0
	read := func() (string, bool) {
		n++
		return fmt.Sprintf("Đặt hai lá bài %d", n), true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out, err := waitStable(ctx, time.Millisecond, read)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "still streaming")
	assert.Empty(t, out)
}

func TestWaitStableDeadlineWithoutAnswer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := waitStable(ctx, time.Millisecond, func() (string, bool) { return "", false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, out)
}
