package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/fixhub/internal/database/testutil"
)

func TestBoundAppliesStoreTimeout(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	b, err := newBase("test", db, nil, []Option{WithStoreTimeout(50 * time.Millisecond)})
	require.NoError(t, err)

	ctx, cancel := b.bound(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	parent, parentCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer parentCancel()
	parentDeadline, _ := parent.Deadline()
	ctx, cancel = b.bound(parent)
	defer cancel()
	deadline, _ = ctx.Deadline()
	require.Equal(t, parentDeadline, deadline, "an earlier caller deadline wins")

	b.timeout = 0
	ctx, cancel = b.bound(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	require.False(t, ok)
}

func TestNewBaseRequiresDB(t *testing.T) {
	_, err := newBase("test", nil, nil, nil)
	require.Error(t, err)
}

func TestNewOrderedIDIsMonotonic(t *testing.T) {
	prev := newOrderedID()
	for i := 0; i < 100; i++ {
		next := newOrderedID()
		require.Less(t, prev, next)
		prev = next
	}
}
