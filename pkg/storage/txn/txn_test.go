package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitRunsForwardsInOrder(t *testing.T) {
	var order []string
	tx := New("test")
	tx.Add("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	}, nil)
	tx.Add("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	}, nil)

	require.NoError(t, tx.Commit(context.Background()))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestFailureUnwindsInReverse(t *testing.T) {
	var events []string
	boom := errors.New("step two failed")

	tx := New("test")
	tx.Add("one", func(ctx context.Context) error {
		events = append(events, "fwd-one")
		return nil
	}, func(ctx context.Context) error {
		events = append(events, "rb-one")
		return nil
	})
	tx.Add("two", func(ctx context.Context) error {
		events = append(events, "fwd-two")
		return nil
	}, func(ctx context.Context) error {
		events = append(events, "rb-two")
		return nil
	})
	tx.Add("three", func(ctx context.Context) error {
		return boom
	}, func(ctx context.Context) error {
		events = append(events, "rb-three")
		return nil
	})

	err := tx.Commit(context.Background())
	assert.ErrorIs(t, err, boom)
	// The failing step is not rolled back, only its predecessors
	assert.Equal(t, []string{"fwd-one", "fwd-two", "rb-two", "rb-one"}, events)
}

func TestRollbackFailureDoesNotHaltUnwind(t *testing.T) {
	var events []string
	boom := errors.New("forward failed")

	tx := New("test")
	tx.Add("one", func(ctx context.Context) error { return nil },
		func(ctx context.Context) error {
			events = append(events, "rb-one")
			return nil
		})
	tx.Add("two", func(ctx context.Context) error { return nil },
		func(ctx context.Context) error {
			return errors.New("rollback broke")
		})
	tx.Add("three", func(ctx context.Context) error { return boom }, nil)

	err := tx.Commit(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"rb-one"}, events)
}

func TestNilRollbackSkipped(t *testing.T) {
	boom := errors.New("fail")
	tx := New("test")
	tx.Add("one", func(ctx context.Context) error { return nil }, nil)
	tx.Add("two", func(ctx context.Context) error { return boom }, nil)

	assert.ErrorIs(t, tx.Commit(context.Background()), boom)
}

func TestEmptyTransactionCommitsClean(t *testing.T) {
	assert.NoError(t, New("noop").Commit(context.Background()))
}
