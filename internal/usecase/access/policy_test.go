package access

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-activity-bot/internal/domain"
)

type fakeAuthorizer struct {
	admins map[int64]bool
	err    error
}

func (f fakeAuthorizer) Allowed(_ context.Context, _, userID int64) (bool, error) {
	return f.admins[userID], f.err
}

type fakeEvents struct {
	events []domain.BusinessMetric
}

func (f *fakeEvents) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	f.events = append(f.events, m)
	return nil
}

func TestPolicyOpenWithoutRules(t *testing.T) {
	ok, err := NewPolicy(nil, nil, nil, zerolog.Nop()).Check(context.Background(), 1, 2, "activity")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPolicyAllowList(t *testing.T) {
	events := &fakeEvents{}
	p := NewPolicy([]int64{7}, nil, events, zerolog.Nop())

	ok, err := p.Check(context.Background(), 1, 7, "activity")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Check(context.Background(), 1, 8, "export_role")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, events.events, 1)
	assert.Equal(t, domain.BusinessMetricEventAccessDenied, events.events[0].Event)
	assert.Equal(t, int64(8), *events.events[0].UserID)
	assert.Equal(t, "export_role", events.events[0].Metadata["command"])
}

func TestPolicyAuthorizer(t *testing.T) {
	events := &fakeEvents{}
	p := NewPolicy([]int64{7}, fakeAuthorizer{admins: map[int64]bool{9: true}}, events, zerolog.Nop())

	for user, want := range map[int64]bool{7: true, 9: true, 10: false} {
		ok, err := p.Check(context.Background(), -100, user, "activity")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "user %d", user)
	}
	assert.Len(t, events.events, 1)
}

func TestPolicyAuthorizerError(t *testing.T) {
	p := NewPolicy(nil, fakeAuthorizer{err: errors.New("timeout")}, nil, zerolog.Nop())
	ok, err := p.Check(context.Background(), -100, 5, "activity")
	assert.Error(t, err)
	assert.False(t, ok)
}
