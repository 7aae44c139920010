package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRepo captures what the Service hands to the repository.
type recordingRepo struct {
	mockRepo
	created *Coupon
	updated *Coupon
}

func (r *recordingRepo) Create(_ context.Context, c *Coupon) error {
	r.created = c
	return r.err
}

func (r *recordingRepo) Update(_ context.Context, c *Coupon) error {
	r.updated = c
	return r.err
}

func TestService_Create(t *testing.T) {
	repo := &recordingRepo{}
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }

	got, err := svc.Create(context.Background(), CreateParams{
		Code:   "  save10 ",
		Kind:   KindPercent,
		Value:  d("10"),
		Active: true,
	})

	require.NoError(t, err)
	require.NotNil(t, repo.created)
	assert.Equal(t, "SAVE10", got.Code)
	assert.NotEmpty(t, got.ID)
	assert.Zero(t, got.UsageCount)
	assert.Equal(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC), got.CreatedAt)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestService_CreateValidation(t *testing.T) {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	endBefore := start.Add(-time.Hour)

	tests := []struct {
		name      string
		params    CreateParams
		wantField string
	}{
		{
			name:      "empty code",
			params:    CreateParams{Code: "   ", Kind: KindPercent, Value: d("10")},
			wantField: "code",
		},
		{
			name:      "unknown kind",
			params:    CreateParams{Code: "X1", Kind: Kind("bogo"), Value: d("10")},
			wantField: "kind",
		},
		{
			name:      "zero value",
			params:    CreateParams{Code: "X1", Kind: KindPercent, Value: d("0")},
			wantField: "value",
		},
		{
			name:      "negative value",
			params:    CreateParams{Code: "X1", Kind: KindFixed, Value: d("-5")},
			wantField: "value",
		},
		{
			name:      "percent over 100",
			params:    CreateParams{Code: "X1", Kind: KindPercent, Value: d("101")},
			wantField: "value",
		},
		{
			name: "start after end",
			params: CreateParams{
				Code: "X1", Kind: KindPercent, Value: d("10"),
				StartAt: &start, EndAt: &endBefore,
			},
			wantField: "window",
		},
		{
			name:      "negative usage limit",
			params:    CreateParams{Code: "X1", Kind: KindPercent, Value: d("10"), UsageLimit: -1},
			wantField: "usageLimit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &recordingRepo{}
			svc := NewService(repo)

			_, err := svc.Create(context.Background(), tt.params)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Nil(t, repo.created, "invalid params must not reach the repository")
		})
	}
}

func TestService_CreateFixedValueOver100Allowed(t *testing.T) {
	repo := &recordingRepo{}
	svc := NewService(repo)

	got, err := svc.Create(context.Background(), CreateParams{
		Code: "BIG", Kind: KindFixed, Value: d("250"), Active: true,
	})

	require.NoError(t, err)
	assert.True(t, d("250").Equal(got.Value))
}

func TestService_CreateDuplicateCode(t *testing.T) {
	repo := &recordingRepo{}
	repo.err = ErrCodeExists
	svc := NewService(repo)

	_, err := svc.Create(context.Background(), CreateParams{
		Code: "SAVE10", Kind: KindPercent, Value: d("10"), Active: true,
	})

	require.ErrorIs(t, err, ErrCodeExists)
}

func TestService_UpdatePartial(t *testing.T) {
	repo := &recordingRepo{}
	repo.coupon = &Coupon{
		ID: "c1", Code: "SAVE10", Kind: KindPercent, Value: d("10"),
		UsageLimit: 100, UsageCount: 42, Active: true,
	}
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC) }

	newValue := d("15")
	got, err := svc.Update(context.Background(), "c1", UpdateParams{
		Value: &newValue,
	})

	require.NoError(t, err)
	require.NotNil(t, repo.updated)
	assert.True(t, d("15").Equal(got.Value))
	// Untouched fields survive.
	assert.Equal(t, "SAVE10", got.Code)
	assert.Equal(t, KindPercent, got.Kind)
	assert.Equal(t, 100, got.UsageLimit)
	assert.Equal(t, 42, got.UsageCount)
	assert.Equal(t, time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC), got.UpdatedAt)
}

func TestService_UpdateRevalidates(t *testing.T) {
	repo := &recordingRepo{}
	repo.coupon = &Coupon{
		ID: "c1", Code: "SAVE10", Kind: KindPercent, Value: d("10"), Active: true,
	}
	svc := NewService(repo)

	bad := d("150")
	_, err := svc.Update(context.Background(), "c1", UpdateParams{Value: &bad})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "value", verr.Field)
	assert.Nil(t, repo.updated)
}

func TestService_UpdateNotFound(t *testing.T) {
	repo := &recordingRepo{}
	svc := NewService(repo)

	active := false
	_, err := svc.Update(context.Background(), "missing", UpdateParams{Active: &active})

	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	repo := &recordingRepo{}
	svc := NewService(repo)

	require.NoError(t, svc.Delete(context.Background(), "c1"))
	assert.Equal(t, []string{"c1"}, repo.deleted)
}
