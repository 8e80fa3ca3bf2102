package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"membergate/internal/types"
)

func TestEventRepository_InsertEvent(t *testing.T) {
	received := time.Now().UTC()
	rec := types.WebhookEventRecord{
		EventID:    "evt_1",
		EventType:  "invoice.payment_succeeded",
		ReceivedAt: received,
		RawPayload: json.RawMessage(`{"id":"evt_1"}`),
	}

	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"first delivery", "INSERT 0 1", true},
		{"duplicate", "INSERT 0 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewEventRepository(db)

			db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
				[]any{"evt_1", "invoice.payment_succeeded", received, rec.RawPayload}).
				Return(pgconn.NewCommandTag(tt.tag), nil)

			inserted, err := repo.InsertEvent(context.Background(), rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, inserted)
			db.AssertExpectations(t)
		})
	}
}

func TestEventRepository_InsertEvent_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewEventRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.InsertEvent(context.Background(), types.WebhookEventRecord{EventID: "evt_1"})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
