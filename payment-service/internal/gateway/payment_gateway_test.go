package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubGatewayApprovesPositiveAmounts(t *testing.T) {
	g := NewStubGateway(0)

	ok, err := g.Charge(context.Background(), ChargeRequest{OrderID: uuid.New(), Amount: decimal.RequireFromString("0.01")})
	require.NoError(t, err)
	assert.True(t, ok.Approved)
	assert.Contains(t, ok.TransactionID, "TXN_")

	declined, err := g.Charge(context.Background(), ChargeRequest{OrderID: uuid.New(), Amount: decimal.Zero})
	require.NoError(t, err)
	assert.False(t, declined.Approved)
	assert.NotEmpty(t, declined.TransactionID)
	assert.NotEmpty(t, declined.DeclineReason)
}

func TestStubGatewayTimeoutIsUnavailable(t *testing.T) {
	g := NewStubGateway(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := g.Charge(ctx, ChargeRequest{Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, ErrUnavailable)
}
