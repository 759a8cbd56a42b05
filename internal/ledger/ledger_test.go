package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRecordValidatesBeforeTouchingDatabase(t *testing.T) {
	l := &Ledger{logger: zap.NewNop()}

	assert.ErrorIs(t, l.Record(context.Background(), CallCharge{Amount: 4}), ErrInvalidCharge)
	assert.NoError(t, l.Record(context.Background(), CallCharge{CallSessionID: "c1", UserID: "u1"}))
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}

	assert.NoError(t, r.Record(context.Background(), CallCharge{CallSessionID: "c1", UserID: "u1", Amount: 4}))
	assert.ErrorIs(t, r.Record(context.Background(), CallCharge{}), ErrInvalidCharge)

	charges, err := r.ChargesForUser(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Empty(t, charges)
	assert.NoError(t, r.Close())
}
