package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestFilterBuilder(t *testing.T) {
	f := NewFilter().
		Eq("status", "pending").
		Lte("expires_at", 10).
		In("call_type", []string{"audio", "video"}).
		Or(bson.M{"user_id": "u1"}, bson.M{"expert_id": "u1"}).
		Build()

	assert.Equal(t, bson.M{
		"status":     "pending",
		"expires_at": bson.M{"$lte": 10},
		"call_type":  bson.M{"$in": []string{"audio", "video"}},
		"$or":        []bson.M{{"user_id": "u1"}, {"expert_id": "u1"}},
	}, f)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, int64(0), TotalPages(0, 15))
	assert.Equal(t, int64(1), TotalPages(15, 15))
	assert.Equal(t, int64(2), TotalPages(16, 15))
	assert.Equal(t, int64(0), TotalPages(5, 0))
}
