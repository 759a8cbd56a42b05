package db

import (
	"go.mongodb.org/mongo-driver/bson"
)

// FilterBuilder helps build MongoDB filters fluently
type FilterBuilder struct {
	filter bson.M
}

// NewFilter creates a new FilterBuilder
func NewFilter() *FilterBuilder {
	return &FilterBuilder{filter: bson.M{}}
}

// Eq adds an equality condition
func (f *FilterBuilder) Eq(field string, value any) *FilterBuilder {
	f.filter[field] = value
	return f
}

// Lte adds a less-than-or-equal condition
func (f *FilterBuilder) Lte(field string, value any) *FilterBuilder {
	f.filter[field] = bson.M{"$lte": value}
	return f
}

// Gt adds a greater-than condition
func (f *FilterBuilder) Gt(field string, value any) *FilterBuilder {
	f.filter[field] = bson.M{"$gt": value}
	return f
}

// In adds an $in condition (value in array)
func (f *FilterBuilder) In(field string, values any) *FilterBuilder {
	f.filter[field] = bson.M{"$in": values}
	return f
}

// Or combines multiple filters with OR
func (f *FilterBuilder) Or(filters ...bson.M) *FilterBuilder {
	if len(filters) > 0 {
		f.filter["$or"] = filters
	}
	return f
}

// Build returns the final bson.M filter
func (f *FilterBuilder) Build() bson.M {
	return f.filter
}
