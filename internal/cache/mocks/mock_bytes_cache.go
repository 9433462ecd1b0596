package mocks

import (
	context "context"
	time "time"

	mock "github.com/stretchr/testify/mock"
)

// MockBytesCache is a mock type for the BytesCache type
type MockBytesCache struct {
	mock.Mock
}

// Get provides a mock function with given fields: ctx, key
func (_m *MockBytesCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ret := _m.Called(ctx, key)

	var r0 []byte
	if rf, ok := ret.Get(0).(func(context.Context, string) []byte); ok {
		r0 = rf(ctx, key)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}

	r1 := ret.Bool(1)
	r2 := ret.Error(2)
	return r0, r1, r2
}

// Set provides a mock function with given fields: ctx, key, value, ttl
func (_m *MockBytesCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ret := _m.Called(ctx, key, value, ttl)
	return ret.Error(0)
}

// Del provides a mock function with given fields: ctx, key
func (_m *MockBytesCache) Del(ctx context.Context, key string) error {
	ret := _m.Called(ctx, key)
	return ret.Error(0)
}

// MockRateLimiter is a mock type for the RateLimiter type
type MockRateLimiter struct {
	mock.Mock
}

// Allow provides a mock function with given fields: ctx, key, limit, window
func (_m *MockRateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	ret := _m.Called(ctx, key, limit, window)
	return ret.Bool(0), ret.Get(1).(int64), ret.Error(2)
}

// SetVersioned provides a mock function with given fields: ctx, key, version, value, ttl
func (_m *MockBytesCache) SetVersioned(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error) {
	ret := _m.Called(ctx, key, version, value, ttl)
	return ret.Bool(0), ret.Error(1)
}

// Fence provides a mock function with given fields: ctx, key, fence, ttl
func (_m *MockBytesCache) Fence(ctx context.Context, key string, fence int64, ttl time.Duration) error {
	ret := _m.Called(ctx, key, fence, ttl)
	return ret.Error(0)
}
