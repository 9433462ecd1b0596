package mocks

import (
	context "context"
	time "time"

	models "github.com/BearBump/FlightBox/internal/models"
	mock "github.com/stretchr/testify/mock"
)

// MockRepository is a mock type for the Repository type
type MockRepository struct {
	mock.Mock
}

func (_m *MockRepository) IngestSample(ctx context.Context, sample *models.PositionSample) (*models.FlightState, error) {
	ret := _m.Called(ctx, sample)
	var r0 *models.FlightState
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.FlightState)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) RegisterFlight(ctx context.Context, reg models.FlightRegistration, now time.Time) (*models.FlightState, error) {
	ret := _m.Called(ctx, reg, now)
	var r0 *models.FlightState
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.FlightState)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) GetFlight(ctx context.Context, flightID string) (*models.FlightState, error) {
	ret := _m.Called(ctx, flightID)
	var r0 *models.FlightState
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.FlightState)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) ListFlights(ctx context.Context, status string) ([]*models.FlightState, error) {
	ret := _m.Called(ctx, status)
	var r0 []*models.FlightState
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.FlightState)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) SampleAt(ctx context.Context, flightID string, at time.Time) (*models.PositionSample, error) {
	ret := _m.Called(ctx, flightID, at)
	var r0 *models.PositionSample
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.PositionSample)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) RecentSamples(ctx context.Context, flightID string, limit int) ([]*models.PositionSample, error) {
	ret := _m.Called(ctx, flightID, limit)
	var r0 []*models.PositionSample
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.PositionSample)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) CompleteFlight(ctx context.Context, flightID string, archive models.ArchiveFunc) (*models.FlightLog, error) {
	ret := _m.Called(ctx, flightID, archive)
	if rf, ok := ret.Get(0).(func(context.Context, string, models.ArchiveFunc) (*models.FlightLog, error)); ok {
		return rf(ctx, flightID, archive)
	}
	var r0 *models.FlightLog
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.FlightLog)
	}
	return r0, ret.Error(1)
}

func (_m *MockRepository) LatestFlightLog(ctx context.Context, flightID string) (*models.FlightLog, error) {
	ret := _m.Called(ctx, flightID)
	var r0 *models.FlightLog
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.FlightLog)
	}
	return r0, ret.Error(1)
}

// MockPublisher is a mock type for the Publisher type
type MockPublisher struct {
	mock.Mock
}

func (_m *MockPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	ret := _m.Called(ctx, topic, key, value)
	return ret.Error(0)
}
