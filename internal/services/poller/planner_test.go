package poller

import (
	"testing"
	"time"

	pollermocks "github.com/BearBump/FlightBox/internal/services/poller/mocks"
	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func (s *PlannerSuite) TestBackoffDelay() {
	s.Equal(5*time.Second, BackoffDelay(0))
	s.Equal(5*time.Second, BackoffDelay(1))
	s.Equal(15*time.Second, BackoffDelay(2))
	s.Equal(30*time.Second, BackoffDelay(3))
	s.Equal(60*time.Second, BackoffDelay(4))
	s.Equal(60*time.Second, BackoffDelay(100))
}

func (s *PlannerSuite) TestBackoffDelay_Jitter() {
	m := &pollermocks.Rand{}
	m.On("Intn", 1501).Return(700).Once()

	p := NewPlanner(PlannerConfig{Jitter: 0.1}, m)
	s.Equal(15*time.Second+700*time.Millisecond, p.BackoffDelay(2))
	m.AssertExpectations(s.T())
}

func (s *PlannerSuite) TestNewPlanner_Overrides() {
	p := NewPlanner(PlannerConfig{Backoff1: time.Second, Backoff4: 2 * time.Minute, Jitter: -1}, &pollermocks.Rand{})
	s.Equal(time.Second, p.BackoffDelay(1))
	s.Equal(15*time.Second, p.BackoffDelay(2))
	s.Equal(2*time.Minute, p.BackoffDelay(9))
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
