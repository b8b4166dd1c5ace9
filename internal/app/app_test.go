package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/GlebRadaev/vpnshop/internal/workflow/provision"
	"github.com/GlebRadaev/vpnshop/internal/workflow/trial"
)

type ApplicationSuite struct {
	suite.Suite
	app       *Application
	testError error
}

func TestApplication(t *testing.T) {
	suite.Run(t, &ApplicationSuite{})
}

func (s *ApplicationSuite) SetupTest() {
	s.app = New()
}

func (s *ApplicationSuite) TestWait() {
	ctx, cancel := context.WithCancel(context.Background())

	s.app.errCh = make(chan error)
	go func() {
		s.app.errCh <- fmt.Errorf("mock error")
	}()

	err := s.app.Wait(ctx, cancel)

	s.Require().Error(err)
	s.Contains(err.Error(), "mock error")
}

func (s *ApplicationSuite) TestWait_NoErrors() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.NoError(s.app.Wait(ctx, cancel))
}

func (s *ApplicationSuite) TestMenu() {
	flows := provision.DefaultFlows()
	trials := trial.DefaultFlows()

	entries := menu(flows, trials)

	s.Len(entries, len(flows)+len(trials)+3)
	s.Equal(flows[0].Name, entries[0].Command)
	s.Equal(trials[0].Name, entries[len(flows)].Command)
	s.Equal("history", entries[len(entries)-1].Command)
	for _, e := range entries {
		s.NotEmpty(e.Label)
	}
}
