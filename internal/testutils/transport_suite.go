package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/internal/devicefactory"
	"github.com/stretchr/testify/suite"
)

// FakeTransportSuite provides a reusable test suite backed by the fake transport.
//
// The suite swaps devicefactory.AdapterFactory for the duration of each test so
// that any code opening an adapter gets the suite's FakeAdapter.
//
//	type ScannerSuite struct {
//	    testutils.FakeTransportSuite
//	}
//
//	func (s *ScannerSuite) TestScan() {
//	    s.Adapter.WithPeripherals(testutils.NewPeripheral("AA:BB").WithName("ChestStrap1"))
//	    ...
//	}
type FakeTransportSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Adapter is recreated for every test
	Adapter *FakeAdapter
	// Backend records the backend name most recently requested from the factory
	Backend string

	originalFactory func(string, *logrus.Logger) (device.Adapter, error)
}

// SetupSuite initializes logging once per suite.
func (s *FakeTransportSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest installs a fresh fake adapter.
func (s *FakeTransportSuite) SetupTest() {
	// Rebind to the per-test T so logs land in the right subtest.
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger

	s.Adapter = NewFakeAdapter()
	s.Backend = ""
	s.originalFactory = devicefactory.AdapterFactory
	devicefactory.AdapterFactory = func(backend string, _ *logrus.Logger) (device.Adapter, error) {
		s.Backend = backend
		return s.Adapter, nil
	}
}

// TearDownTest restores the original adapter factory.
func (s *FakeTransportSuite) TearDownTest() {
	if s.originalFactory != nil {
		devicefactory.AdapterFactory = s.originalFactory
		s.Logger.Debug("Adapter factory restored")
	}
}

// FailAdapter makes the factory fail as if no adapter were present.
func (s *FakeTransportSuite) FailAdapter(err error) {
	devicefactory.AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		return nil, err
	}
}
