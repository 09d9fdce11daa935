package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/internal/testutils"
	"github.com/srg/hrbridge/pkg/connection"
	"github.com/srg/hrbridge/scanner"
	suitelib "github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	testutils.FakeTransportSuite

	registry *connection.Registry
	scanner  *scanner.Scanner
	opts     *scanner.ScanOptions
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.FakeTransportSuite.SetupTest()

	suite.registry = connection.NewRegistry()
	suite.scanner = scanner.NewScanner(suite.registry, suite.Logger)
	suite.opts = &scanner.ScanOptions{Duration: 10 * time.Millisecond, Backend: "go-ble"}
}

func (suite *ScannerTestSuite) knownIDs() []string {
	var out []string
	for _, p := range suite.registry.Devices() {
		out = append(out, p.ID())
	}
	return out
}

func (suite *ScannerTestSuite) TestScanReturnsNamedDevicesOnly() {
	// GOAL: Verify unnamed peripherals are silently excluded from results and registry
	//
	// TEST SCENARIO: three advertisers, one without a name → two results in discovery order

	suite.Adapter.WithPeripherals(
		testutils.NewPeripheral("AA:BB").WithName("ChestStrap1"),
		testutils.NewPeripheral("CC:DD"),
		testutils.NewPeripheral("EE:FF").WithName("Armband"),
	)

	results, err := suite.scanner.Scan(context.Background(), suite.opts, nil)

	suite.Require().NoError(err)
	suite.Equal([]scanner.Result{
		{ID: "AA:BB", Name: "ChestStrap1"},
		{ID: "EE:FF", Name: "Armband"},
	}, results)
	suite.Equal([]string{"AA:BB", "EE:FF"}, suite.knownIDs(), "registry MUST hold exactly the named peripherals")
	suite.Equal("go-ble", suite.Backend)
}

func (suite *ScannerTestSuite) TestScanSingleDevice() {
	suite.Adapter.WithPeripherals(testutils.NewPeripheral("AA:BB").WithName("ChestStrap1"))

	results, err := suite.scanner.Scan(context.Background(), suite.opts, nil)

	suite.Require().NoError(err)
	suite.Equal([]scanner.Result{{ID: "AA:BB", Name: "ChestStrap1"}}, results)

	p, ok := suite.registry.Lookup("AA:BB")
	suite.Require().True(ok)
	suite.Equal("ChestStrap1", p.Name())
}

func (suite *ScannerTestSuite) TestScanDeduplicatesAdvertisements() {
	strap := testutils.NewPeripheral("AA:BB").WithName("ChestStrap1")
	suite.Adapter.WithPeripherals(strap, strap, strap)

	results, err := suite.scanner.Scan(context.Background(), suite.opts, nil)

	suite.Require().NoError(err)
	suite.Len(results, 1)

	var types []scanner.DeviceEventType
	for len(suite.scanner.Events()) > 0 {
		types = append(types, (<-suite.scanner.Events()).Type)
	}
	suite.Equal([]scanner.DeviceEventType{scanner.EventNew, scanner.EventUpdated, scanner.EventUpdated}, types)
}

func (suite *ScannerTestSuite) TestScanReplacesPreviousResults() {
	suite.Adapter.WithPeripherals(testutils.NewPeripheral("AA:BB").WithName("ChestStrap1"))
	_, err := suite.scanner.Scan(context.Background(), suite.opts, nil)
	suite.Require().NoError(err)

	suite.Adapter = testutils.NewFakeAdapter(testutils.NewPeripheral("11:22").WithName("Watch"))
	_, err = suite.scanner.Scan(context.Background(), suite.opts, nil)
	suite.Require().NoError(err)

	suite.Equal([]string{"11:22"}, suite.knownIDs(), "previous scan results MUST be discarded")
}

func (suite *ScannerTestSuite) TestScanEmpty() {
	suite.registry.ReplaceDevices([]device.Peripheral{testutils.NewPeripheral("OLD")})

	results, err := suite.scanner.Scan(context.Background(), suite.opts, nil)

	suite.Require().NoError(err)
	suite.Empty(results)
	suite.Empty(suite.registry.Devices())
}

func (suite *ScannerTestSuite) TestScanAdapterUnavailable() {
	// GOAL: Verify a missing adapter fails the scan before the registry is touched
	//
	// TEST SCENARIO: factory fails → AdapterUnavailable, previous results kept

	suite.registry.ReplaceDevices([]device.Peripheral{testutils.NewPeripheral("OLD").WithName("Old")})
	suite.FailAdapter(errors.New("no adapter"))

	_, err := suite.scanner.Scan(context.Background(), suite.opts, nil)

	suite.ErrorIs(err, device.ErrAdapterUnavailable)
	suite.Equal([]string{"OLD"}, suite.knownIDs(), "registry MUST NOT be touched on failure")
}

func (suite *ScannerTestSuite) TestScanTransportError() {
	suite.registry.ReplaceDevices([]device.Peripheral{testutils.NewPeripheral("OLD").WithName("Old")})
	suite.Adapter.WithScanError(errors.New("hci: command disallowed"))

	_, err := suite.scanner.Scan(context.Background(), suite.opts, nil)

	suite.ErrorIs(err, device.ErrTransport)
	suite.Contains(err.Error(), "command disallowed")
	suite.Equal([]string{"OLD"}, suite.knownIDs(), "registry MUST NOT be touched on failure")
}

func (suite *ScannerTestSuite) TestScanNormalizesDriverErrors() {
	suite.Adapter.WithScanError(errors.New("bluetooth is turned off"))

	_, err := suite.scanner.Scan(context.Background(), suite.opts, nil)

	suite.ErrorIs(err, device.ErrAdapterUnavailable)
}

func (suite *ScannerTestSuite) TestScanParentCancelled() {
	suite.registry.ReplaceDevices([]device.Peripheral{testutils.NewPeripheral("OLD").WithName("Old")})
	suite.Adapter.WithPeripherals(testutils.NewPeripheral("AA:BB").WithName("ChestStrap1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := suite.scanner.Scan(ctx, suite.opts, nil)

	suite.ErrorIs(err, context.Canceled)
	suite.Equal([]string{"OLD"}, suite.knownIDs())
}

func (suite *ScannerTestSuite) TestScanFilters() {
	suite.Adapter.WithPeripherals(
		testutils.NewPeripheral("AA:BB").WithName("A"),
		testutils.NewPeripheral("CC:DD").WithName("C"),
		testutils.NewPeripheral("EE:FF").WithName("E"),
	)

	suite.opts.BlockList = []string{"CC:DD"}
	results, err := suite.scanner.Scan(context.Background(), suite.opts, nil)
	suite.Require().NoError(err)
	suite.Equal([]scanner.Result{{ID: "AA:BB", Name: "A"}, {ID: "EE:FF", Name: "E"}}, results)

	suite.opts.BlockList = nil
	suite.opts.AllowList = []string{"EE:FF"}
	results, err = suite.scanner.Scan(context.Background(), suite.opts, nil)
	suite.Require().NoError(err)
	suite.Equal([]scanner.Result{{ID: "EE:FF", Name: "E"}}, results)
}

func (suite *ScannerTestSuite) TestScanReportsProgress() {
	var phases []string
	_, err := suite.scanner.Scan(context.Background(), suite.opts, func(phase string) {
		phases = append(phases, phase)
	})

	suite.Require().NoError(err)
	suite.Equal([]string{"Opening adapter", "Scanning", "Processing results"}, phases)
}

func (suite *ScannerTestSuite) TestDefaultScanOptions() {
	opts := scanner.DefaultScanOptions()
	suite.Equal(2*time.Second, opts.Duration)
	suite.Equal("go-ble", opts.Backend)
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}
