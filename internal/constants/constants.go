// Package constants provides named defaults used throughout the pfstudy
// codebase.
package constants

// Study case defaults.
const (
	// DefaultProject is the example two-area, four-machine network.
	DefaultProject = "2A4G"

	// DefaultStudyCase is the study case activated with the project.
	DefaultStudyCase = "Study Case"
)

// Monte Carlo load flow defaults.
const (
	// DefaultSamples is the number of samples per run.
	DefaultSamples = 2500

	// DefaultStdDev is the standard deviation of the load scale factor
	// (0.1 = 10%).
	DefaultStdDev = 0.1

	// DefaultMaxAttempts bounds the solves per sample, the converged one
	// included.
	DefaultMaxAttempts = 10

	// DefaultPolicy handles samples that never converge.
	DefaultPolicy = "nan"

	// DefaultLoadFlow is the load-flow calculation mode.
	DefaultLoadFlow = "balanced"
)

// Result analysis defaults.
const (
	// DefaultVoltageThreshold flags buses above this voltage in p.u.
	DefaultVoltageThreshold = 1.03

	// DefaultClusters is the number of bus clusters.
	DefaultClusters = 5

	// DefaultHistogramBins is the number of histogram bins.
	DefaultHistogramBins = 50
)

// Dynamic simulation defaults.
const (
	DefaultEMTBus  = "Bus_20kV_1"
	DefaultEMTStep = 0.0001
	DefaultEMTEnd  = 0.02

	// DefaultFaultTime and DefaultFaultDuration place the sweep fault, in
	// seconds.
	DefaultFaultTime     = 2.0
	DefaultFaultDuration = 0.15

	DefaultRMSStep = 0.01
	DefaultRMSEnd  = 10.0

	// DefaultMachine and DefaultMachineVariable select the sweep response.
	DefaultMachine         = "G1"
	DefaultMachineVariable = "s:fe"
)

// Remote engine defaults.
const (
	// DefaultBridgeURL is where the simulator bridge listens.
	DefaultBridgeURL = "http://localhost:8765"
)
