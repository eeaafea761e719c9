package runner

// Scheduler command constants
const (
	DefaultStestrBinary = "stestr"
	DefaultGoBinary     = "go"

	// stestr
	StestrListCommand   = "list"
	StestrRunCommand    = "run"
	StestrSubunitFlag   = "--subunit"
	StestrSerialFlag    = "--serial"
	StestrConcurrency   = "--concurrency"
	StestrUntilFailure  = "--until-failure"
	StestrLoadListFlag  = "--load-list"
	StestrNoDiscover    = "--no-discover"
	StestrTestPathFlag  = "--test-path"
	StestrConfigFile    = ".stestr.conf"
	StestrTestPathKey   = "test_path"
	StestrSchedulerName = "stestr"

	// go test
	TestCommand     = "test"
	JSONFlag        = "-json"
	CountFlag       = "-count"
	RunFlag         = "-run"
	PackagesFlag    = "-p"
	ParallelFlag    = "-parallel"
	GoSchedulerName = "go"

	// Test count to disable caching
	DisableCacheCount = "1"

	// Directory patterns
	AllPackagesPattern = "./..."
)

// listingJunk marks lines of a test listing that are scheduler chatter rather
// than test ids.
var listingJunk = []string{"OS_", "CAPTURE", "TEST_TIMEOUT", "PYTHON", "subunit.run discover"}
