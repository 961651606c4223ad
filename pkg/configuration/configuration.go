package configuration

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/go-jsonnet"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingConfiguration controls the construction of the zap logger
// that is used by bb_coordination.
type LoggingConfiguration struct {
	// Minimum level of messages that are logged, such as "debug",
	// "info", "warn" or "error".
	Level string `json:"level"`
	// Use a human readable encoder instead of JSON.
	Development bool `json:"development"`
}

// ChildrenThresholdsConfiguration corresponds to
// tree.ChildrenThresholds.
type ChildrenThresholdsConfiguration struct {
	MinimumMapChildren   int `json:"minimumMapChildren"`
	MaximumSliceChildren int `json:"maximumSliceChildren"`
	MinimumTreeChildren  int `json:"minimumTreeChildren"`
	MaximumMapChildren   int `json:"maximumMapChildren"`
}

// JournalConfiguration controls where committed change lists are
// stored durably.
type JournalConfiguration struct {
	// Directory in which the Badger database is stored.
	Path string `json:"path"`
	// Keep the Badger database in memory. This is only useful for
	// testing, as nothing survives a restart.
	InMemory bool `json:"inMemory"`
	// Maximum number of committed change lists that may be queued
	// for writing to the journal before transactions block.
	PendingCommitsLimit int `json:"pendingCommitsLimit"`
}

// ApplicationConfiguration is the configuration of bb_coordination.
// It is read from a Jsonnet file.
type ApplicationConfiguration struct {
	Logging LoggingConfiguration `json:"logging"`

	// One of "multiLevelPool", "singleLock" or
	// "externallySerialized".
	LockStrategy string `json:"lockStrategy"`
	// Number of lock objects per level of the tree, used by the
	// "multiLevelPool" lock strategy. Nodes below the last level
	// share the locks of the last level.
	LockPoolSizes   []int `json:"lockPoolSizes"`
	ReadsGoUnlocked bool  `json:"readsGoUnlocked"`
	// Maximum amount of time to wait for a single lock, in the
	// format accepted by time.ParseDuration().
	MaximumLockWait string `json:"maximumLockWait"`

	ChildrenThresholds       *ChildrenThresholdsConfiguration `json:"childrenThresholds"`
	MaximumRetrievedChildren int                              `json:"maximumRetrievedChildren"`
	LockDownPaths            []string                         `json:"lockDownPaths"`

	// Number of times an operation is retried after a lock
	// acquisition timeout. Defaults to 3.
	LockTimeoutRetries *int `json:"lockTimeoutRetries"`
	SynchronousCommits bool `json:"synchronousCommits"`
	// Where paths of read operations may match nodes named "*" and
	// "**". One of "none", "leaf", "branches" or "everywhere".
	ReadWildcards string `json:"readWildcards"`

	// Absent means that no journal is used.
	Journal *JournalConfiguration `json:"journal"`

	// Address on which /metrics and /-/healthy are served.
	MetricsListenAddress string `json:"metricsListenAddress"`
}

// UnmarshalApplicationConfiguration evaluates a Jsonnet snippet and
// decodes the result into an ApplicationConfiguration. Environment
// variables are exposed to the snippet as external variables. Unknown
// fields are rejected.
func UnmarshalApplicationConfiguration(filename, snippet string) (*ApplicationConfiguration, error) {
	vm := jsonnet.MakeVM()
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			vm.ExtVar(key, value)
		}
	}
	output, err := vm.EvaluateAnonymousSnippet(filename, snippet)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Failed to evaluate configuration: %s", err)
	}

	decoder := json.NewDecoder(bytes.NewBufferString(output))
	decoder.DisallowUnknownFields()
	var configuration ApplicationConfiguration
	if err := decoder.Decode(&configuration); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Failed to decode configuration: %s", err)
	}
	setDefaultValues(&configuration)
	return &configuration, nil
}

// GetApplicationConfiguration reads the configuration from file and
// fills in default values.
func GetApplicationConfiguration(path string) (*ApplicationConfiguration, error) {
	snippet, err := os.ReadFile(path)
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.NotFound, "Failed to read configuration file")
	}
	configuration, err := UnmarshalApplicationConfiguration(path, string(snippet))
	if err != nil {
		return nil, util.StatusWrap(err, "Failed to retrieve configuration")
	}
	return configuration, nil
}

func setDefaultValues(configuration *ApplicationConfiguration) {
	if configuration.Logging.Level == "" {
		configuration.Logging.Level = "info"
	}
	if configuration.LockStrategy == "" {
		configuration.LockStrategy = "multiLevelPool"
	}
	if len(configuration.LockPoolSizes) == 0 {
		configuration.LockPoolSizes = []int{1, 50, 2500, 10000, 100000, 500000}
	}
	if configuration.MaximumLockWait == "" {
		configuration.MaximumLockWait = "5s"
	}
	if configuration.MaximumRetrievedChildren == 0 {
		configuration.MaximumRetrievedChildren = 10000
	}
	if configuration.LockTimeoutRetries == nil {
		lockTimeoutRetries := 3
		configuration.LockTimeoutRetries = &lockTimeoutRetries
	}
	if configuration.ReadWildcards == "" {
		configuration.ReadWildcards = "none"
	}
	if configuration.Journal != nil && configuration.Journal.PendingCommitsLimit == 0 {
		configuration.Journal.PendingCommitsLimit = 1000
	}
	if configuration.MetricsListenAddress == "" {
		configuration.MetricsListenAddress = ":9980"
	}
}
