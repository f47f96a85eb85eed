package logging

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

func verifySetLevels(registry *Registry, expectedMatches map[string]string) bool {
	for name, level := range expectedMatches {
		logger, ok := registry.loggerNamed(name)
		if !ok || !strings.EqualFold(level, logger.GetLevel().String()) {
			return false
		}
	}
	return true
}

func createTestRegistry(loggerNames []string) *Registry {
	manager := newRegistry()
	for _, name := range loggerNames {
		manager.registerLogger(name, &impl{name: name, level: NewAtomicLevelAt(INFO), inUTC: true})
	}
	return manager
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	type testCfg struct {
		pattern string
		isValid bool
	}

	tests := []testCfg{
		// Valid patterns
		{"meshtracker.segmentation", true},
		{"meshtracker.segmentation.*", true},
		{"meshtracker.*.quadtree", true},
		{"meshtracker.*.*", true},
		{"*.segmentation", true},
		{"*", true},
		{"mesh-tracker.plane_merge", true},

		// Invalid patterns
		{"meshtracker..segmentation", false},
		{"meshtracker.segmentation.", false},
		{".meshtracker.segmentation", false},
		{"meshtracker.segmentation.**", false},
		{"meshtracker.**.segmentation", false},

		// Invalid patterns with special characters
		{"_.meshtracker.segmentation", false},
		{"-.meshtracker", false},
		{"meshtracker.-", false},
		{"meshtracker.-.segmentation", false},
		{"meshtracker._.segmentation", false},
		{"meshtracker segmentation", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.pattern, func(t *testing.T) {
			t.Parallel()
			test.That(t, validatePattern(tc.pattern), test.ShouldEqual, tc.isValid)
		})
	}
}

func TestUpdateLoggerRegistry(t *testing.T) {
	type testCfg struct {
		loggerConfig    []LoggerPatternConfig
		loggerNames     []string
		expectedMatches map[string]string
	}

	tests := []testCfg{
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "meshtracker.segmentation",
					Level:   "WARN",
				},
			},
			loggerNames: []string{
				"meshtracker.segmentation",
				"meshtracker.segmentation.merge",
				"meshtracker.quadtree",
			},
			expectedMatches: map[string]string{
				"meshtracker.segmentation":       "WARN",
				"meshtracker.segmentation.merge": "INFO",
				"meshtracker.quadtree":           "INFO",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "meshtracker.*",
					Level:   "DEBUG",
				},
			},
			loggerNames: []string{
				"meshtracker.segmentation",
				"meshtracker.quadtree.mesh",
				"meshtracker.segmentation.plane.merge",
			},
			expectedMatches: map[string]string{
				"meshtracker.segmentation":             "DEBUG",
				"meshtracker.quadtree.mesh":            "DEBUG",
				"meshtracker.segmentation.plane.merge": "DEBUG",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "meshtracker.*.merge",
					Level:   "ERROR",
				},
			},
			loggerNames: []string{
				"meshtracker.segmentation.merge",
				"meshtracker.quadtree.merge",
				"meshtracker.segmentation.quadtree",
			},
			expectedMatches: map[string]string{
				"meshtracker.segmentation.merge":    "ERROR",
				"meshtracker.quadtree.merge":        "ERROR",
				"meshtracker.segmentation.quadtree": "INFO",
			},
		},
		{
			// The last matching pattern wins.
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "meshtracker.*",
					Level:   "DEBUG",
				},
				{
					Pattern: "meshtracker.segmentation",
					Level:   "WARN",
				},
			},
			loggerNames: []string{
				"meshtracker.segmentation",
			},
			expectedMatches: map[string]string{
				"meshtracker.segmentation": "WARN",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "_.*.merge",
					Level:   "DEBUG",
				},
			},
			loggerNames: []string{
				"meshtracker.segmentation",
			},
			expectedMatches: map[string]string{
				"meshtracker.segmentation": "INFO",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{
					Pattern: "a.b",
					Level:   "DEBUG",
				},
			},
			loggerNames: []string{
				"a.b.c",
			},
			expectedMatches: map[string]string{
				"a.b.c": "INFO",
			},
		},
	}

	for _, tc := range tests {
		testRegistry := createTestRegistry(tc.loggerNames)

		err := testRegistry.Update(tc.loggerConfig, NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, verifySetLevels(testRegistry, tc.expectedMatches), test.ShouldBeTrue)
	}
}

func TestUpdateLoggerRegistryBadLevel(t *testing.T) {
	testRegistry := createTestRegistry([]string{"meshtracker"})
	err := testRegistry.Update([]LoggerPatternConfig{{Pattern: "meshtracker", Level: "loud"}}, NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, testRegistry.getCurrentConfig(), test.ShouldBeEmpty)
}

func TestRegisterAppliesConfig(t *testing.T) {
	testRegistry := newRegistry()
	err := testRegistry.Update([]LoggerPatternConfig{{Pattern: "meshtracker.*", Level: "error"}}, NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	logger := &impl{name: "meshtracker.quadtree", level: NewAtomicLevelAt(DEBUG), registry: testRegistry}
	registered := testRegistry.getOrRegister(logger.name, logger)
	test.That(t, registered, test.ShouldEqual, logger)
	test.That(t, logger.GetLevel(), test.ShouldEqual, ERROR)

	// A second registration under the same name returns the first logger.
	other := &impl{name: "meshtracker.quadtree", level: NewAtomicLevelAt(DEBUG), registry: testRegistry}
	test.That(t, testRegistry.getOrRegister(other.name, other), test.ShouldEqual, logger)

	sub := logger.Sublogger("mesh")
	got, ok := testRegistry.loggerNamed("meshtracker.quadtree.mesh")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, sub)
	test.That(t, sub.GetLevel(), test.ShouldEqual, ERROR)

	test.That(t, testRegistry.deregisterLogger("meshtracker.quadtree.mesh"), test.ShouldBeTrue)
	test.That(t, testRegistry.deregisterLogger("meshtracker.quadtree.mesh"), test.ShouldBeFalse)
	test.That(t, testRegistry.getRegisteredLoggerNames(), test.ShouldResemble, []string{"meshtracker.quadtree"})
}

func TestParseLoggerPatternConfig(t *testing.T) {
	cfg, err := ParseLoggerPatternConfig("meshtracker.*=debug")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg, test.ShouldResemble, LoggerPatternConfig{Pattern: "meshtracker.*", Level: "debug"})

	_, err = ParseLoggerPatternConfig("meshtracker")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseLoggerPatternConfig("meshtracker..x=debug")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseLoggerPatternConfig("meshtracker=loud")
	test.That(t, err, test.ShouldNotBeNil)
}
