package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
	z string
}

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
	z string
}

type StructWithAnonymousStruct struct {
	x int
	Y struct {
		Y1 string
	}
	Z string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualTrimmed := strings.TrimSuffix(output, "\n")
	actualParts := strings.Split(actualTrimmed, "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	// Logger name.
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	// Verify the filename matches exactly.
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	// Verify the line number is in fact a number, but no more.
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	// Log message.
	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])

	// Structured logging with the "w" API. E.g: `Debugw` has an extra tab delimited output.
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 5 {
		return
	}

	// JSON encoding of maps can be unpredictable because map iteration order can change between
	// runs. Parse the output into maps and assert on map equality.
	expectedMap := make(map[string]any)
	err = json.Unmarshal([]byte(expectedParts[5]), &expectedMap)
	test.That(t, err, test.ShouldBeNil)

	actualMap := make(map[string]any)
	err = json.Unmarshal([]byte(actualParts[5]), &actualMap)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(name string, level Level) (*impl, *bytes.Buffer) {
	notStdout := &bytes.Buffer{}
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(level),
		inUTC:     true,
		appenders: []Appender{NewWriterAppender(notStdout)},
	}, notStdout
}

// E.g:
//
//	2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:87	impl Info log
func TestConsoleOutputFormat(t *testing.T) {
	// A logger object that will write to the `notStdout` buffer.
	impl, notStdout := newBufferLogger("impl", DEBUG)

	impl.Info("impl Info log")
	// Note the use of tabs between the date, level, name, file location and log line. The
	// `assertLogMatches` helper will also deal with the changes to the time/line number.
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:67	impl Info log`)

	// Plain variants join their arguments like `fmt.Sprint`.
	impl.Info("impl ", 2, " args")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:45:20.764Z	INFO	impl	logging/impl_test.go:131	impl 2 args`)

	// Using `Infow` turns the tail arguments into a map for structured logging.
	impl.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806Z	INFO	impl	logging/impl_test.go:132	impl logw	{"key":"value"}`)

	// A few examples of structs.
	impl.Infow("impl logw", "key", "val", "StructWithAnonymousStruct", StructWithAnonymousStruct{1, struct{ Y1 string }{"y1"}, "foo"})
	//nolint:lll
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:121	impl logw	{"StructWithAnonymousStruct":{"Y":{"Y1":"y1"},"Z":"foo"},"key":"val"}`)

	impl.Infow("StructWithStruct", "key", "val", "StructWithStruct", StructWithStruct{1, User{"alice"}, "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:123	StructWithStruct	{"StructWithStruct":{"Y":{"Name":"alice"}},"key":"val"}`)

	impl.Infow("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice", "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	impl	logging/impl_test.go:125	BasicStruct	{"BasicStruct":{"X":1},"implOneKey":"1val"}`)

	// Represent a struct as a string using `fmt.Sprintf`.
	impl.Warnw("impl logw", "key", "val", "fmt.Sprintf", fmt.Sprintf("%+v", BasicStruct{1, "alice", "foo"}))
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	WARN	impl	logging/impl_test.go:127	impl logw	{"fmt.Sprintf":"{X:1 y:alice z:foo}","key":"val"}`)

	// An unpaired key is kept with an error value.
	impl.Errorw("unpaired", "key")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	ERROR	impl	logging/impl_test.go:127	unpaired	{"key":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	impl, notStdout := newBufferLogger("levels", WARN)

	impl.Debug("dropped")
	impl.Infow("dropped", "n", 1)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	impl.Warn("kept")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	WARN	levels	logging/impl_test.go:127	kept`)

	// A debug context logs debug statements whatever the level.
	ctx := EnableDebugMode(context.Background(), "")
	test.That(t, IsDebugMode(ctx), test.ShouldBeTrue)
	test.That(t, GetName(ctx), test.ShouldHaveLength, 6)
	test.That(t, IsDebugMode(context.Background()), test.ShouldBeFalse)
	impl.CDebugw(ctx, "frame", "timestamp", 7)
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	DEBUG	levels	logging/impl_test.go:127	frame	{"timestamp":7}`)
	impl.CDebugw(context.Background(), "dropped", "n", 2)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	impl.SetLevel(DEBUG)
	test.That(t, impl.GetLevel(), test.ShouldEqual, DEBUG)
	test.That(t, impl.GetLevel().AsZap(), test.ShouldEqual, zapcore.DebugLevel)
	impl.Debug("kept")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	DEBUG	levels	logging/impl_test.go:127	kept`)
}

func TestSublogger(t *testing.T) {
	impl, notStdout := newBufferLogger("meshtracker", INFO)
	sub := impl.Sublogger("segmentation")
	sub.Info("planes")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	meshtracker.segmentation	logging/impl_test.go:127	planes`)

	// Unregistered loggers hand out unregistered subloggers.
	_, ok := LoggerNamed("meshtracker.segmentation")
	test.That(t, ok, test.ShouldBeFalse)

	// Changing the sublogger level leaves the parent alone.
	sub.SetLevel(ERROR)
	test.That(t, impl.GetLevel(), test.ShouldEqual, INFO)
	test.That(t, sub.Sync(), test.ShouldBeNil)
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Sublogger("quadtree").Warnw("capacity", "plane", 3)
	logger.Debug("debug")

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	entry := logs.FilterMessage("capacity").All()[0]
	test.That(t, entry.LoggerName, test.ShouldEqual, "quadtree")
	test.That(t, entry.Level, test.ShouldEqual, zapcore.WarnLevel)
	test.That(t, entry.ContextMap()["plane"], test.ShouldEqual, int64(3))
}

func TestWithFields(t *testing.T) {
	impl, notStdout := newBufferLogger("tracker", INFO)
	frame := impl.WithFields("timestamp", 7)
	frame.Infow("frame processed", "planes", 2)
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	tracker	logging/impl_test.go:127	frame processed	{"timestamp":7,"planes":2}`)

	// the parent does not see the bound fields
	impl.Info("plain")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	INFO	tracker	logging/impl_test.go:127	plain`)

	// the child follows the parent level, its sublogger keeps the fields
	impl.SetLevel(ERROR)
	frame.Warn("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
	frame.SetLevel(INFO)
	frame.Sublogger("segmentation").WithFields("round", 1).Warnw("no peaks")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129Z	WARN	tracker.segmentation	logging/impl_test.go:127	no peaks	{"timestamp":7,"round":1}`)
}

func TestLevelFromString(t *testing.T) {
	for input, expected := range map[string]Level{"debug": DEBUG, "INFO": INFO, "Warn": WARN, "warning": WARN, "error": ERROR} {
		level, err := LevelFromString(input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
	encoded, err := json.Marshal(ERROR)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(encoded), test.ShouldEqual, `"Error"`)
}

func TestFileAppender(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "meshtracker.log")
	appender := NewFileAppender(filename, 1, 2)

	impl, _ := newBufferLogger("file", INFO)
	impl.AddAppender(appender)
	impl.Infow("frame processed", "planes", 2)
	test.That(t, impl.Sync(), test.ShouldBeNil)
	test.That(t, appender.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(filename)
	test.That(t, err, test.ShouldBeNil)
	assertLogMatches(t, bytes.NewBuffer(contents),
		`2023-10-30T13:20:47.129Z	INFO	file	logging/impl_test.go:127	frame processed	{"planes":2}`)
}
