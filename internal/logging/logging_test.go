package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, INFO, ParseLevel("INFO"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, FATAL, ParseLevel("Fatal"))

	// Unknown levels fall back to INFO
	assert.Equal(t, INFO, ParseLevel("verbose"))
	assert.Equal(t, INFO, ParseLevel(""))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "FATAL", FATAL.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestWithFieldReturnsCopy(t *testing.T) {
	base := GetLogger("test")
	child := base.WithField("service", "checkout")

	assert.Empty(t, base.fields)
	assert.Equal(t, "checkout", child.fields["service"])

	// Further derivation does not leak into the parent
	grandchild := child.WithField("tier", "critical")
	assert.Len(t, child.fields, 1)
	assert.Len(t, grandchild.fields, 2)
}

func TestShouldLogRespectsLevel(t *testing.T) {
	l := &Logger{level: WARN, name: "test"}
	assert.False(t, l.shouldLog(DEBUG))
	assert.False(t, l.shouldLog(INFO))
	assert.True(t, l.shouldLog(WARN))
	assert.True(t, l.shouldLog(ERROR))
}

func TestFatalCallsExitFunc(t *testing.T) {
	exited := -1
	orig := exitFunc
	exitFunc = func(code int) { exited = code }
	defer func() { exitFunc = orig }()

	l := &Logger{level: INFO, name: "test"}
	l.Fatal("boom")
	assert.Equal(t, 1, exited)
}

func TestPerPackageLevels(t *testing.T) {
	Initialize("info", map[string]string{"discovery": "debug", "config": "warn"})
	defer Initialize("info")

	assert.Equal(t, DEBUG, GetLogger("discovery").level)
	assert.Equal(t, DEBUG, GetLogger("discovery.providers").level)
	assert.Equal(t, WARN, GetLogger("config.watcher").level)
	assert.Equal(t, INFO, GetLogger("drift").level)
	// Prefix must match on dot boundaries, not substrings.
	assert.Equal(t, INFO, GetLogger("configuration").level)
}

func TestFieldSuffixStableOrder(t *testing.T) {
	fields := map[string]interface{}{
		"service":  "checkout",
		"attempt":  2,
		"provider": "github",
	}
	want := " | attempt=2 provider=github service=checkout"
	for i := 0; i < 50; i++ {
		assert.Equal(t, want, fieldSuffix(fields, nil))
	}

	// Per-call fields keep their argument order after the sorted set.
	got := fieldSuffix(map[string]interface{}{"service": "checkout"},
		[]LogField{Field("z", 1), Field("a", 2)})
	assert.Equal(t, " | service=checkout z=1 a=2", got)

	assert.Empty(t, fieldSuffix(nil, nil))
}
