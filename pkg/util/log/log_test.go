package log

import (
	"bytes"
	"flag"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	testCases := []struct {
		testName    string
		args        []string
		expected    []string
		notExpected []string
	}{
		{
			testName:    "defaults to info and logfmt",
			expected:    []string{"level=info", "msg=visible"},
			notExpected: []string{"msg=hidden"},
		},
		{
			testName: "debug level",
			args:     []string{"-log.level=debug"},
			expected: []string{"level=debug", "msg=hidden", "level=info", "msg=visible"},
		},
		{
			testName:    "json format",
			args:        []string{"-log.format=json"},
			expected:    []string{`"level":"info"`, `"msg":"visible"`},
			notExpected: []string{"hidden"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.testName, func(t *testing.T) {
			var cfg Config
			fs := flag.NewFlagSet("test", flag.PanicOnError)
			cfg.RegisterFlags(fs)
			require.NoError(t, fs.Parse(testCase.args))

			var buf bytes.Buffer
			l := InitLogger(&cfg, &buf)
			assert.Equal(t, l, Logger)

			level.Debug(l).Log("msg", "hidden")
			level.Info(l).Log("msg", "visible")

			for _, s := range testCase.expected {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range testCase.notExpected {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}
