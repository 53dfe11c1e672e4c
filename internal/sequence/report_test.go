package sequence

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func failedRunReport(t *testing.T) *Report {
	t.Helper()
	a := newStub("a", nil)
	a.failOnFrame = "img2"
	a.failTerm = assert.AnError

	report, err := New(a).Run(context.Background(), namedFrames("img1", "img2"))
	require.NoError(t, err)
	return report
}

func TestReportToJSONRoundTrip(t *testing.T) {
	report := failedRunReport(t)

	out, err := report.ToJSON()
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	require.Len(t, decoded.Outcomes, 2)
	assert.True(t, decoded.Outcomes[0].OK)
	assert.Equal(t, "a", decoded.Outcomes[1].FailedBlock)
	require.Len(t, decoded.TermFailures, 1)
}

func TestReportToYAML(t *testing.T) {
	report := failedRunReport(t)

	out, err := report.ToYAML()
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 1, decoded.Succeeded)
	assert.Equal(t, 1, decoded.Failed)
}

func TestReportToCSV(t *testing.T) {
	report := failedRunReport(t)

	out, err := report.ToCSV()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "index,id,ok,failed_block,error,blocks_run,elapsed_ns", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0,img1,true"))
	assert.Contains(t, lines[2], "img2")
	assert.Contains(t, lines[2], "false")
}

func TestReportSummaryNamesFailures(t *testing.T) {
	report := failedRunReport(t)

	s := report.Summary()
	assert.Contains(t, s, "2 frames, 1 ok, 1 failed")
	assert.Contains(t, s, "img2: failed at a")
	assert.Contains(t, s, "terminate a")
	assert.NotContains(t, s, "img1: failed")
}

func TestReportOutcomeLookup(t *testing.T) {
	report := failedRunReport(t)

	require.NotNil(t, report.Outcome(0))
	assert.Equal(t, "img1", report.Outcome(0).ID)
	assert.Nil(t, report.Outcome(-1))
	assert.Nil(t, report.Outcome(2))
}
