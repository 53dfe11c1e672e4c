package sequence

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// StageLoad is the pseudo-block name recorded when the image source failed
// to materialize an item.
const StageLoad = "load"

// Outcome is the per-frame record of a run: success, or failure naming the
// offending block.
type Outcome struct {
	Index       int    `json:"index" yaml:"index"`
	ID          string `json:"id" yaml:"id"`
	OK          bool   `json:"ok" yaml:"ok"`
	FailedBlock string `json:"failed_block,omitempty" yaml:"failed_block,omitempty"`
	Err         string `json:"error,omitempty" yaml:"error,omitempty"`
	BlocksRun   int    `json:"blocks_run" yaml:"blocks_run"`
	ElapsedNs   int64  `json:"elapsed_ns" yaml:"elapsed_ns"`

	// failure keeps the typed error for progress callbacks; it is not
	// serialized.
	failure error
}

// Report is the record of one sequence execution: one outcome per input
// item, in input order, plus aggregate counts and collected termination
// failures.
type Report struct {
	RunID        string        `json:"run_id" yaml:"run_id"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	ElapsedNs    int64         `json:"elapsed_ns" yaml:"elapsed_ns"`
	Blocks       []string      `json:"blocks" yaml:"blocks"`
	Outcomes     []Outcome     `json:"outcomes" yaml:"outcomes"`
	Succeeded    int           `json:"succeeded" yaml:"succeeded"`
	Failed       int           `json:"failed" yaml:"failed"`
	TermFailures []TermFailure `json:"term_failures,omitempty" yaml:"term_failures,omitempty"`
}

func newReport(blocks []block.Block) *Report {
	names := make([]string, len(blocks))
	for i, b := range blocks {
		names[i] = b.Name()
	}
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Blocks:    names,
	}
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.OK {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

func (r *Report) finish() {
	r.ElapsedNs = time.Since(r.StartedAt).Nanoseconds()
}

// Outcome returns the outcome for the given input index, or nil when the
// run was cancelled before reaching it.
func (r *Report) Outcome(index int) *Outcome {
	if index < 0 || index >= len(r.Outcomes) {
		return nil
	}
	return &r.Outcomes[index]
}

// ToJSON serializes the report to pretty JSON.
func (r *Report) ToJSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToYAML serializes the report to YAML.
func (r *Report) ToYAML() (string, error) {
	b, err := yaml.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToCSV exports the per-frame outcomes as CSV with a header row.
func (r *Report) ToCSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"index", "id", "ok", "failed_block", "error", "blocks_run", "elapsed_ns"})
	for _, o := range r.Outcomes {
		_ = w.Write([]string{
			strconv.Itoa(o.Index),
			o.ID,
			strconv.FormatBool(o.OK),
			o.FailedBlock,
			o.Err,
			strconv.Itoa(o.BlocksRun),
			strconv.FormatInt(o.ElapsedNs, 10),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Summary returns a short human-readable digest of the run.
func (r *Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s: %d frames, %d ok, %d failed in %v\n",
		r.RunID, len(r.Outcomes), r.Succeeded, r.Failed,
		time.Duration(r.ElapsedNs).Round(time.Millisecond))
	for _, o := range r.Outcomes {
		if o.OK {
			continue
		}
		fmt.Fprintf(&sb, "  %s: failed at %s: %s\n", o.ID, o.FailedBlock, o.Err)
	}
	for _, tf := range r.TermFailures {
		fmt.Fprintf(&sb, "  terminate %s: %s\n", tf.Block, tf.Err)
	}
	return sb.String()
}
