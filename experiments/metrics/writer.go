package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type RunConfig struct {
	ID        int
	Tolerance string
	Scenarios string // Joined with "+"
	Seed      uint64
}

type RiskRecord struct {
	ExpectedValue float64 `yaml:"expected_value"`
	Lower         float64 `yaml:"lower"`
	Upper         float64 `yaml:"upper"`
	Volatility    float64 `yaml:"volatility"`
	SharpeRatio   float64 `yaml:"sharpe_ratio"`
	ValueAtRisk   float64 `yaml:"value_at_risk"`
	MaxDrawdown   float64 `yaml:"max_drawdown"`
}

type RunRecord struct {
	RunConfig
	SearchMetric
	RiskRecord
	PathLength int
}

type PathRecord struct {
	Run           int // RunConfig.ID
	Step          int
	From          string
	To            string
	Action        string
	ExpectedValue float64
	Confidence    float64
}

type Summary struct {
	Name      string        `yaml:"name"`
	StartTime time.Time     `yaml:"start_time"`
	EndTime   time.Time     `yaml:"end_time"`
	Duration  time.Duration `yaml:"duration"`
	Runs      int           `yaml:"runs"`
	Best      *BestRun      `yaml:"best,omitempty"` // Highest Sharpe ratio
}

type BestRun struct {
	Run       int        `yaml:"run"`
	Tolerance string     `yaml:"tolerance"`
	Scenarios string     `yaml:"scenarios"`
	Risk      RiskRecord `yaml:"risk"`
}

type Writer struct {
	baseDir string
}

func NewWriter(root, name string) (*Writer, error) {
	// Create a subfolder named by current timestamp
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	baseDir := filepath.Join(root, name, timestamp)
	err := os.MkdirAll(baseDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &Writer{
		baseDir: baseDir,
	}, nil
}

func (w *Writer) Dir() string {
	return w.baseDir
}

func (w *Writer) WriteRunRecords(records []RunRecord) error {
	header := []string{"id", "run_id", "tolerance", "scenarios", "seed", "iterations", "max_iterations",
		"horizon", "full_rollouts", "nodes", "stopped", "duration", "expected_value", "lower", "upper",
		"volatility", "sharpe_ratio", "value_at_risk", "max_drawdown", "path_length"}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, []string{
			strconv.Itoa(record.ID),
			record.RunID,
			record.Tolerance,
			record.Scenarios,
			strconv.FormatUint(record.Seed, 10),
			strconv.Itoa(record.Iterations),
			strconv.Itoa(record.MaxIterations),
			strconv.Itoa(record.Horizon),
			strconv.Itoa(record.FullRollouts),
			strconv.Itoa(record.NodesCreated),
			strconv.FormatBool(record.IsStopped),
			record.Duration.String(),
			formatFloat(record.ExpectedValue),
			formatFloat(record.Lower),
			formatFloat(record.Upper),
			formatFloat(record.Volatility),
			formatFloat(record.SharpeRatio),
			formatFloat(record.ValueAtRisk),
			formatFloat(record.MaxDrawdown),
			strconv.Itoa(record.PathLength),
		})
	}

	if err := w.writeCSV("runs.csv", header, rows); err != nil {
		return fmt.Errorf("failed to write run records: %w", err)
	}
	return nil
}

func (w *Writer) WritePathRecords(records []PathRecord) error {
	header := []string{"run", "step", "from", "to", "action", "expected_value", "confidence"}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, []string{
			strconv.Itoa(record.Run),
			strconv.Itoa(record.Step),
			record.From,
			record.To,
			record.Action,
			formatFloat(record.ExpectedValue),
			formatFloat(record.Confidence),
		})
	}

	if err := w.writeCSV("paths.csv", header, rows); err != nil {
		return fmt.Errorf("failed to write path records: %w", err)
	}
	return nil
}

func (w *Writer) WriteSummary(summary Summary) error {
	path := filepath.Join(w.baseDir, "summary.yaml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return encoder.Close()
}

func (w *Writer) writeCSV(name string, header []string, rows [][]string) error {
	path := filepath.Join(w.baseDir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
