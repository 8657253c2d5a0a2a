package bench

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ReportHeader captures run metadata for the YAML side of an exported report.
type ReportHeader struct {
	Version     int     `yaml:"report_version"`
	TimeUnit    string  `yaml:"time_unit"`
	CreatedAt   string  `yaml:"created_at,omitempty"`
	ConfigPath  string  `yaml:"config,omitempty"`
	BackendURL  string  `yaml:"backend_url,omitempty"`
	Concurrency int     `yaml:"concurrency"`
	Summary     Summary `yaml:"summary"`
}

// NewReportHeader fills a header from a finished report.
func NewReportHeader(report *Report, configPath, backendURL string) *ReportHeader {
	h := &ReportHeader{
		Version:    1,
		TimeUnit:   "us",
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		ConfigPath: configPath,
		BackendURL: backendURL,
		Summary:    Summarize(report),
	}
	if report != nil {
		h.Concurrency = report.Concurrency
	}
	return h
}

// CSV column headers for exported results.
var reportColumns = []string{
	"item_id", "route", "outcome", "code", "latency_us", "queue_wait_us", "error_message",
}

// ExportReport writes the header (YAML) and per-item results (CSV) to separate files.
// Durations are written as integer microseconds.
func ExportReport(header *ReportHeader, report *Report, headerPath, dataPath string) error {
	headerData, err := yaml.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling report header: %w", err)
	}
	if err := os.WriteFile(headerPath, headerData, 0644); err != nil {
		return fmt.Errorf("writing report header: %w", err)
	}

	file, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("creating report data file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	if err := writer.Write(reportColumns); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for i, r := range report.Results {
		row := []string{
			r.ItemID,
			r.Route,
			string(r.Outcome),
			r.Code,
			strconv.FormatInt(r.Latency.Microseconds(), 10),
			strconv.FormatInt(r.QueueWait.Microseconds(), 10),
			r.Error,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return nil
}
