package sned

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReportEntry is one row of the downloadable airdrop report.
type ReportEntry struct {
	TxID        string      `json:"txId"`
	Amount      json.Number `json:"amount"` // SOL
	Destination string      `json:"destination"`
}

// Entries converts outcomes to report rows, keeping their order.
func (r *Report) Entries() []ReportEntry {
	entries := make([]ReportEntry, len(r.Outcomes))
	for i, o := range r.Outcomes {
		entries[i] = ReportEntry{
			TxID:        o.TxID,
			Amount:      json.Number(LamportsToSOL(o.Request.Lamports).String()),
			Destination: o.Request.Destination,
		}
	}
	return entries
}

// ReportFilename is the name the report document is saved under.
func (r *Report) ReportFilename() string {
	return fmt.Sprintf("Airdrop-%d.json", r.CreatedAt.UnixMilli())
}

// MarshalEntries renders the report document: a pretty-printed JSON array.
func (r *Report) MarshalEntries() ([]byte, error) {
	return json.MarshalIndent(r.Entries(), "", "  ")
}

// WriteReport writes the report document into dir and returns its path.
func WriteReport(dir string, r *Report) (string, error) {
	data, err := r.MarshalEntries()
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, r.ReportFilename())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// ReadReport loads a report document written by WriteReport.
func ReadReport(path string) ([]ReportEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []ReportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return entries, nil
}
