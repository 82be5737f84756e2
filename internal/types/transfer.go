package types

// TransferOutcome records the result of pushing one file.
type TransferOutcome struct {
	RelativePath string `json:"relativePath"`
	Succeeded    bool   `json:"succeeded"`
	ErrorDetail  string `json:"errorDetail,omitempty"`
}

// TransferSummary aggregates the outcomes of one dispatch.
type TransferSummary struct {
	Mode           string            `json:"mode"`
	Provider       string            `json:"provider,omitempty"`
	TotalFiles     int               `json:"totalFiles"`
	SucceededCount int               `json:"succeededCount"`
	Outcomes       []TransferOutcome `json:"outcomes"`
	// PayloadFiles is the number of files carried by a single orchestrated
	// submission. Zero in direct mode.
	PayloadFiles int  `json:"payloadFiles,omitempty"`
	Cancelled    bool `json:"cancelled,omitempty"`
}

// Record appends an outcome and keeps the counters consistent.
func (s *TransferSummary) Record(o TransferOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	if o.Succeeded {
		s.SucceededCount++
	}
}

// FailedCount returns the number of recorded failures.
func (s TransferSummary) FailedCount() int {
	return len(s.Outcomes) - s.SucceededCount
}
