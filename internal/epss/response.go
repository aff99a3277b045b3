package epss

import (
	"encoding/json"
	"fmt"
)

// Record is one score row. The API encodes numbers as strings.
type Record struct {
	CVE        string       `json:"cve"`
	EPSS       string       `json:"epss"`
	Percentile string       `json:"percentile"`
	Date       string       `json:"date"`
	TimeSeries []ScorePoint `json:"time-series,omitempty"`
}

// ScorePoint is one day of a time-series response.
type ScorePoint struct {
	EPSS       string `json:"epss"`
	Percentile string `json:"percentile"`
	Date       string `json:"date"`
}

// Response is the API response body.
type Response struct {
	Status     string   `json:"status,omitempty"`
	StatusCode int      `json:"status-code,omitempty"`
	Version    string   `json:"version,omitempty"`
	Access     string   `json:"access,omitempty"`
	Total      int      `json:"total"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
	Data       []Record `json:"data"`
}

// DecodeResponse parses an API response body.
func DecodeResponse(payload []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if resp.Data == nil {
		resp.Data = []Record{}
	}
	return &resp, nil
}
