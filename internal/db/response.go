package db

import (
	"encoding/json"
	"fmt"
)

// Result is one statement's outcome inside a multi-statement response.
type Result struct {
	Status string          `json:"status"`
	Time   string          `json:"time"`
	Result json.RawMessage `json:"result"`
}

// Response holds the ordered per-statement results of a query.
type Response struct {
	results []Result
}

func parseResponse(raw json.RawMessage) (*Response, error) {
	var results []Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("decode statement results: %w", err)
	}
	return &Response{results: results}, nil
}

// Len reports how many statements produced results.
func (r *Response) Len() int { return len(r.results) }

// Take unmarshals the result of the statement at ordinal i into dst.
// Statements that failed inside the database report status "ERR" with the
// message in the result payload.
func (r *Response) Take(i int, dst any) error {
	if i < 0 || i >= len(r.results) {
		return fmt.Errorf("statement %d out of range (%d results)", i, len(r.results))
	}

	res := r.results[i]
	if res.Status != "OK" {
		var msg string
		if err := json.Unmarshal(res.Result, &msg); err != nil {
			msg = string(res.Result)
		}
		return fmt.Errorf("statement %d failed: %s", i, msg)
	}

	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(res.Result, dst); err != nil {
		return fmt.Errorf("decode statement %d result: %w", i, err)
	}
	return nil
}

// TakeFirst unmarshals the first element of the statement's result array
// into dst. Missing or empty arrays report found=false.
func (r *Response) TakeFirst(i int, dst any) (bool, error) {
	var rows []json.RawMessage
	if err := r.Take(i, &rows); err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(rows[0], dst); err != nil {
		return false, fmt.Errorf("decode first row of statement %d: %w", i, err)
	}
	return true, nil
}
