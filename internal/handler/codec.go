package handler

import (
	"encoding/json"
	"fmt"
)

// DecodeJob parses the wire form of a job. Malformed payloads are a transport
// level failure, not a job-level one, so the error is returned raw.
func DecodeJob(data []byte) (Job, error) {
	var job Job

	err := json.Unmarshal(data, &job)
	if err != nil {
		return Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return job, nil
}

// EncodeResponse renders a response to its wire form.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return data, nil
}
