package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// BatchTask asks a worker to run one "process next batch" call.
type BatchTask struct {
	CampaignID string `json:"campaign_id"`
	BatchSize  int    `json:"batch_size"`
}

func DecodeBatchTask(body []byte) (BatchTask, error) {
	var t BatchTask
	if err := json.Unmarshal(body, &t); err != nil {
		return t, fmt.Errorf("decode batch task: %w", err)
	}
	if t.CampaignID == "" {
		return t, errors.New("batch task has no campaign_id")
	}
	return t, nil
}
