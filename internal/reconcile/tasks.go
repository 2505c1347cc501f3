// Package reconcile re-applies provider callbacks that arrived before their call was registered.
package reconcile

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"callcenter/internal/calls"
)

const (
	TaskStatusCallback    = "callbacks.reconcile.status"
	TaskDetectionCallback = "callbacks.reconcile.amd"
)

type StatusPayload struct {
	CallID          string    `json:"callId,omitempty"`
	ProviderCallID  string    `json:"providerCallId"`
	RawStatus       string    `json:"rawStatus"`
	At              time.Time `json:"at"`
	DurationSeconds *int      `json:"durationSeconds,omitempty"`
}

type DetectionPayload struct {
	CallID         string    `json:"callId,omitempty"`
	ProviderCallID string    `json:"providerCallId"`
	Result         string    `json:"result"`
	At             time.Time `json:"at"`
}

func NewStatusTask(cb calls.StatusCallback) (*asynq.Task, error) {
	data, err := json.Marshal(StatusPayload{
		CallID:          cb.CallID,
		ProviderCallID:  cb.ProviderCallID,
		RawStatus:       cb.RawStatus,
		At:              cb.At,
		DurationSeconds: cb.DurationSeconds,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatusCallback, data), nil
}

func ParseStatusTask(task *asynq.Task) (calls.StatusCallback, error) {
	var p StatusPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return calls.StatusCallback{}, err
	}
	return calls.StatusCallback{
		CallID:          p.CallID,
		ProviderCallID:  p.ProviderCallID,
		RawStatus:       p.RawStatus,
		At:              p.At,
		DurationSeconds: p.DurationSeconds,
	}, nil
}

func NewDetectionTask(d calls.DetectionCallback) (*asynq.Task, error) {
	data, err := json.Marshal(DetectionPayload{
		CallID:         d.CallID,
		ProviderCallID: d.ProviderCallID,
		Result:         d.Result,
		At:             d.At,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDetectionCallback, data), nil
}

func ParseDetectionTask(task *asynq.Task) (calls.DetectionCallback, error) {
	var p DetectionPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return calls.DetectionCallback{}, err
	}
	return calls.DetectionCallback{
		CallID:         p.CallID,
		ProviderCallID: p.ProviderCallID,
		Result:         p.Result,
		At:             p.At,
	}, nil
}
