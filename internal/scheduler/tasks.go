package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskSequenceTick = "sequences.tick"

const TaskInactivitySweep = "leads.inactivity_sweep"

type SequenceTickPayload struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

type InactivitySweepPayload struct {
	InactivityDays int       `json:"inactivityDays"`
	ScheduledAt    time.Time `json:"scheduledAt"`
}

func NewSequenceTickTask(payload SequenceTickPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSequenceTick, data), nil
}

func ParseSequenceTickPayload(task *asynq.Task) (SequenceTickPayload, error) {
	var payload SequenceTickPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SequenceTickPayload{}, err
	}
	return payload, nil
}

func NewInactivitySweepTask(payload InactivitySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInactivitySweep, data), nil
}

func ParseInactivitySweepPayload(task *asynq.Task) (InactivitySweepPayload, error) {
	var payload InactivitySweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return InactivitySweepPayload{}, err
	}
	return payload, nil
}
