package job

import (
	"slices"

	"batchctl/pkg/cloudevent"
)

// Event types for job lifecycle notifications
const (
	EventTypeSubmitted = "batchctl.job.submitted"
	EventTypeStatus    = "batchctl.job.status"
	EventTypeFinished  = "batchctl.job.finished"
)

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventBuilder builds CloudEvents for one job.
type EventBuilder struct {
	source  string
	subject string
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(jobID, source string) *EventBuilder {
	return &EventBuilder{source: source, subject: jobID}
}

// BuildSubmittedEvent creates a job submitted event.
func (b *EventBuilder) BuildSubmittedEvent(res *SubmitResult, queue string) *cloudevent.CloudEvent {
	return cloudevent.New(EventTypeSubmitted, b.source, b.subject, map[string]any{
		"jobId":   b.subject,
		"jobName": res.JobName,
		"queue":   queue,
	})
}

// BuildStatusEvent creates a status transition event. Terminal statuses
// produce a finished event.
func (b *EventBuilder) BuildStatusEvent(desc *Description, previous Status) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId":   b.subject,
		"jobName": desc.Name,
		"status":  string(desc.Status),
	}
	if previous != "" {
		data["previous"] = string(previous)
	}
	if desc.StatusReason != "" {
		data["statusReason"] = desc.StatusReason
	}
	if desc.LogStream != "" {
		data["logStreamName"] = desc.LogStream
	}
	eventType := EventTypeStatus
	if desc.Status.IsTerminal() {
		eventType = EventTypeFinished
		if desc.ExitCode != nil {
			data["exitCode"] = *desc.ExitCode
		}
	}
	return cloudevent.New(eventType, b.source, b.subject, data)
}
