package nats

import (
	"encoding/json"
	"errors"

	"github.com/smazurov/spagmon/internal/control"
	"github.com/smazurov/spagmon/internal/supervisor"
)

// Subject prefixes for NATS topics.
const (
	SubjectEventsPrefix  = "spagmon.events"
	SubjectControlPrefix = "spagmon.control"
)

// Control subjects.
const (
	SubjectInstruct = SubjectControlPrefix + ".instruct"
	SubjectRestart  = SubjectControlPrefix + ".restart"
)

// ErrCodeInternal marks a failure that carries no protocol code.
const ErrCodeInternal = "INTERNAL"

// SubjectEvent returns the subject an event with the given wire name is published on.
func SubjectEvent(name string) string {
	return SubjectEventsPrefix + "." + name
}

// InstructRequest asks the supervisor to apply an instruction to a job.
type InstructRequest struct {
	Job         string `json:"job"`
	Instruction string `json:"instruction"`
}

// Marshal serializes the message to JSON.
func (m InstructRequest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// RestartRequest asks the supervisor to replace a process.
type RestartRequest struct {
	PID int `json:"pid"`
}

// Marshal serializes the message to JSON.
func (m RestartRequest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Reply answers a control request. Code and Error are set on failure.
type Reply struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Marshal serializes the message to JSON.
func (m Reply) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Err rebuilds the error a failed reply describes, keeping its code so
// callers can use control.HasCode and supervisor.IsFatal on it.
func (m Reply) Err() error {
	if m.Code == "" && m.Error == "" {
		return nil
	}
	switch m.Code {
	case control.ErrCodeInvalidInstruction, control.ErrCodeNotSupported:
		return &control.Error{Code: m.Code, Message: m.Error}
	case supervisor.ErrCodeUnknownJob, supervisor.ErrCodeUntrackedProcess, supervisor.ErrCodeUnmanagedProcess:
		return supervisor.NewFatalError(m.Code, m.Error, nil)
	}
	return errors.New(m.Error)
}

// replyFor builds the reply for the outcome of a control request.
func replyFor(message string, err error) Reply {
	if err == nil {
		return Reply{Message: message}
	}

	var ctrlErr *control.Error
	if errors.As(err, &ctrlErr) {
		return Reply{Code: ctrlErr.Code, Error: ctrlErr.Message}
	}
	var fatal *supervisor.FatalError
	if errors.As(err, &fatal) {
		return Reply{Code: fatal.Code, Error: fatal.Message}
	}
	return Reply{Code: ErrCodeInternal, Error: err.Error()}
}

// UnmarshalInstruct deserializes an InstructRequest from JSON.
func UnmarshalInstruct(data []byte) (InstructRequest, error) {
	var m InstructRequest
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalRestart deserializes a RestartRequest from JSON.
func UnmarshalRestart(data []byte) (RestartRequest, error) {
	var m RestartRequest
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalReply deserializes a Reply from JSON.
func UnmarshalReply(data []byte) (Reply, error) {
	var m Reply
	err := json.Unmarshal(data, &m)
	return m, err
}
