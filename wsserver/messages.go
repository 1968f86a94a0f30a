package wsserver

import (
	"fmt"

	"github.com/runbox-io/runbox/supervisor"
)

// command is an inbound client message.
type command struct {
	Type            string  `json:"type"`
	Code            string  `json:"code,omitempty"`
	ID              string  `json:"id,omitempty"`
	TimeoutOverride float64 `json:"timeout_override,omitempty"`
}

const (
	commandExecute = "execute"
	commandStop    = "stop"
)

// message is an outbound server message. Exactly one of
// execution_complete, timeout, or error terminates the stream per session;
// a cancelled session terminates with an error-typed stop acknowledgement.
type message struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Content  string `json:"content,omitempty"`
	Message  string `json:"message,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

const (
	messageExecutionStart    = "execution_start"
	messageStdout            = "stdout"
	messageStderr            = "stderr"
	messageExecutionComplete = "execution_complete"
	messageTimeout           = "timeout"
	messageError             = "error"
)

// eventMessage maps one supervisor event onto its wire representation.
func eventMessage(sessionID string, ev supervisor.Event, policy supervisor.TimeoutPolicy) message {
	switch ev.Kind {
	case supervisor.EventStarted:
		return message{
			Type:    messageExecutionStart,
			ID:      sessionID,
			Message: "Starting Python execution...",
		}
	case supervisor.EventStdout:
		return message{Type: messageStdout, ID: sessionID, Content: ev.Text}
	case supervisor.EventStderr:
		return message{Type: messageStderr, ID: sessionID, Content: ev.Text}
	case supervisor.EventCompleted:
		code := ev.ExitCode
		return message{
			Type:     messageExecutionComplete,
			ID:       sessionID,
			ExitCode: &code,
			Message:  fmt.Sprintf("Execution completed with exit code: %d.", code),
		}
	case supervisor.EventTimedOut:
		return message{
			Type: messageTimeout,
			ID:   sessionID,
			Message: fmt.Sprintf("Execution timed out after %.0f seconds. Did you check for infinite loops?",
				policy.Soft.Seconds()),
		}
	case supervisor.EventCancelled:
		return message{
			Type:    messageError,
			ID:      sessionID,
			Message: "Execution stopped at client request.",
		}
	case supervisor.EventFailed:
		return message{
			Type:    messageError,
			ID:      sessionID,
			Message: fmt.Sprintf("Execution error occurred: %s. Please check your code syntax and try again.", ev.Reason),
		}
	default:
		return message{Type: messageError, ID: sessionID, Message: "unknown event"}
	}
}

func errorMessage(text string) message {
	return message{Type: messageError, Message: text}
}
