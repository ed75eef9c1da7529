package classifier

import (
	"strings"
)

const (
	ExceptionTypeAndStackTrace = "Exception Type and Stack Trace"
	ExceptionType              = "Exception Type"
	MessageType                = "Message Type"
	FailedMessageAddress       = "Failed Message Address"
	EndpointInstance           = "Endpoint Instance"
	EndpointName               = "Endpoint Name"
)

type exceptionTypeAndStackTrace struct{}

func (exceptionTypeAndStackTrace) Name() string { return ExceptionTypeAndStackTrace }

func (exceptionTypeAndStackTrace) Classify(in Input) (string, bool) {
	exType := strings.TrimSpace(in.Failure.ExceptionType)
	if exType == "" {
		return "", false
	}
	frame := firstStackFrame(in.Failure.StackTrace)
	if frame == "" {
		return exType, true
	}
	return exType + " was thrown at " + frame, true
}

// firstStackFrame returns the first "at ..." line of trace without its
// source location suffix.
func firstStackFrame(trace string) string {
	for _, line := range strings.Split(trace, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "at ") {
			continue
		}
		frame := strings.TrimSpace(strings.TrimPrefix(line, "at "))
		if i := strings.Index(frame, " in "); i >= 0 {
			frame = frame[:i]
		}
		return frame
	}
	return ""
}

type exceptionType struct{}

func (exceptionType) Name() string { return ExceptionType }

func (exceptionType) Classify(in Input) (string, bool) {
	t := strings.TrimSpace(in.Failure.ExceptionType)
	return t, t != ""
}

type messageType struct{}

func (messageType) Name() string { return MessageType }

func (messageType) Classify(in Input) (string, bool) {
	t := strings.TrimSpace(in.MessageType)
	return t, t != ""
}

type failedMessageAddress struct{}

func (failedMessageAddress) Name() string { return FailedMessageAddress }

func (failedMessageAddress) Classify(in Input) (string, bool) {
	a := strings.TrimSpace(in.Failure.AddressOfFailingEndpoint)
	return a, a != ""
}

type endpointInstance struct{}

func (endpointInstance) Name() string { return EndpointInstance }

func (endpointInstance) Classify(in Input) (string, bool) {
	meta := in.Attempt.MessageMetadata
	if meta.ReceivingEndpoint == "" || meta.ReceivingHostID == "" {
		return "", false
	}
	return meta.ReceivingEndpoint + "-" + meta.ReceivingHostID, true
}

type endpointName struct{}

func (endpointName) Name() string { return EndpointName }

func (endpointName) Classify(in Input) (string, bool) {
	n := strings.TrimSpace(in.Attempt.MessageMetadata.ReceivingEndpoint)
	return n, n != ""
}

// Builtin returns the standard classifiers in presentation order.
func Builtin() []Classifier {
	return []Classifier{
		exceptionTypeAndStackTrace{},
		exceptionType{},
		messageType{},
		failedMessageAddress{},
		endpointInstance{},
		endpointName{},
	}
}
