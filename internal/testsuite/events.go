package testsuite

// EventType names a suite event as sent to clients.
type EventType string

const (
	EventStart        EventType = "suite.start"
	EventTestStart    EventType = "suite.test.start"
	EventTestComplete EventType = "suite.test.complete"
	EventComplete     EventType = "suite.complete"
	EventError        EventType = "suite.error"

	EventTestMetadata        EventType = "suite.test.metadata"
	EventTestPhase           EventType = "suite.test.phase"
	EventTestUserMessage     EventType = "suite.test.userMessage"
	EventTestAgentStart      EventType = "suite.test.agentMessage.start"
	EventTestAgentChunk      EventType = "suite.test.agentMessage.chunk"
	EventTestAgentComplete   EventType = "suite.test.agentMessage.complete"
	EventTestExecutionStatus EventType = "suite.test.executionStatus"
	EventTestError           EventType = "suite.test.error"
)

// Phase is the step a running test case is in.
type Phase string

const (
	PhaseExecuting  Phase = "executing"
	PhaseEvaluating Phase = "evaluating"
	PhaseCompleted  Phase = "completed"
)

// Event is one step of a suite run. Data marshals to the client payload.
type Event struct {
	Type EventType
	Data any
}

// RunRef identifies a suite run.
type RunRef struct {
	SuiteRunID string `json:"suiteRunId"`
}

// CaseRef identifies a test case and its result row.
type CaseRef struct {
	TestCaseID string `json:"testCaseId"`
	ResultID   string `json:"resultId"`
	Status     string `json:"status,omitempty"`
}

// PhaseData reports a phase change. Status and Evaluation are set once the
// case completes.
type PhaseData struct {
	Phase      Phase       `json:"phase"`
	Status     string      `json:"status,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

// Evaluation is the judge verdict of a case.
type Evaluation struct {
	Passed bool `json:"passed"`
}

// MessageData carries a message of the execution thread.
type MessageData struct {
	ID    string `json:"id"`
	Text  string `json:"text,omitempty"`
	Chunk string `json:"chunk,omitempty"`
}

// ErrorData reports a test case failure.
type ErrorData struct {
	Message string `json:"message"`
}

// Summary is the completed suite run.
type Summary struct {
	SuiteRunID string `json:"suiteRunId"`
	Status     string `json:"status"`
	TotalTests int    `json:"totalTests"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Errors     int    `json:"errors"`
	Skipped    int    `json:"skipped"`
}
