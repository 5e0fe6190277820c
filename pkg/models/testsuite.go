package models

import "time"

// SuiteRunStatus is the lifecycle state of a test suite run.
type SuiteRunStatus string

const (
	SuiteRunRunning SuiteRunStatus = "RUNNING"
	SuiteRunSuccess SuiteRunStatus = "SUCCESS"
	SuiteRunFailure SuiteRunStatus = "FAILURE"
)

// TestCaseStatus is the outcome of a single test case within a run.
type TestCaseStatus string

const (
	TestCasePending TestCaseStatus = "PENDING"
	TestCaseRunning TestCaseStatus = "RUNNING"
	TestCaseSuccess TestCaseStatus = "SUCCESS"
	TestCaseFailure TestCaseStatus = "FAILURE"
	TestCaseError   TestCaseStatus = "ERROR"
	TestCaseSkipped TestCaseStatus = "SKIPPED"
)

// Terminal reports whether no further transitions are expected.
func (s TestCaseStatus) Terminal() bool {
	switch s {
	case TestCaseSuccess, TestCaseFailure, TestCaseError, TestCaseSkipped:
		return true
	}
	return false
}

// TestCase is a stored conversation fixture. Its thread holds the user
// message to replay followed by the expected agent answer.
type TestCase struct {
	ThreadID  string    `json:"thread_id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TestSuiteRun aggregates one execution of an agent's test cases.
type TestSuiteRun struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Status       SuiteRunStatus `json:"status"`
	ExecutedAt   time.Time      `json:"executed_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	TotalTests   int            `json:"total_tests"`
	PassedTests  int            `json:"passed_tests"`
	FailedTests  int            `json:"failed_tests"`
	ErrorTests   int            `json:"error_tests"`
	SkippedTests int            `json:"skipped_tests"`
}

// TestCaseResult is the per-case row of a suite run.
type TestCaseResult struct {
	ID                string         `json:"id"`
	TestCaseID        string         `json:"test_case_id"`
	TestSuiteRunID    string         `json:"test_suite_run_id"`
	Status            TestCaseStatus `json:"status"`
	ExecutionThreadID string         `json:"execution_thread_id,omitempty"`
	ExecutedAt        time.Time      `json:"executed_at"`
}
