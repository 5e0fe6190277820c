package testsuite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

// runCase executes one fixture and returns its final status. Failures are
// recorded on the result and reported as events, never returned.
func (s *suite) runCase(ctx context.Context, tc *models.TestCase, res *models.TestCaseResult) models.TestCaseStatus {
	logger := s.logger.With("test_case_id", tc.ThreadID, "result_id", res.ID)
	status, evaluation, err := s.executeCase(ctx, tc, res)
	if err != nil {
		logger.Error("test case failed", "error", err)
		status, evaluation = models.TestCaseError, nil
		s.emit(ctx, EventTestError, ErrorData{Message: err.Error()})
	}

	res.Status = status
	if err := s.r.suites.UpdateResult(context.WithoutCancel(ctx), res); err != nil {
		logger.Error("save test case result", "error", err)
	}
	s.emit(ctx, EventTestPhase, PhaseData{Phase: PhaseCompleted, Status: string(status), Evaluation: evaluation})
	return status
}

func (s *suite) executeCase(ctx context.Context, tc *models.TestCase, res *models.TestCaseResult) (models.TestCaseStatus, *Evaluation, error) {
	messages, err := s.r.threads.ListMessages(ctx, tc.ThreadID)
	if err != nil {
		return "", nil, fmt.Errorf("load fixture messages: %w", err)
	}
	ref := CaseRef{TestCaseID: tc.ThreadID, ResultID: res.ID}
	if len(messages) == 0 {
		s.emit(ctx, EventTestMetadata, ref)
		return models.TestCaseSkipped, nil, nil
	}

	thread := &models.Thread{AgentID: s.agent.ID, UserID: s.userID, IsTestCase: true}
	if err := s.r.threads.Create(ctx, thread); err != nil {
		return "", nil, fmt.Errorf("create execution thread: %w", err)
	}
	res.ExecutionThreadID = thread.ID
	res.Status = models.TestCaseRunning
	if err := s.r.suites.UpdateResult(ctx, res); err != nil {
		return "", nil, fmt.Errorf("mark running: %w", err)
	}
	s.emit(ctx, EventTestMetadata, ref)

	input := messages[0].Text
	expected := ""
	if len(messages) > 1 {
		expected = messages[1].Text
	}

	s.emit(ctx, EventTestPhase, PhaseData{Phase: PhaseExecuting})
	actual, err := s.answer(ctx, thread.ID, input)
	if err != nil {
		return "", nil, err
	}

	s.emit(ctx, EventTestPhase, PhaseData{Phase: PhaseEvaluating})
	passed, err := s.r.judge(ctx, s.agent, s.userID, input, expected, actual)
	if err != nil {
		return "", nil, err
	}
	if passed {
		return models.TestCaseSuccess, &Evaluation{Passed: true}, nil
	}
	return models.TestCaseFailure, &Evaluation{Passed: false}, nil
}

// answer replays input on the execution thread and stores the answer.
func (s *suite) answer(ctx context.Context, threadID, input string) (string, error) {
	msg := &models.Message{ThreadID: threadID, Origin: models.OriginUser, Text: input, Timestamp: s.r.now()}
	if err := s.r.threads.AddMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}
	s.emit(ctx, EventTestUserMessage, MessageData{ID: msg.ID, Text: msg.Text})

	turn, err := s.r.engine.Begin(ctx, s.agent, s.userID, threadID)
	if err != nil {
		return "", fmt.Errorf("begin answer: %w", err)
	}
	replyID := uuid.NewString()
	s.emit(ctx, EventTestAgentStart, MessageData{ID: replyID})

	mu := usage.NewMessageUsage(s.userID, s.agent.ID, s.agent.ModelID, msg.ID)
	var text strings.Builder
	var answerErr error
	for ev := range turn.Answer(ctx, []*models.Message{msg}, mu, nil) {
		switch e := ev.(type) {
		case agent.ActionEvent:
			s.emit(ctx, EventTestExecutionStatus, e)
		case agent.MessageEvent:
			text.WriteString(e.Content)
			s.emit(ctx, EventTestAgentChunk, MessageData{ID: replyID, Chunk: e.Content})
		case agent.ErrorEvent:
			answerErr = e.Err
		}
	}
	if answerErr != nil {
		return "", fmt.Errorf("answer: %w", answerErr)
	}

	reply := &models.Message{ID: replyID, ThreadID: threadID, Origin: models.OriginAgent, Text: text.String(), Timestamp: s.r.now()}
	if err := s.r.threads.AddMessage(ctx, reply); err != nil {
		return "", fmt.Errorf("save agent message: %w", err)
	}
	s.emit(ctx, EventTestAgentComplete, MessageData{ID: replyID, Text: reply.Text})
	return reply.Text, nil
}

const judgeSystemPrompt = "You are an expert evaluator assessing whether the actual output from an AI agent matches the expected output for a given test case."

const judgePromptTemplate = `Compare the actual output with the expected output based on these criteria:
1. Semantic equivalence - Does the actual output convey the same meaning as the expected output?
2. Completeness - Does the actual output contain all key information from the expected output?
3. Accuracy - Is the actual output factually correct when compared to the expected output?
4. Relevance - Does the actual output appropriately address the input?
5. Conciseness - Does the actual output avoid extra information not present in the expected output? A concise expected output calls for an equally concise answer.

Be lenient with minor differences in wording, formatting or style. Be strict about factual errors, missing critical information and details beyond the expected output.

Respond with 'Y' if the actual output sufficiently matches the expected output, or 'N' if there are significant discrepancies. Then provide a brief explanation.

Input:
%s

Expected Output:
%s

Actual Output:
%s
`

var errNoEvaluator = errors.New("no evaluator model configured")

// judge asks the evaluator model whether actual matches expected and
// records the evaluator usage.
func (r *Runner) judge(ctx context.Context, ag *models.Agent, userID, input, expected, actual string) (bool, error) {
	if r.evaluator.ModelID == "" {
		return false, errNoEvaluator
	}
	mu := usage.NewMessageUsage(userID, ag.ID, r.evaluator.ModelID, "")
	reply, err := r.engine.Generate(ctx, r.evaluator.ModelID, r.evaluator.Temperature,
		judgeSystemPrompt, fmt.Sprintf(judgePromptTemplate, input, expected, actual), mu)
	if err != nil {
		return false, fmt.Errorf("evaluate answer: %w", err)
	}
	if r.recorder != nil {
		if err := r.recorder.Record(context.WithoutCancel(ctx), mu); err != nil {
			r.logger.Error("record evaluator usage", "error", err)
		}
	}
	return verdict(reply), nil
}

// verdict reads the leading Y or N of a judge reply.
func verdict(reply string) bool {
	reply = strings.TrimLeft(reply, " \t\r\n*\"'`")
	return len(reply) > 0 && (reply[0] == 'Y' || reply[0] == 'y')
}
