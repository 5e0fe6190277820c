package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vijoin/tero/pkg/models"
)

type sqlTestSuiteStore struct{ *sqlDB }

func (s *sqlTestSuiteStore) CreateCase(ctx context.Context, tc *models.TestCase) error {
	if tc == nil || tc.ThreadID == "" {
		return fmt.Errorf("test case thread is required")
	}
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = now()
	}
	if _, err := s.exec(ctx,
		`INSERT INTO test_cases (thread_id, agent_id, name, created_at) VALUES ($1,$2,$3,$4)`,
		tc.ThreadID, tc.AgentID, tc.Name, tc.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("create test case: %w", err)
	}
	return nil
}

func (s *sqlTestSuiteStore) ListCases(ctx context.Context, agentID string) ([]*models.TestCase, error) {
	rows, err := s.query(ctx,
		`SELECT thread_id, agent_id, name, created_at FROM test_cases WHERE agent_id = $1 ORDER BY created_at`,
		agentID)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	var cases []*models.TestCase
	for rows.Next() {
		var tc models.TestCase
		if err := rows.Scan(&tc.ThreadID, &tc.AgentID, &tc.Name, &tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		cases = append(cases, &tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test cases: %w", err)
	}
	return cases, nil
}

const runColumns = `id, agent_id, status, executed_at, completed_at, total_tests, passed_tests, failed_tests, error_tests, skipped_tests`

func (s *sqlTestSuiteStore) CreateRun(ctx context.Context, run *models.TestSuiteRun) error {
	if run == nil {
		return fmt.Errorf("test suite run is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.ExecutedAt.IsZero() {
		run.ExecutedAt = now()
	}
	if run.Status == "" {
		run.Status = models.SuiteRunRunning
	}
	_, err := s.exec(ctx,
		`INSERT INTO test_suite_runs (`+runColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		run.ID,
		run.AgentID,
		string(run.Status),
		run.ExecutedAt.UTC(),
		nullTime(run.CompletedAt),
		run.TotalTests,
		run.PassedTests,
		run.FailedTests,
		run.ErrorTests,
		run.SkippedTests,
	)
	if err != nil {
		return fmt.Errorf("create test suite run: %w", err)
	}
	return nil
}

func (s *sqlTestSuiteStore) UpdateRun(ctx context.Context, run *models.TestSuiteRun) error {
	if run == nil {
		return fmt.Errorf("test suite run is required")
	}
	res, err := s.exec(ctx,
		`UPDATE test_suite_runs
		 SET status = $2, completed_at = $3, total_tests = $4, passed_tests = $5,
			failed_tests = $6, error_tests = $7, skipped_tests = $8
		 WHERE id = $1`,
		run.ID,
		string(run.Status),
		nullTime(run.CompletedAt),
		run.TotalTests,
		run.PassedTests,
		run.FailedTests,
		run.ErrorTests,
		run.SkippedTests,
	)
	if err != nil {
		return fmt.Errorf("update test suite run: %w", err)
	}
	return requireAffected(res)
}

func (s *sqlTestSuiteStore) GetRun(ctx context.Context, id string) (*models.TestSuiteRun, error) {
	run, err := scanRun(s.queryRow(ctx, `SELECT `+runColumns+` FROM test_suite_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test suite run: %w", err)
	}
	return run, nil
}

func (s *sqlTestSuiteStore) ListRunning(ctx context.Context, before time.Time) ([]*models.TestSuiteRun, error) {
	rows, err := s.query(ctx,
		`SELECT `+runColumns+` FROM test_suite_runs WHERE status = $1 AND executed_at < $2 ORDER BY executed_at`,
		string(models.SuiteRunRunning), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("list running test suite runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.TestSuiteRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test suite run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test suite runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (*models.TestSuiteRun, error) {
	var (
		run         models.TestSuiteRun
		status      string
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.AgentID,
		&status,
		&run.ExecutedAt,
		&completedAt,
		&run.TotalTests,
		&run.PassedTests,
		&run.FailedTests,
		&run.ErrorTests,
		&run.SkippedTests,
	); err != nil {
		return nil, err
	}
	run.Status = models.SuiteRunStatus(status)
	run.CompletedAt = timePtr(completedAt)
	return &run, nil
}

func (s *sqlTestSuiteStore) CreateResult(ctx context.Context, r *models.TestCaseResult) error {
	if r == nil {
		return fmt.Errorf("test case result is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = now()
	}
	if r.Status == "" {
		r.Status = models.TestCasePending
	}
	if _, err := s.exec(ctx,
		`INSERT INTO test_case_results (id, test_case_id, test_suite_run_id, status, execution_thread_id, executed_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.TestCaseID, r.TestSuiteRunID, string(r.Status),
		nullableString(r.ExecutionThreadID), r.ExecutedAt.UTC()); err != nil {
		return fmt.Errorf("create test case result: %w", err)
	}
	return nil
}

func (s *sqlTestSuiteStore) UpdateResult(ctx context.Context, r *models.TestCaseResult) error {
	if r == nil {
		return fmt.Errorf("test case result is required")
	}
	res, err := s.exec(ctx,
		`UPDATE test_case_results SET status = $2, execution_thread_id = $3, executed_at = $4 WHERE id = $1`,
		r.ID, string(r.Status), nullableString(r.ExecutionThreadID), r.ExecutedAt.UTC())
	if err != nil {
		return fmt.Errorf("update test case result: %w", err)
	}
	return requireAffected(res)
}

func (s *sqlTestSuiteStore) ListResults(ctx context.Context, runID string) ([]*models.TestCaseResult, error) {
	rows, err := s.query(ctx,
		`SELECT id, test_case_id, test_suite_run_id, status, execution_thread_id, executed_at
		 FROM test_case_results WHERE test_suite_run_id = $1 ORDER BY executed_at, id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list test case results: %w", err)
	}
	defer rows.Close()

	var results []*models.TestCaseResult
	for rows.Next() {
		var (
			r        models.TestCaseResult
			status   string
			threadID sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TestCaseID, &r.TestSuiteRunID, &status, &threadID, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan test case result: %w", err)
		}
		r.Status = models.TestCaseStatus(status)
		r.ExecutionThreadID = threadID.String
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test case results: %w", err)
	}
	return results, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
