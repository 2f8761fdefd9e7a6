package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ditinagrawal/deep-research/pkg/archive"
	"github.com/ditinagrawal/deep-research/pkg/clients"
	"github.com/ditinagrawal/deep-research/pkg/config"
	"github.com/ditinagrawal/deep-research/pkg/database"
	"github.com/ditinagrawal/deep-research/pkg/research"
	"github.com/ditinagrawal/deep-research/pkg/research/tools"
)

type Service struct {
	DB      *database.PostgresDB
	Cfg     *config.Config
	Archive *archive.Store
}

func NewService(db *database.PostgresDB, cfg *config.Config, arc *archive.Store) *Service {
	return &Service{
		DB:      db,
		Cfg:     cfg,
		Archive: arc,
	}
}

type Job struct {
	ID        uuid.UUID       `json:"id"`
	Query     string          `json:"query"`
	Depth     int             `json:"depth"`
	Breadth   int             `json:"breadth"`
	Status    string          `json:"status"`
	State     json.RawMessage `json:"state,omitempty"`
	Report    *string         `json:"report,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CreateJobRequest struct {
	Query   string `json:"query" binding:"required"`
	Depth   int    `json:"depth"`
	Breadth int    `json:"breadth"`
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if req.Depth <= 0 {
		req.Depth = s.Cfg.Depth
	}
	if req.Breadth <= 0 {
		req.Breadth = s.Cfg.Breadth
	}

	jobID := uuid.New()
	query := `
		INSERT INTO research_jobs (id, query, depth, breadth, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id, query, depth, breadth, status, created_at, updated_at
	`

	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, jobID, req.Query, req.Depth, req.Breadth).Scan(
		&job.ID, &job.Query, &job.Depth, &job.Breadth, &job.Status, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	// Start background worker
	go s.runWorker(job.ID, req.Query, req.Depth, req.Breadth)

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, query, depth, breadth, status, state, report, created_at, updated_at
		FROM research_jobs
		WHERE id = $1
	`
	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Query, &job.Depth, &job.Breadth, &job.Status, &job.State, &job.Report, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	query := `
		SELECT id, query, depth, breadth, status, report, created_at, updated_at
		FROM research_jobs
		ORDER BY created_at DESC
		LIMIT 50
	`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Query, &job.Depth, &job.Breadth, &job.Status, &job.Report, &job.CreatedAt, &job.UpdatedAt); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// newEngine builds a research engine with a fresh state scope for one job.
// Engines are never shared between jobs; concurrent jobs interleaving their
// accepted documents would corrupt both research trees.
func (s *Service) newEngine(logger *slog.Logger) (*research.Engine, error) {
	llm, err := clients.GoogleAi(clients.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM: %w", err)
	}

	engine := research.NewEngine(research.Config{
		LLMApiKey:     s.Cfg.GoogleApiKey,
		SearchResults: s.Cfg.SearchResults,
	}, llm, tools.NewExaClient(s.Cfg.ExaApiKey))
	engine.Logger = logger
	if s.Archive != nil {
		engine.Indexer = s.Archive
	}
	return engine, nil
}

func (s *Service) runWorker(jobID uuid.UUID, query string, depth, breadth int) {
	ctx := context.Background()

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID)

	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))

	engine, err := s.newEngine(dbLogger)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Failed to init engine: %v", err))
		return
	}

	// Snapshot state after every mutation so a later failure still leaves
	// partial findings queryable.
	engine.OnStateUpdate = func(state research.ResearchState) {
		stateJSON, err := json.Marshal(state)
		if err != nil {
			dbLogger.Error("Failed to marshal state", "error", err)
			return
		}
		_, err = s.DB.Pool.Exec(context.Background(),
			"UPDATE research_jobs SET state = $2, updated_at = NOW() WHERE id = $1",
			jobID, stateJSON)
		if err != nil {
			dbLogger.Error("Failed to save state to DB", "error", err)
		}
	}

	state, report, err := engine.Run(ctx, query, depth, breadth)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Sprintf("Research failed: %v", err))
		return
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		dbLogger.Error("Failed to marshal final state", "error", err)
		stateJSON = []byte("{}")
	}

	_, err = s.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = 'completed', report = $2, state = $3, updated_at = NOW() WHERE id = $1",
		jobID, report, stateJSON)
	if err != nil {
		dbLogger.Error("Failed to save final report to DB", "error", err)
	}
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, reason string) {
	dbLogger := slog.New(NewDBLogHandler(s.DB, jobID))
	dbLogger.Error(reason)

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'failed', updated_at = NOW() WHERE id = $1", jobID)
}
