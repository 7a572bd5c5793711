package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/aviz85/gemini-video-playground/internal/db"
	"github.com/aviz85/gemini-video-playground/internal/models"
)

// PostgresPromptRepository provides PostgreSQL-backed persistence for prompts.
type PostgresPromptRepository struct {
	pool db.Pool
}

// NewPostgresPromptRepository constructs a prompt repository backed by PostgreSQL.
func NewPostgresPromptRepository(pool db.Pool) *PostgresPromptRepository {
	return &PostgresPromptRepository{pool: pool}
}

// Create persists a new prompt.
func (r *PostgresPromptRepository) Create(ctx context.Context, prompt models.Prompt) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO prompts (id, text, description, owner_id, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `, prompt.ID, prompt.Text, prompt.Description, prompt.OwnerID, prompt.CreatedAt)
	if err != nil {
		return translateWriteError("insert prompt", err)
	}

	return nil
}

// FindByID loads a single prompt.
func (r *PostgresPromptRepository) FindByID(ctx context.Context, id string) (models.Prompt, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Prompt{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, text, description, owner_id, created_at
        FROM prompts
        WHERE id = $1
    `, id)

	var prompt models.Prompt
	if err := row.Scan(&prompt.ID, &prompt.Text, &prompt.Description, &prompt.OwnerID, &prompt.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Prompt{}, ErrNotFound
		}
		return models.Prompt{}, fmt.Errorf("select prompt: %w", err)
	}

	return prompt, nil
}

// ListByOwner returns the owner's prompts, newest first.
func (r *PostgresPromptRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Prompt, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, text, description, owner_id, created_at
        FROM prompts
        WHERE owner_id = $1
        ORDER BY created_at DESC
    `, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		var prompt models.Prompt
		if err := rows.Scan(&prompt.ID, &prompt.Text, &prompt.Description, &prompt.OwnerID, &prompt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, prompt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}

	return prompts, nil
}

// Update rewrites the text and description of a prompt owned by prompt.OwnerID.
func (r *PostgresPromptRepository) Update(ctx context.Context, prompt models.Prompt) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE prompts
        SET text = $3, description = $4
        WHERE id = $1 AND owner_id = $2
    `, prompt.ID, prompt.OwnerID, prompt.Text, prompt.Description)
	if err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a prompt owned by ownerID.
func (r *PostgresPromptRepository) Delete(ctx context.Context, ownerID, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM prompts
        WHERE id = $1 AND owner_id = $2
    `, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresBatchRepository provides PostgreSQL-backed persistence for analysis
// batches, their tasks, and the summary embeddings derived from them.
type PostgresBatchRepository struct {
	pool db.Pool
}

// NewPostgresBatchRepository constructs a batch repository backed by PostgreSQL.
func NewPostgresBatchRepository(pool db.Pool) *PostgresBatchRepository {
	return &PostgresBatchRepository{pool: pool}
}

const batchColumns = `id, model_name, status, progress, total_videos, owner_id, created_at, completed_at`

// CreateBatch inserts a new batch record.
func (r *PostgresBatchRepository) CreateBatch(ctx context.Context, batch models.AnalysisBatch) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO analysis_batches (`+batchColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, batch.ID, batch.ModelName, batch.Status, batch.Progress, batch.TotalVideos, batch.OwnerID, batch.CreatedAt, batch.CompletedAt)
	if err != nil {
		return translateWriteError("insert analysis batch", err)
	}

	return nil
}

// FindBatch loads a batch by id.
func (r *PostgresBatchRepository) FindBatch(ctx context.Context, id string) (models.AnalysisBatch, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.AnalysisBatch{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+batchColumns+` FROM analysis_batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AnalysisBatch{}, ErrNotFound
		}
		return models.AnalysisBatch{}, fmt.Errorf("select analysis batch: %w", err)
	}

	return batch, nil
}

// ListBatches returns the owner's batches, newest first.
func (r *PostgresBatchRepository) ListBatches(ctx context.Context, ownerID string) ([]models.AnalysisBatch, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+batchColumns+`
        FROM analysis_batches
        WHERE owner_id = $1
        ORDER BY created_at DESC
    `, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query analysis batches: %w", err)
	}
	defer rows.Close()

	var batches []models.AnalysisBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis batch: %w", err)
		}
		batches = append(batches, batch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis batches: %w", err)
	}

	return batches, nil
}

// RecordProgress increments the batch progress counter, sets its status, and
// stamps completed_at when the status is completed. It returns the new progress.
func (r *PostgresBatchRepository) RecordProgress(ctx context.Context, batchID, status string, at time.Time) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	completedAt := sql.NullTime{}
	if status == models.BatchStatusCompleted {
		completedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	var progress int
	err = conn.QueryRow(ctx, `
        UPDATE analysis_batches
        SET progress = progress + 1,
            status = $2,
            completed_at = COALESCE($3, completed_at)
        WHERE id = $1
        RETURNING progress
    `, batchID, status, completedAt).Scan(&progress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("update analysis batch progress: %w", err)
	}

	return progress, nil
}

// CreateTask inserts a pending task.
func (r *PostgresBatchRepository) CreateTask(ctx context.Context, task models.AnalysisTask) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	status := task.Status
	if status == "" {
		status = models.TaskStatusPending
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO analysis_tasks (id, batch_id, video_id, prompt_id, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, task.ID, task.BatchID, task.VideoID, task.PromptID, status, task.CreatedAt)
	if err != nil {
		return translateWriteError("insert analysis task", err)
	}

	return nil
}

const taskColumns = `t.id, t.batch_id, t.video_id, t.prompt_id, t.status, t.result, t.error, t.summary, t.summary_embedding IS NOT NULL, t.created_at, t.completed_at`

// ListPendingTasks returns the batch's pending tasks in insertion order.
func (r *PostgresBatchRepository) ListPendingTasks(ctx context.Context, batchID string) ([]models.AnalysisTask, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+taskColumns+`
        FROM analysis_tasks t
        WHERE t.batch_id = $1 AND t.status = $2
        ORDER BY t.seq
    `, batchID, models.TaskStatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.AnalysisTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending tasks: %w", err)
	}

	return tasks, nil
}

// ListTaskDetails returns every task of a batch joined with its video and prompt.
func (r *PostgresBatchRepository) ListTaskDetails(ctx context.Context, batchID string) ([]models.TaskDetail, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+taskColumns+`,
               v.id, v.group_id, v.external_file_ref, v.external_file_uri, v.mime_type, v.thumbnail_ref, v.source_url, v.metadata, v.owner_id, v.is_red, v.created_at,
               p.id, p.text, p.description, p.owner_id, p.created_at
        FROM analysis_tasks t
        JOIN videos v ON v.id = t.video_id
        JOIN prompts p ON p.id = t.prompt_id
        WHERE t.batch_id = $1
        ORDER BY t.seq
    `, batchID)
	if err != nil {
		return nil, fmt.Errorf("query task details: %w", err)
	}
	defer rows.Close()

	var details []models.TaskDetail
	for rows.Next() {
		var (
			detail    models.TaskDetail
			rawResult []byte
			taskErr   sql.NullString
			summary   sql.NullString
			completed sql.NullTime
			thumbnail sql.NullString
			sourceURL sql.NullString
		)
		task := &detail.Task
		video := &detail.Video
		prompt := &detail.Prompt
		if err := rows.Scan(
			&task.ID, &task.BatchID, &task.VideoID, &task.PromptID, &task.Status, &rawResult, &taskErr, &summary, &task.HasEmbedding, &task.CreatedAt, &completed,
			&video.ID, &video.GroupID, &video.ExternalFileRef, &video.ExternalFileURI, &video.MimeType, &thumbnail, &sourceURL, &video.Metadata, &video.OwnerID, &video.IsRed, &video.CreatedAt,
			&prompt.ID, &prompt.Text, &prompt.Description, &prompt.OwnerID, &prompt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task detail: %w", err)
		}
		if err := fillTask(task, rawResult, taskErr, summary, completed); err != nil {
			return nil, err
		}
		video.ThumbnailRef = thumbnail.String
		video.SourceURL = sourceURL.String
		if video.Metadata == nil {
			video.Metadata = map[string]any{}
		}
		details = append(details, detail)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task details: %w", err)
	}

	return details, nil
}

// CompleteTask moves a pending task to completed. Tasks that already left
// pending are not touched and ErrConflict is returned.
func (r *PostgresBatchRepository) CompleteTask(ctx context.Context, taskID string, result models.TaskResult, summary string, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}

	tag, err := conn.Exec(ctx, `
        UPDATE analysis_tasks
        SET status = $2, result = $3::jsonb, summary = $4, error = NULL, completed_at = $5
        WHERE id = $1 AND status = $6
    `, taskID, models.TaskStatusCompleted, string(payload), nullString(summary), at.UTC(), models.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("complete analysis task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	return nil
}

// FailTask moves a pending task to failed with the provided reason.
func (r *PostgresBatchRepository) FailTask(ctx context.Context, taskID, reason string, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE analysis_tasks
        SET status = $2, error = $3, completed_at = $4
        WHERE id = $1 AND status = $5
    `, taskID, models.TaskStatusFailed, reason, at.UTC(), models.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("fail analysis task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	return nil
}

// ListMissingEmbeddings returns tasks that have a summary but no embedding.
// An empty ownerID spans every owner.
func (r *PostgresBatchRepository) ListMissingEmbeddings(ctx context.Context, ownerID string, limit int) ([]models.AnalysisTask, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+taskColumns+`
        FROM analysis_tasks t
        JOIN analysis_batches b ON b.id = t.batch_id
        WHERE t.summary IS NOT NULL
          AND t.summary <> ''
          AND t.summary_embedding IS NULL
          AND ($1 = '' OR b.owner_id::text = $1)
        ORDER BY t.seq
        LIMIT $2
    `, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks missing embeddings: %w", err)
	}
	defer rows.Close()

	var tasks []models.AnalysisTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks missing embeddings: %w", err)
	}

	return tasks, nil
}

// SaveEmbedding stores the summary embedding of a task.
func (r *PostgresBatchRepository) SaveEmbedding(ctx context.Context, taskID string, embedding []float32) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE analysis_tasks
        SET summary_embedding = $2
        WHERE id = $1
    `, taskID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("save summary embedding: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// NearestSummaries runs an exact Euclidean nearest neighbour search over the
// stored summary embeddings of the owner's tasks.
func (r *PostgresBatchRepository) NearestSummaries(ctx context.Context, ownerID string, query []float32, limit int) ([]models.SummaryNeighbor, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT t.id, t.batch_id, t.video_id, t.summary, t.result, t.summary_embedding <-> $2 AS distance
        FROM analysis_tasks t
        JOIN analysis_batches b ON b.id = t.batch_id
        WHERE b.owner_id = $1
          AND t.summary_embedding IS NOT NULL
        ORDER BY distance, t.seq
        LIMIT $3
    `, ownerID, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest summaries: %w", err)
	}
	defer rows.Close()

	var neighbors []models.SummaryNeighbor
	for rows.Next() {
		var (
			neighbor  models.SummaryNeighbor
			summary   sql.NullString
			rawResult []byte
		)
		if err := rows.Scan(&neighbor.TaskID, &neighbor.BatchID, &neighbor.VideoID, &summary, &rawResult, &neighbor.Distance); err != nil {
			return nil, fmt.Errorf("scan nearest summary: %w", err)
		}
		neighbor.Summary = summary.String
		result, err := decodeResult(rawResult)
		if err != nil {
			return nil, err
		}
		neighbor.Result = result
		neighbors = append(neighbors, neighbor)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest summaries: %w", err)
	}

	return neighbors, nil
}

func scanBatch(row pgx.Row) (models.AnalysisBatch, error) {
	var (
		batch       models.AnalysisBatch
		completedAt sql.NullTime
	)
	if err := row.Scan(&batch.ID, &batch.ModelName, &batch.Status, &batch.Progress, &batch.TotalVideos, &batch.OwnerID, &batch.CreatedAt, &completedAt); err != nil {
		return models.AnalysisBatch{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		batch.CompletedAt = &t
	}
	return batch, nil
}

func scanTask(row pgx.Row) (models.AnalysisTask, error) {
	var (
		task      models.AnalysisTask
		rawResult []byte
		taskErr   sql.NullString
		summary   sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&task.ID, &task.BatchID, &task.VideoID, &task.PromptID, &task.Status, &rawResult, &taskErr, &summary, &task.HasEmbedding, &task.CreatedAt, &completed); err != nil {
		return models.AnalysisTask{}, err
	}
	if err := fillTask(&task, rawResult, taskErr, summary, completed); err != nil {
		return models.AnalysisTask{}, err
	}
	return task, nil
}

func fillTask(task *models.AnalysisTask, rawResult []byte, taskErr, summary sql.NullString, completed sql.NullTime) error {
	result, err := decodeResult(rawResult)
	if err != nil {
		return err
	}
	task.Result = result
	task.Error = taskErr.String
	task.Summary = summary.String
	if completed.Valid {
		t := completed.Time.UTC()
		task.CompletedAt = &t
	}
	return nil
}

func decodeResult(raw []byte) (*models.TaskResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var result models.TaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode task result: %w", err)
	}
	return &result, nil
}

var _ PromptRepository = (*PostgresPromptRepository)(nil)
var _ BatchRepository = (*PostgresBatchRepository)(nil)
var _ EmbeddingRepository = (*PostgresBatchRepository)(nil)
