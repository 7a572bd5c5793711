package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aviz85/gemini-video-playground/internal/db"
	"github.com/aviz85/gemini-video-playground/internal/models"
)

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, email, password_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
    `, user.ID, user.Email, user.Password, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return translateWriteError("insert user", err)
	}

	return nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByID fetches a user by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	// column is one of a fixed set chosen by the callers above.
	row := conn.QueryRow(ctx, `
        SELECT id, email, password_hash, created_at, updated_at
        FROM users
        WHERE `+column+` = $1
    `, value)

	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Password, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}

	return user, nil
}

// PostgresGroupRepository provides PostgreSQL-backed persistence for video groups.
type PostgresGroupRepository struct {
	pool db.Pool
}

// NewPostgresGroupRepository constructs a group repository backed by PostgreSQL.
func NewPostgresGroupRepository(pool db.Pool) *PostgresGroupRepository {
	return &PostgresGroupRepository{pool: pool}
}

// Create persists a new video group.
func (r *PostgresGroupRepository) Create(ctx context.Context, group models.VideoGroup) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO video_groups (id, name, description, is_red, owner_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, group.ID, group.Name, group.Description, group.IsRed, group.OwnerID, group.CreatedAt)
	if err != nil {
		return translateWriteError("insert video group", err)
	}

	return nil
}

// FindByID loads a video group.
func (r *PostgresGroupRepository) FindByID(ctx context.Context, id string) (models.VideoGroup, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.VideoGroup{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, name, description, is_red, owner_id, created_at
        FROM video_groups
        WHERE id = $1
    `, id)

	var group models.VideoGroup
	if err := row.Scan(&group.ID, &group.Name, &group.Description, &group.IsRed, &group.OwnerID, &group.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VideoGroup{}, ErrNotFound
		}
		return models.VideoGroup{}, fmt.Errorf("select video group: %w", err)
	}

	return group, nil
}

// ListByOwner returns the owner's groups, newest first.
func (r *PostgresGroupRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.VideoGroup, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, name, description, is_red, owner_id, created_at
        FROM video_groups
        WHERE owner_id = $1
        ORDER BY created_at DESC
    `, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query video groups: %w", err)
	}
	defer rows.Close()

	var groups []models.VideoGroup
	for rows.Next() {
		var group models.VideoGroup
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &group.IsRed, &group.OwnerID, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan video group: %w", err)
		}
		groups = append(groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate video groups: %w", err)
	}

	return groups, nil
}

// Delete removes a group owned by ownerID together with its videos.
func (r *PostgresGroupRepository) Delete(ctx context.Context, ownerID, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM video_groups
        WHERE id = $1 AND owner_id = $2
    `, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete video group: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresVideoRepository provides PostgreSQL-backed persistence for videos.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

const videoColumns = `id, group_id, external_file_ref, external_file_uri, mime_type, thumbnail_ref, source_url, metadata, owner_id, is_red, created_at`

// Create stores a new video record.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	metadata := video.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO videos (`+videoColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, video.ID, video.GroupID, video.ExternalFileRef, video.ExternalFileURI, video.MimeType,
		nullString(video.ThumbnailRef), nullString(video.SourceURL), metadata, video.OwnerID, video.IsRed, video.CreatedAt)
	if err != nil {
		return translateWriteError("insert video", err)
	}

	return nil
}

// FindByID loads a single video.
func (r *PostgresVideoRepository) FindByID(ctx context.Context, id string) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}

	return video, nil
}

// ListByGroup returns a group's videos in upload order.
func (r *PostgresVideoRepository) ListByGroup(ctx context.Context, groupID string) ([]models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+videoColumns+`
        FROM videos
        WHERE group_id = $1
        ORDER BY created_at, id
    `, groupID)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}

	return videos, nil
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var (
		video     models.Video
		thumbnail sql.NullString
		sourceURL sql.NullString
	)
	if err := row.Scan(&video.ID, &video.GroupID, &video.ExternalFileRef, &video.ExternalFileURI, &video.MimeType,
		&thumbnail, &sourceURL, &video.Metadata, &video.OwnerID, &video.IsRed, &video.CreatedAt); err != nil {
		return models.Video{}, err
	}
	video.ThumbnailRef = thumbnail.String
	video.SourceURL = sourceURL.String
	if video.Metadata == nil {
		video.Metadata = map[string]any{}
	}
	return video, nil
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func translateWriteError(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrConflict
		case "23503":
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ GroupRepository = (*PostgresGroupRepository)(nil)
var _ VideoRepository = (*PostgresVideoRepository)(nil)
