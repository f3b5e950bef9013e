package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"vidgen/internal/domain"
	"vidgen/internal/middleware"
	"vidgen/internal/sqlinline"
)

type createVideoRequest struct {
	UserID          string   `json:"userId"`
	CompanionID     string   `json:"companionId" validate:"omitempty,max=64"`
	Prompt          string   `json:"prompt" validate:"required,min=10,max=2000"`
	DurationSeconds int      `json:"durationSeconds" validate:"required,min=10,max=600"`
	Quality         string   `json:"quality" validate:"required"`
	Resolution      string   `json:"resolution" validate:"omitempty,oneof=720p 1080p 4K 4k"`
	FrameRate       int      `json:"frameRate" validate:"omitempty,oneof=24 25 30 50 60"`
	VisualStyle     string   `json:"visualStyle" validate:"omitempty,max=64"`
	MusicStyle      string   `json:"musicStyle" validate:"omitempty,max=64"`
	IncludeElements []string `json:"includeElements" validate:"omitempty,max=20,dive,required,max=100"`
	Locale          string   `json:"locale"`
}

type createVideoResponse struct {
	VideoID              string    `json:"videoId"`
	Status               string    `json:"status"`
	QueuePosition        int64     `json:"queuePosition"`
	EstimatedWaitMinutes int       `json:"estimatedWaitMinutes"`
	TokensCost           int       `json:"tokensCost"`
	Message              string    `json:"message"`
	CreatedAt            time.Time `json:"createdAt"`
}

type videoDetails struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"userId"`
	Prompt                string     `json:"prompt"`
	DurationSeconds       int        `json:"durationSeconds"`
	Quality               string     `json:"quality"`
	Resolution            string     `json:"resolution"`
	FrameRate             int        `json:"frameRate"`
	Status                string     `json:"status"`
	CurrentPhase          string     `json:"currentPhase,omitempty"`
	ProgressPercentage    int        `json:"progressPercentage"`
	VideoURL              string     `json:"videoUrl,omitempty"`
	ThumbnailURLs         []string   `json:"thumbnailUrls"`
	FileSizeBytes         int64      `json:"fileSizeBytes,omitempty"`
	GenerationTimeMinutes int        `json:"generationTimeMinutes,omitempty"`
	ErrorKind             string     `json:"errorKind,omitempty"`
	ErrorMessage          string     `json:"errorMessage,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
}

type queueStatus struct {
	QueuedCount        int64     `json:"queuedCount"`
	ProcessingCount    int64     `json:"processingCount"`
	ActiveWorkers      int64     `json:"activeWorkers"`
	AverageWaitMinutes int       `json:"averageWaitMinutes"`
	LastUpdate         time.Time `json:"lastUpdate"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	requestValidateOnce sync.Once
	requestValidate     *validator.Validate
)

func requestValidator() *validator.Validate {
	requestValidateOnce.Do(func() {
		requestValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	return requestValidate
}

// CreateVideo validates a submission, records it as QUEUED and hands it to
// the job queue.
func (a *App) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req createVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	userID := a.currentUserID(r)
	if userID == "" {
		userID = strings.TrimSpace(req.UserID)
	}
	if userID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "userId is required")
		return
	}
	job, err := a.buildJob(r.Context(), userID, req)
	if err != nil {
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	log := a.log(r).With().Str("job_id", job.ID).Str("user_id", userID).Logger()

	row := a.SQL.QueryRow(r.Context(), sqlinline.QInsertVideoGeneration,
		job.ID, job.UserID, job.CompanionID, job.Prompt, job.DurationSeconds,
		string(job.Quality), string(job.Resolution), job.FrameRate,
		job.VisualStyle, job.MusicStyle, job.IncludeElements, job.Locale,
		middleware.CountryFromContext(r.Context()))
	var createdAt time.Time
	if err := row.Scan(&createdAt); err != nil {
		log.Error().Err(err).Msg("videos: insert failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to record video")
		return
	}
	job.Timestamp = createdAt.UnixMilli()

	if err := a.Jobs.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Msg("videos: enqueue failed")
		if _, markErr := a.SQL.Exec(context.WithoutCancel(r.Context()), sqlinline.QProjectVideoFailed,
			job.ID, string(domain.PhasePending), string(domain.KindTransientExternal), "job could not be queued"); markErr != nil {
			log.Error().Err(markErr).Msg("videos: mark failed")
		}
		a.error(w, http.StatusServiceUnavailable, "queue_unavailable", "video could not be queued, try again later")
		return
	}

	var position int64
	if err := a.SQL.QueryRow(r.Context(), sqlinline.QVideoQueuePosition, job.ID).Scan(&position); err != nil {
		log.Warn().Err(err).Msg("videos: queue position unavailable")
	}
	policy := domain.PolicyFor(job.Quality)
	log.Info().Int64("queue_position", position).Msg("videos: queued")

	w.Header().Set("Location", "/v1/videos/"+job.ID)
	a.json(w, http.StatusCreated, createVideoResponse{
		VideoID:              job.ID,
		Status:               "QUEUED",
		QueuePosition:        position,
		EstimatedWaitMinutes: domain.EstimatedWaitMinutes(position),
		TokensCost:           job.DurationSeconds * a.TokenCostPerSecond * policy.CostMultiplier,
		Message:              "video added to the generation queue",
		CreatedAt:            createdAt.UTC(),
	})
}

func (a *App) buildJob(ctx context.Context, userID string, req createVideoRequest) (domain.JobRequest, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := requestValidator().Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.JobRequest{}, fmt.Errorf("field %s failed %q", lowerFirst(fe.Field()), fe.Tag())
		}
		return domain.JobRequest{}, err
	}
	quality, ok := domain.ParseQuality(req.Quality)
	if !ok {
		return domain.JobRequest{}, fmt.Errorf("unsupported quality %q", req.Quality)
	}
	policy := domain.PolicyFor(quality)
	if req.DurationSeconds > policy.MaxDurationSeconds {
		return domain.JobRequest{}, fmt.Errorf("maximum duration for %s is %d seconds", quality, policy.MaxDurationSeconds)
	}
	resolution := policy.Resolution
	if req.Resolution != "" {
		resolution = domain.Resolution(req.Resolution)
		if strings.EqualFold(req.Resolution, string(domain.Resolution4K)) {
			resolution = domain.Resolution4K
		}
		if !policy.AllowsResolution(resolution) {
			return domain.JobRequest{}, fmt.Errorf("maximum resolution for %s is %s", quality, policy.Resolution)
		}
	}
	frameRate := policy.FrameRate
	if req.FrameRate > 0 {
		frameRate = req.FrameRate
	}
	locale, ok := middleware.NormalizeLocale(req.Locale)
	if !ok {
		locale = middleware.LocaleFromContext(ctx)
	}
	job := domain.JobRequest{
		ID:              a.newID(),
		UserID:          userID,
		CompanionID:     strings.TrimSpace(req.CompanionID),
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		Quality:         quality,
		Resolution:      resolution,
		FrameRate:       frameRate,
		VisualStyle:     strings.TrimSpace(req.VisualStyle),
		MusicStyle:      strings.TrimSpace(req.MusicStyle),
		IncludeElements: cleanElements(req.IncludeElements),
		Locale:          locale,
		Timestamp:       a.now().UnixMilli(),
	}
	if err := job.Validate(); err != nil {
		return domain.JobRequest{}, err
	}
	return job, nil
}

// GetVideo returns one video. Videos of other requesters read as missing.
func (a *App) GetVideo(w http.ResponseWriter, r *http.Request) {
	videoID := strings.TrimSpace(chi.URLParam(r, "id"))
	if videoID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	video, err := scanVideo(a.SQL.QueryRow(r.Context(), sqlinline.QSelectVideoGeneration, videoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			a.error(w, http.StatusNotFound, "not_found", "video not found")
			return
		}
		a.log(r).Error().Err(err).Str("job_id", videoID).Msg("videos: load failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load video")
		return
	}
	if user := a.currentUserID(r); user != "" && user != video.UserID {
		a.error(w, http.StatusNotFound, "not_found", "video not found")
		return
	}
	a.json(w, http.StatusOK, video)
}

// ListUserVideos pages through a requester's videos, newest first.
func (a *App) ListUserVideos(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "userId required")
		return
	}
	if user := a.currentUserID(r); user != "" && user != userID {
		a.error(w, http.StatusForbidden, "forbidden", "cannot list videos of another user")
		return
	}
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", defaultPageSize)
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}

	rows, err := a.SQL.Query(r.Context(), sqlinline.QListVideoGenerationsByUser, userID, size, page*size)
	if err != nil {
		a.log(r).Error().Err(err).Str("user_id", userID).Msg("videos: list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list videos")
		return
	}
	defer rows.Close()
	items := make([]videoDetails, 0, size)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			continue
		}
		items = append(items, video)
	}
	if err := rows.Err(); err != nil {
		a.log(r).Error().Err(err).Str("user_id", userID).Msg("videos: list iteration failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list videos")
		return
	}
	var total int64
	if err := a.SQL.QueryRow(r.Context(), sqlinline.QCountVideoGenerationsByUser, userID).Scan(&total); err != nil {
		total = int64(page*size + len(items))
	}
	a.json(w, http.StatusOK, map[string]any{
		"items": items,
		"page":  page,
		"size":  size,
		"total": total,
	})
}

// QueueStatus reports the backlog of the generation queue.
func (a *App) QueueStatus(w http.ResponseWriter, r *http.Request) {
	var status queueStatus
	if err := a.SQL.QueryRow(r.Context(), sqlinline.QVideoQueueStatus).Scan(&status.QueuedCount, &status.ProcessingCount); err != nil {
		a.log(r).Error().Err(err).Msg("videos: queue status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load queue status")
		return
	}
	if err := a.SQL.QueryRow(r.Context(), sqlinline.QVideoActiveWorkers).Scan(&status.ActiveWorkers); err != nil {
		a.log(r).Warn().Err(err).Msg("videos: active workers unavailable")
	}
	status.AverageWaitMinutes = domain.EstimatedWaitMinutes(status.QueuedCount)
	status.LastUpdate = a.now().UTC()
	a.json(w, http.StatusOK, status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (videoDetails, error) {
	var v videoDetails
	err := row.Scan(
		&v.ID, &v.UserID, &v.Prompt, &v.DurationSeconds, &v.Quality, &v.Resolution, &v.FrameRate,
		&v.Status, &v.CurrentPhase, &v.ProgressPercentage, &v.VideoURL, &v.ThumbnailURLs,
		&v.FileSizeBytes, &v.GenerationTimeMinutes, &v.ErrorKind, &v.ErrorMessage,
		&v.CreatedAt, &v.CompletedAt,
	)
	if v.ThumbnailURLs == nil {
		v.ThumbnailURLs = []string{}
	}
	return v, err
}

func cleanElements(in []string) []string {
	var out []string
	for _, el := range in {
		if el = strings.TrimSpace(el); el != "" {
			out = append(out, el)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
