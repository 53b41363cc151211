package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"minidrive/metrics"
	"minidrive/models"
	"minidrive/storage"
	"minidrive/store"
	"minidrive/utils"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
)

// Executor runs tasks off the request path. jobs.WorkerPool implements it.
type Executor interface {
	Submit(task func(ctx context.Context)) error
}

// ArchiveService turns folder download requests into zip artifacts built in
// the background. A job only ever moves PENDING -> PROCESSING -> READY or
// FAILED, and each move is a compare-and-set in the store.
type ArchiveService struct {
	store    store.Store
	storage  storage.Storage
	perms    *PermissionService
	executor Executor
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
	tempDir  string
}

func NewArchiveService(st store.Store, blobs storage.Storage, perms *PermissionService, exec Executor, m *metrics.Metrics) *ArchiveService {
	return &ArchiveService{
		store:    st,
		storage:  blobs,
		perms:    perms,
		executor: exec,
		metrics:  m,
		logger:   utils.ComponentLogger("archive"),
		now:      time.Now,
	}
}

// ArchiveResult locates a finished artifact.
type ArchiveResult struct {
	Job         *models.ArchiveJob `json:"job"`
	FileName    string             `json:"file_name"`
	DownloadURL string             `json:"download_url"`
}

// DownloadURL is where a READY job's artifact is served.
func DownloadURL(jobID string) string {
	return "/api/v1/archives/" + jobID + "/file"
}

// Initiate records a PENDING job for folder nodeID and hands it to the
// executor. It returns without waiting for the archive.
func (s *ArchiveService) Initiate(ctx context.Context, nodeID, userID string) (string, error) {
	node, err := liveNode(ctx, s.store.Nodes(), nodeID)
	if err != nil {
		return "", err
	}
	if !node.IsFolder() {
		return "", fmt.Errorf("%w: only folders can be archived", models.ErrInvalidState)
	}
	ok, err := checkAccess(ctx, s.store.Permissions(), userID, node, false)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no permission to download this folder", models.ErrPermissionDenied)
	}

	now := s.now().UTC()
	job := &models.ArchiveJob{
		ID:          uuid.NewString(),
		NodeID:      node.ID,
		RequesterID: userID,
		Status:      models.JobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Jobs().Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create archive job: %w", err)
	}

	s.enqueue(job.ID)
	s.logger.Info().Str("job_id", job.ID).Str("node_id", node.ID).Str("user_id", userID).Msg("Archive requested")
	return job.ID, nil
}

func (s *ArchiveService) enqueue(jobID string) {
	err := s.executor.Submit(func(ctx context.Context) {
		s.Process(ctx, jobID)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Could not schedule archive job, it stays PENDING")
	}
}

// Recover re-submits jobs left PENDING by a previous process.
func (s *ArchiveService) Recover(ctx context.Context) (int, error) {
	pending, err := s.store.Jobs().ListByStatus(ctx, models.JobPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, job := range pending {
		s.enqueue(job.ID)
	}
	if len(pending) > 0 {
		s.logger.Info().Int("count", len(pending)).Msg("Re-queued pending archive jobs")
	}
	return len(pending), nil
}

// GetStatus returns a job owned by requesterID. Other users' jobs are
// reported as not found.
func (s *ArchiveService) GetStatus(ctx context.Context, requesterID, jobID string) (*models.ArchiveJob, error) {
	job, err := s.store.Jobs().Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.RequesterID != requesterID {
		return nil, fmt.Errorf("archive job %s: %w", jobID, models.ErrNotFound)
	}
	return job, nil
}

// FetchResult locates the artifact of a READY job.
func (s *ArchiveService) FetchResult(ctx context.Context, requesterID, jobID string) (*ArchiveResult, error) {
	job, err := s.GetStatus(ctx, requesterID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobReady {
		return nil, fmt.Errorf("%w: archive job is %s", models.ErrInvalidState, job.Status)
	}

	folderName := "archive"
	if node, err := s.store.Nodes().Get(ctx, job.NodeID); err == nil {
		folderName = strings.ReplaceAll(node.Name, " ", "_")
	}
	return &ArchiveResult{
		Job:         job,
		FileName:    fmt.Sprintf("%s_%s.zip", folderName, job.ID),
		DownloadURL: DownloadURL(job.ID),
	}, nil
}

// OpenResult streams a READY job's artifact. The caller closes the reader.
func (s *ArchiveService) OpenResult(ctx context.Context, requesterID, jobID string) (*ArchiveResult, io.ReadCloser, error) {
	res, err := s.FetchResult(ctx, requesterID, jobID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.storage.Read(ctx, res.Job.ResultRef)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, fmt.Errorf("%w: archive artifact is missing: %w", models.ErrStorageIO, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return res, rc, nil
}

// Process claims a PENDING job and builds its archive. Whatever happens the
// job ends READY or FAILED once claimed; a job someone else already claimed
// is left alone.
func (s *ArchiveService) Process(ctx context.Context, jobID string) {
	logger := s.logger.With().Str("job_id", jobID).Logger()

	if err := s.store.Jobs().Transition(ctx, jobID, models.JobPending, models.JobProcessing, "", "", s.now().UTC()); err != nil {
		logger.Warn().Err(err).Msg("Archive job not claimable, skipping")
		return
	}
	s.metrics.ArchiveStarted()
	start := time.Now()

	job, err := s.store.Jobs().Get(ctx, jobID)
	var (
		ref     string
		written int64
	)
	if err == nil {
		ref, written, err = s.build(ctx, job)
	}

	// the final write must land even if ctx was cancelled mid-build
	finalCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.fail(finalCtx, logger, jobID, err)
		s.metrics.ArchiveFinished(string(models.JobFailed), time.Since(start), written)
		return
	}

	if err := s.store.Jobs().Transition(finalCtx, jobID, models.JobProcessing, models.JobReady, ref, "", s.now().UTC()); err != nil {
		logger.Error().Err(err).Msg("Failed to mark archive job READY")
		if delErr := s.storage.Delete(finalCtx, ref); delErr != nil {
			logger.Warn().Err(delErr).Str("ref", ref).Msg("Failed to remove unreferenced archive")
		}
		s.fail(finalCtx, logger, jobID, err)
		s.metrics.ArchiveFinished(string(models.JobFailed), time.Since(start), written)
		return
	}

	s.metrics.ArchiveFinished(string(models.JobReady), time.Since(start), written)
	logger.Info().Int64("bytes", written).Dur("elapsed", time.Since(start)).Msg("Archive ready")
}

func (s *ArchiveService) fail(ctx context.Context, logger zerolog.Logger, jobID string, cause error) {
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		msg = "archive build interrupted: " + msg
	}
	logger.Error().Err(cause).Msg("Archive job failed")
	if err := s.store.Jobs().Transition(ctx, jobID, models.JobProcessing, models.JobFailed, "", msg, s.now().UTC()); err != nil {
		logger.Error().Err(err).Msg("Failed to mark archive job FAILED")
	}
}

// build writes the folder's live subtree into a temporary zip and saves it
// to storage under the requester. Entries are "A/", "A/B/", "A/B/f.txt".
func (s *ArchiveService) build(ctx context.Context, job *models.ArchiveJob) (string, int64, error) {
	root, err := s.store.Nodes().Get(ctx, job.NodeID)
	if err != nil {
		return "", 0, fmt.Errorf("folder is no longer available: %w", err)
	}
	if root.IsDeleted || !root.IsFolder() {
		return "", 0, fmt.Errorf("folder is no longer available")
	}

	tmp, err := os.CreateTemp(s.tempDir, "minidrive-archive-*.zip")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	var written int64
	zw := zip.NewWriter(tmp)
	err = walkSubtree(ctx, s.store.Nodes(), root, false, func(n *models.Node, entry string) error {
		if n.IsFolder() {
			_, err := zw.CreateHeader(&zip.FileHeader{
				Name:     entry + "/",
				Method:   zip.Store,
				Modified: n.UpdatedAt,
			})
			return err
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entry,
			Method:   zip.Deflate,
			Modified: n.UpdatedAt,
		})
		if err != nil {
			return err
		}
		rc, err := s.storage.Read(ctx, n.StorageRef)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry, err)
		}
		defer rc.Close()

		copied, err := io.Copy(w, rc)
		written += copied
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", entry, err)
		}
		return nil
	})
	if err != nil {
		return "", written, err
	}
	if err := zw.Close(); err != nil {
		return "", written, fmt.Errorf("failed to finish archive: %w", err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", written, fmt.Errorf("failed to rewind archive: %w", err)
	}
	ref, err := s.storage.Save(ctx, tmp, job.RequesterID)
	if err != nil {
		return "", written, fmt.Errorf("failed to store archive: %w", err)
	}
	return ref, written, nil
}
