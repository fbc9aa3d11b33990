package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/topichub/internal/errors"
	"github.com/3leaps/topichub/pkg/encoder"
	"github.com/3leaps/topichub/pkg/jobregistry"
	"github.com/3leaps/topichub/pkg/labeler"
	"github.com/3leaps/topichub/pkg/mutator"
	"github.com/3leaps/topichub/pkg/pipeline"
	"github.com/3leaps/topichub/pkg/topics"
)

// MaxRequestBytes bounds a decoded request body.
const MaxRequestBytes = 64 << 20

// ClusterAPI serves /api/v1/cluster.
type ClusterAPI struct {
	orch     *pipeline.Orchestrator
	reg      *jobregistry.Registry
	mut      *mutator.Mutator
	encoders *encoder.Registry
	log      *zap.Logger
	now      func() time.Time
}

// NewClusterAPI wires the API to a running orchestrator and mutator.
func NewClusterAPI(orch *pipeline.Orchestrator, mut *mutator.Mutator, encoders *encoder.Registry, log *zap.Logger) *ClusterAPI {
	if log == nil {
		log = zap.NewNop()
	}
	return &ClusterAPI{
		orch:     orch,
		reg:      orch.Registry(),
		mut:      mut,
		encoders: encoders,
		log:      log,
		now:      time.Now,
	}
}

// Routes returns the router to mount under /api/v1/cluster.
func (a *ClusterAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", a.submit)
	r.Get("/encoders", a.listEncoders)
	r.Get("/jobs", a.listJobs)
	r.Get("/job/{jobID}", a.getJob)
	r.Delete("/job/{jobID}", a.deleteJob)
	r.Post("/recluster", a.recluster)
	r.Post("/refine", a.refine)
	r.Patch("/rename", a.rename)
	r.Post("/merge", a.merge)
	r.Post("/split", a.split)
	r.Post("/reclassify", a.reclassify)
	r.Post("/generate-labels", a.generateLabels)
	return r
}

type submitRequest struct {
	Texts     []string                `json:"texts"`
	Config    topics.ClusteringConfig `json:"config"`
	Iteration int                     `json:"iteration"`
}

type submitResponse struct {
	JobID      string           `json:"jobId"`
	Status     topics.JobStatus `json:"status"`
	CachedFrom string           `json:"cachedFrom,omitempty"`
}

func (a *ClusterAPI) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		id  string
		err error
	)
	if src := strings.TrimSpace(req.Config.CachedJobID); src != "" {
		id, err = a.orch.SubmitDerived(r.Context(), src, req.Config, req.Iteration)
	} else {
		id, err = a.orch.Submit(r.Context(), req.Texts, req.Config, req.Iteration)
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	a.log.Info("job submitted", zap.String("job_id", id), zap.Int("texts", len(req.Texts)),
		zap.String("cached_from", req.Config.CachedJobID))
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: id, Status: topics.StatusQueued})
}

func (a *ClusterAPI) listEncoders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": a.encoders.Models()})
}

func (a *ClusterAPI) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.reg.List(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []jobregistry.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// jobResponse is a job record plus its result once completed.
type jobResponse struct {
	jobregistry.Job
	Result *topics.Result `json:"result,omitempty"`
}

func (a *ClusterAPI) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := a.reg.Get(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp := jobResponse{Job: *job}
	if job.Status == topics.StatusCompleted {
		result, err := a.reg.Result(r.Context(), id)
		switch {
		case err == nil:
			resp.Result = result
		case topics.IsNotFound(err):
			a.log.Warn("completed job has no result", zap.String("job_id", id))
		default:
			respondWithError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *ClusterAPI) deleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	deleted, err := a.reg.Delete(r.Context(), id)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !deleted {
		apperrors.WriteError(w, r, http.StatusNotFound, apperrors.CodeJobNotFound,
			fmt.Sprintf("job %s not found", id), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "deleted": true})
}

type reclusterRequest struct {
	JobID  string                  `json:"jobId"`
	Config topics.ClusteringConfig `json:"config"`
}

func (a *ClusterAPI) recluster(w http.ResponseWriter, r *http.Request) {
	var req reclusterRequest
	if !decode(w, r, &req) {
		return
	}
	src := strings.TrimSpace(req.JobID)
	if src == "" {
		respondWithError(w, r, apperrors.BadRequest("jobId is required"))
		return
	}

	ok, err := a.reg.HasVectors(r.Context(), src)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !ok {
		apiErr := apperrors.NewAPIError(http.StatusNotFound, apperrors.CodeEmbeddingsNotCached,
			fmt.Sprintf("no cached embeddings for job %s", src))
		apiErr.Details = map[string]any{"jobId": src}
		respondWithError(w, r, apiErr)
		return
	}

	iteration := 1
	if job, err := a.reg.Get(r.Context(), src); err == nil {
		iteration = job.Iteration + 1
	}

	id, err := a.orch.SubmitDerived(r.Context(), src, req.Config, iteration)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	a.log.Info("recluster submitted", zap.String("job_id", id), zap.String("cached_from", src))
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: id, Status: topics.StatusQueued, CachedFrom: src})
}

type refineRequest struct {
	JobID               string              `json:"jobId,omitempty"`
	Topics              []topics.Topic      `json:"topics"`
	Documents           []topics.Document   `json:"documents"`
	PreviousSuggestions []topics.Suggestion `json:"previousSuggestions"`
	FocusAreas          []string            `json:"focusAreas"`
}

func (a *ClusterAPI) refine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if !decode(w, r, &req) {
		return
	}
	stats := labeler.Stats{FocusAreas: req.FocusAreas, Previous: req.PreviousSuggestions}

	if req.JobID != "" {
		result, err := a.mut.RefineJob(r.Context(), req.JobID, stats)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, topics.Refinement{Suggestions: result.Suggestions, Analysis: *result.Analysis})
		return
	}

	if len(req.Topics) == 0 {
		respondWithError(w, r, apperrors.BadRequest("topics are required"))
		return
	}
	if len(req.Documents) > 0 {
		stats.TotalDocuments = len(req.Documents)
		for _, d := range req.Documents {
			if d.ClusterID == topics.NoiseClusterID {
				stats.Noise++
			}
		}
	}
	writeJSON(w, http.StatusOK, a.mut.Refine(r.Context(), req.Topics, stats))
}

type renameRequest struct {
	JobID    string         `json:"jobId,omitempty"`
	TopicID  int            `json:"topicId"`
	NewLabel string         `json:"newLabel"`
	Topics   []topics.Topic `json:"topics,omitempty"`
}

func (a *ClusterAPI) rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		rec topics.RenameRecord
		err error
	)
	if req.JobID != "" {
		_, rec, err = a.mut.RenameJob(r.Context(), req.JobID, req.TopicID, req.NewLabel)
	} else {
		var in *topics.Result
		if len(req.Topics) > 0 {
			in = &topics.Result{Topics: req.Topics}
		}
		_, rec, err = a.mut.Rename(in, req.TopicID, req.NewLabel)
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// graphRequest carries either a job id or an inline documents/topics graph.
type graphRequest struct {
	JobID     string            `json:"jobId,omitempty"`
	Documents []topics.Document `json:"documents"`
	Topics    []topics.Topic    `json:"topics"`
}

func (g graphRequest) result() (*topics.Result, error) {
	if len(g.Documents) == 0 || len(g.Topics) == 0 {
		return nil, apperrors.BadRequest("documents and topics are required when jobId is absent")
	}
	res := &topics.Result{Documents: g.Documents, Topics: g.Topics}
	topics.Reconcile(res)
	return res, nil
}

type mergeRequest struct {
	graphRequest
	ClusterIDs []int  `json:"clusterIds"`
	NewLabel   string `json:"newLabel"`
}

func (a *ClusterAPI) merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.JobID != "" {
		a.respondResult(w, r, func() (*topics.Result, error) {
			return a.mut.MergeJob(r.Context(), req.JobID, req.ClusterIDs, req.NewLabel)
		})
		return
	}
	a.respondResult(w, r, func() (*topics.Result, error) {
		in, err := req.result()
		if err != nil {
			return nil, err
		}
		return a.mut.Merge(in, req.ClusterIDs, req.NewLabel)
	})
}

type splitRequest struct {
	graphRequest
	ClusterID      int `json:"clusterId"`
	NumSubclusters int `json:"numSubclusters"`
}

func (a *ClusterAPI) split(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.NumSubclusters == 0 {
		req.NumSubclusters = 2
	}
	if req.JobID != "" {
		a.respondResult(w, r, func() (*topics.Result, error) {
			return a.mut.SplitJob(r.Context(), req.JobID, req.ClusterID, req.NumSubclusters)
		})
		return
	}
	a.respondResult(w, r, func() (*topics.Result, error) {
		in, err := req.result()
		if err != nil {
			return nil, err
		}
		return a.mut.Split(r.Context(), in, req.ClusterID, req.NumSubclusters, nil)
	})
}

type reclassifyRequest struct {
	graphRequest
	FromClusterIDs []int `json:"fromClusterIds"`
	NumClusters    int   `json:"numClusters"`
}

func (a *ClusterAPI) reclassify(w http.ResponseWriter, r *http.Request) {
	var req reclassifyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.JobID != "" {
		a.respondResult(w, r, func() (*topics.Result, error) {
			return a.mut.ReclassifyJob(r.Context(), req.JobID, req.FromClusterIDs, req.NumClusters)
		})
		return
	}
	a.respondResult(w, r, func() (*topics.Result, error) {
		in, err := req.result()
		if err != nil {
			return nil, err
		}
		return a.mut.Reclassify(r.Context(), in, req.FromClusterIDs, req.NumClusters, nil)
	})
}

type generateLabelsRequest struct {
	graphRequest
	TopicIDs []int `json:"topicIds"`
}

type generateLabelsResponse struct {
	UpdatedTopics []topics.Topic `json:"updatedTopics"`
	Timestamp     time.Time      `json:"timestamp"`
}

func (a *ClusterAPI) generateLabels(w http.ResponseWriter, r *http.Request) {
	var req generateLabelsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.TopicIDs) == 0 {
		respondWithError(w, r, apperrors.BadRequest("topicIds must name at least one topic"))
		return
	}

	var (
		out *topics.Result
		err error
	)
	if req.JobID != "" {
		out, err = a.mut.GenerateLabelsJob(r.Context(), req.JobID, req.TopicIDs)
	} else {
		var in *topics.Result
		if in, err = req.result(); err == nil {
			out, err = a.mut.GenerateLabels(r.Context(), in, req.TopicIDs)
		}
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	updated := make([]topics.Topic, 0, len(req.TopicIDs))
	for _, id := range req.TopicIDs {
		if t, ok := out.TopicByID(id); ok {
			updated = append(updated, *t)
		}
	}
	writeJSON(w, http.StatusOK, generateLabelsResponse{UpdatedTopics: updated, Timestamp: a.now().UTC()})
}

func (a *ClusterAPI) respondResult(w http.ResponseWriter, r *http.Request, fn func() (*topics.Result, error)) {
	out, err := fn()
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// decode reads a JSON body into v and writes a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			respondWithError(w, r, apperrors.NewAPIError(http.StatusRequestEntityTooLarge, apperrors.CodeInvalidInput,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)))
		case errors.Is(err, io.EOF):
			respondWithError(w, r, apperrors.BadRequest("request body is empty"))
		default:
			respondWithError(w, r, apperrors.BadRequest("malformed JSON: "+err.Error()))
		}
		return false
	}
	return true
}
