package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/taskguard/errors"
	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/queue"
	"github.com/kbukum/taskguard/resilience"
	"github.com/kbukum/taskguard/server/middleware"
	"github.com/kbukum/taskguard/validation"
)

// API serves the queue, breaker and bulkhead administration routes.
type API struct {
	queues    *queue.Registry
	breakers  *resilience.BreakerRegistry
	bulkheads *resilience.BulkheadRegistry
	limiter   *resilience.KeyedRateLimiter
	log       *logger.Logger
}

// NewAPI creates the API. A nil limiter leaves enqueueing unthrottled; nil
// resilience registries serve empty lists.
func NewAPI(
	queues *queue.Registry,
	breakers *resilience.BreakerRegistry,
	bulkheads *resilience.BulkheadRegistry,
	limiter *resilience.KeyedRateLimiter,
	log *logger.Logger,
) *API {
	if log == nil {
		log = logger.NewNop()
	}
	return &API{
		queues:    queues,
		breakers:  breakers,
		bulkheads: bulkheads,
		limiter:   limiter,
		log:       log.WithComponent("api"),
	}
}

// Register mounts the routes on r.
func (a *API) Register(r gin.IRouter) {
	enqueue := []gin.HandlerFunc{a.addJob}
	if a.limiter != nil {
		enqueue = append([]gin.HandlerFunc{middleware.RateLimit(a.limiter, nil)}, enqueue...)
	}

	r.GET("/queues", a.listQueues)
	q := r.Group("/queues/:queue")
	{
		q.GET("/stats", a.queueStats)
		q.GET("/jobs", a.listJobs)
		q.POST("/jobs", enqueue...)
		q.DELETE("/jobs", a.emptyQueue)
		q.GET("/jobs/:id", a.getJob)
		q.DELETE("/jobs/:id", a.removeJob)
		q.POST("/pause", a.pauseQueue)
		q.POST("/resume", a.resumeQueue)
		q.POST("/clean", a.cleanQueue)
	}

	r.GET("/breakers", a.listBreakers)
	r.POST("/breakers/reset", a.resetBreakers)
	r.POST("/breakers/:name/reset", a.resetBreaker)
	r.GET("/bulkheads", a.listBulkheads)
}

// QueueInfo summarizes one queue.
type QueueInfo struct {
	Name    string      `json:"name"`
	Running bool        `json:"running"`
	Paused  bool        `json:"paused"`
	Stats   queue.Stats `json:"stats"`
}

// EnqueueRequest is the body of POST /queues/:queue/jobs.
type EnqueueRequest struct {
	Name             string          `json:"name" validate:"required,max=128"`
	Data             json.RawMessage `json:"data"`
	Priority         string          `json:"priority" validate:"omitempty,oneof=critical high normal low"`
	Delay            string          `json:"delay" validate:"omitempty,duration"`
	Attempts         int             `json:"attempts" validate:"gte=0,lte=100"`
	Backoff          *BackoffRequest `json:"backoff"`
	Timeout          string          `json:"timeout" validate:"omitempty,duration"`
	RemoveOnComplete bool            `json:"remove_on_complete"`
	RemoveOnFail     bool            `json:"remove_on_fail"`
}

// BackoffRequest is the retry backoff of an EnqueueRequest.
type BackoffRequest struct {
	Type  string `json:"type" validate:"required,oneof=fixed exponential"`
	Delay string `json:"delay" validate:"required,duration"`
}

// CleanRequest is the body of POST /queues/:queue/clean.
type CleanRequest struct {
	Status    string `json:"status" validate:"required,oneof=completed failed"`
	OlderThan string `json:"older_than" validate:"omitempty,duration"`
}

func (a *API) lookup(c *gin.Context) (queue.Managed, bool) {
	name := c.Param("queue")
	q, ok := a.queues.Lookup(name)
	if !ok {
		RespondWithError(c, apperrors.NotFound("queue", name))
	}
	return q, ok
}

func (a *API) info(c *gin.Context, q queue.Managed) (QueueInfo, error) {
	ctx := c.Request.Context()
	stats, err := q.GetStats(ctx)
	if err != nil {
		return QueueInfo{}, err
	}
	paused, err := q.IsPaused(ctx)
	if err != nil {
		return QueueInfo{}, err
	}
	return QueueInfo{Name: q.Name(), Running: q.IsRunning(), Paused: paused, Stats: stats}, nil
}

func (a *API) listQueues(c *gin.Context) {
	out := make([]QueueInfo, 0)
	for _, name := range a.queues.Names() {
		q, ok := a.queues.Lookup(name)
		if !ok {
			continue
		}
		info, err := a.info(c, q)
		if err != nil {
			RespondWithError(c, err)
			return
		}
		out = append(out, info)
	}
	RespondOK(c, out)
}

func (a *API) queueStats(c *gin.Context) {
	q, ok := a.lookup(c)
	if !ok {
		return
	}
	stats, err := q.GetStats(c.Request.Context())
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, stats)
}

func (a *API) listJobs(c *gin.Context) {
	q, ok := a.lookup(c)
	if !ok {
		return
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		RespondWithError(c, err)
		return
	}
	start, err := queryInt(c, "start", 0)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	end, err := queryInt(c, "end", 49)
	if err != nil {
		RespondWithError(c, err)
		return
	}

	jobs, err := q.GetRawJobs(c.Request.Context(), statuses, start, end)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOKWithMeta(c, jobs, &Meta{Start: start, End: end, Count: len(jobs)})
}

func (a *API) getJob(c *gin.Context) {
	q, ok := a.lookup(c)
	if !ok {
		return
	}
	id := c.Param("id")
	job, err := q.GetRawJob(c.Request.Context(), id)
	if errors.Is(err, queue.ErrJobNotFound) {
		RespondWithError(c, apperrors.JobNotFound(q.Name(), id).WithCause(err))
		return
	}
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, job)
}

func (a *API) addJob(c *gin.Context) {
	q, ok := a.lookup(c)
	if !ok {
		return
	}
	var req EnqueueRequest
	if err := bindJSON(c, &req); err != nil {
		RespondWithError(c, err)
		return
	}
	if err := validation.Validate(&req); err != nil {
		RespondWithError(c, err)
		return
	}

	job, err := q.AddRaw(c.Request.Context(), req.Name, req.Data, req.options())
	if err != nil {
		RespondWithError(c, err)
		return
	}
	a.log.Debug("Job enqueued over HTTP", logger.JobFields(job.Queue, job.ID, job.Name))
	RespondCreated(c, job)
}

func (a *API) removeJob(c *gin.Context) {
	q, ok := a.lookup(c)
	if !ok {
		return
	}
	if err := q.RemoveJob(c.Request.Context(), c.Param("id")); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondNoContent(c)
}

func (a *API) emptyQueue(c *gin.Context) {
	q, ok := a.lookup(c)
	if !ok {
		return
	}
	if err := q.Empty(c.Request.Context()); err != nil {
		RespondWithError(c, err)
		return
	}
	RespondNoContent(c)
}

func (a *API) pauseQueue(c *gin.Context)  { a.setPaused(c, true) }
func (a *API) resumeQueue(c *gin.Context) { a.setPaused(c, false) }

func (a *API) setPaused(c *gin.Context, paused bool) {
	q, ok := a.lookup(c)
	if !ok {
		return
	}
	op := q.Resume
	if paused {
		op = q.Pause
	}
	if err := op(c.Request.Context()); err != nil {
		RespondWithError(c, err)
		return
	}
	info, err := a.info(c, q)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, info)
}

func (a *API) cleanQueue(c *gin.Context) {
	q, ok := a.lookup(c)
	if !ok {
		return
	}
	var req CleanRequest
	if err := bindJSON(c, &req); err != nil {
		RespondWithError(c, err)
		return
	}
	if err := validation.Validate(&req); err != nil {
		RespondWithError(c, err)
		return
	}
	removed, err := q.Clean(c.Request.Context(), queue.Status(req.Status), mustDuration(req.OlderThan))
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, gin.H{"removed": removed})
}

func (a *API) listBreakers(c *gin.Context) {
	if a.breakers == nil {
		RespondOK(c, []resilience.CircuitBreakerStatus{})
		return
	}
	RespondOK(c, a.breakers.AllStatuses())
}

func (a *API) resetBreaker(c *gin.Context) {
	name := c.Param("name")
	if a.breakers == nil || !a.breakers.Reset(name) {
		RespondWithError(c, apperrors.NotFound("circuit breaker", name))
		return
	}
	a.log.Info("Circuit breaker reset over HTTP", logger.Fields(logger.FieldBreaker, name))
	status, _ := a.breakers.Status(name)
	RespondOK(c, status)
}

func (a *API) resetBreakers(c *gin.Context) {
	if a.breakers == nil {
		RespondOK(c, []resilience.CircuitBreakerStatus{})
		return
	}
	a.breakers.ResetAll()
	a.log.Info("All circuit breakers reset over HTTP")
	RespondOK(c, a.breakers.AllStatuses())
}

func (a *API) listBulkheads(c *gin.Context) {
	if a.bulkheads == nil {
		RespondOK(c, []resilience.BulkheadStats{})
		return
	}
	RespondOK(c, a.bulkheads.AllStats())
}

func (r *EnqueueRequest) options() queue.AddOptions {
	opts := queue.AddOptions{
		Priority:         queue.Priority(r.Priority),
		Delay:            mustDuration(r.Delay),
		Attempts:         r.Attempts,
		Timeout:          mustDuration(r.Timeout),
		RemoveOnComplete: r.RemoveOnComplete,
		RemoveOnFail:     r.RemoveOnFail,
	}
	if r.Backoff != nil {
		opts.Backoff = &queue.Backoff{
			Type:  queue.BackoffType(r.Backoff.Type),
			Delay: mustDuration(r.Backoff.Delay),
		}
	}
	return opts
}

// bindJSON decodes the body strictly. An empty body decodes to the zero
// value so validation reports the missing fields.
func bindJSON(c *gin.Context, dst any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return apperrors.InvalidInput("body", err.Error())
	}
	return nil
}

// mustDuration parses a duration that validation already accepted.
func mustDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}

func parseStatuses(raw string) ([]queue.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var out []queue.Status
	for _, part := range strings.Split(raw, ",") {
		s := queue.Status(strings.TrimSpace(part))
		if !s.Valid() {
			return nil, apperrors.InvalidInput("status", "unknown status "+strconv.Quote(string(s)))
		}
		out = append(out, s)
	}
	return out, nil
}

func queryInt(c *gin.Context, key string, def int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.InvalidInput(key, "must be an integer")
	}
	return n, nil
}
