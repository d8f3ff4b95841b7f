// Package health exposes shallow and deep health endpoints. Shallow checks
// are cached; deep checks probe dependencies and are rate limited.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	DefaultCacheTTL       = 10 * time.Second
	DefaultCheckTimeout   = 5 * time.Second
	DefaultDeepCheckLimit = 10 * time.Second
)

// Status is the health check response body.
type Status struct {
	Status    string                    `json:"status"`
	Service   string                    `json:"service"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks,omitempty"`
}

// ComponentCheck is the probed state of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Probe checks one dependency. It should respect ctx cancellation.
type Probe func(ctx context.Context) error

// Checker runs named probes and serves the health endpoints.
type Checker struct {
	serviceName    string
	probes         map[string]Probe
	log            *slog.Logger
	cacheTTL       time.Duration
	checkTimeout   time.Duration
	deepCheckLimit time.Duration

	mu            sync.RWMutex
	lastCheck     time.Time
	lastStatus    *Status
	lastDeepCheck time.Time
}

// NewChecker creates a checker with default timings and no probes.
func NewChecker(serviceName string, log *slog.Logger) *Checker {
	return &Checker{
		serviceName:    serviceName,
		probes:         make(map[string]Probe),
		log:            log,
		cacheTTL:       DefaultCacheTTL,
		checkTimeout:   DefaultCheckTimeout,
		deepCheckLimit: DefaultDeepCheckLimit,
	}
}

// Register adds a named dependency probe run on deep checks.
func (c *Checker) Register(name string, probe Probe) {
	c.probes[name] = probe
}

// BucketProbe probes an S3 bucket with HeadBucket.
func BucketProbe(client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}, bucket string) Probe {
	return func(ctx context.Context) error {
		_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		return err
	}
}

// QueueProbe probes an SQS queue by fetching its message count attribute.
func QueueProbe(client interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}, queueURL string) Probe {
	return func(ctx context.Context) error {
		_, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl: aws.String(queueURL),
			AttributeNames: []sqstypes.QueueAttributeName{
				sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			},
		})
		return err
	}
}

// TableProbe probes a DynamoDB table with DescribeTable.
func TableProbe(client interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}, table string) Probe {
	return func(ctx context.Context) error {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		return err
	}
}

// Check runs the health evaluation. Shallow checks may return a cached
// result; deep checks run every registered probe.
func (c *Checker) Check(ctx context.Context, deep bool) *Status {
	if !deep {
		c.mu.RLock()
		if c.lastStatus != nil && time.Since(c.lastCheck) < c.cacheTTL {
			status := c.lastStatus
			c.mu.RUnlock()
			return status
		}
		c.mu.RUnlock()
	}

	status := &Status{
		Status:    "healthy",
		Service:   c.serviceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	if deep {
		for name, probe := range c.probes {
			check := c.runProbe(ctx, probe)
			status.Checks[name] = check
			if check.Status != "healthy" {
				status.Status = "degraded"
			}
		}
		return status
	}

	// Only shallow results are cached; a degraded deep result must not leak
	// into the liveness endpoint.
	c.mu.Lock()
	c.lastCheck = time.Now()
	c.lastStatus = status
	c.mu.Unlock()

	return status
}

func (c *Checker) runProbe(ctx context.Context, probe Probe) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "unhealthy",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}
	return ComponentCheck{
		Status:  "healthy",
		Latency: latency.String(),
	}
}

// CanPerformDeepCheck returns true if enough time has passed since the last deep check.
func (c *Checker) CanPerformDeepCheck() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastDeepCheck) >= c.deepCheckLimit
}

// RecordDeepCheck records the time of a deep health check.
func (c *Checker) RecordDeepCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDeepCheck = time.Now()
}

// Handler serves the shallow health endpoint.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context(), false)
		c.writeResponse(w, status)
	}
}

// DeepHandler serves the deep health endpoint, falling back to the cached
// shallow result when rate limited.
func (c *Checker) DeepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.CanPerformDeepCheck() {
			cached := c.Check(r.Context(), false)
			// Copy before annotating; the cached status is shared.
			status := &Status{
				Status:    cached.Status,
				Service:   cached.Service,
				Timestamp: cached.Timestamp,
				Checks:    make(map[string]ComponentCheck, len(cached.Checks)+1),
			}
			for name, check := range cached.Checks {
				status.Checks[name] = check
			}
			status.Checks["rate_limited"] = ComponentCheck{
				Status: "info",
				Error:  "Deep health check rate limited, returning cached result",
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "10")
			w.WriteHeader(http.StatusTooManyRequests)

			if err := json.NewEncoder(w).Encode(status); err != nil && c.log != nil {
				c.log.Error("Failed to encode health check response", "error", err)
			}
			return
		}

		c.RecordDeepCheck()
		status := c.Check(r.Context(), true)
		c.writeResponse(w, status)
	}
}

func (c *Checker) writeResponse(w http.ResponseWriter, status *Status) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil && c.log != nil {
		c.log.Error("Failed to encode health check response", "error", err)
	}
}
