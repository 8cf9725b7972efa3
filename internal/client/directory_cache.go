package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

const (
	directoryKeyPrefix = "approvals:directory:"
	invalidateTimeout  = 5 * time.Second
)

// Directory is the organization directory read by the approver resolver.
type Directory interface {
	EmployeeForUser(ctx context.Context, userID string) (*repository.Employee, error)
	EmployeesByJob(ctx context.Context, jobID string) ([]*repository.Employee, error)
	JobHierarchy(ctx context.Context, employeeID string) ([]*repository.Job, error)
	GroupMembership(ctx context.Context, userID string) ([]string, error)
	RoleMembers(ctx context.Context, roleID string) ([]*repository.User, error)
}

// CachedDirectory keeps directory reads in Redis for a short TTL. Redis
// failures fall through to the wrapped directory.
type CachedDirectory struct {
	next  Directory
	redis redis.UniversalClient
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedDirectory wraps next with a Redis read-through cache.
func NewCachedDirectory(next Directory, rdb redis.UniversalClient, ttl time.Duration, log *logger.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedDirectory{next: next, redis: rdb, ttl: ttl, log: log}
}

// EmployeeForUser returns the cached employee record of a user.
func (d *CachedDirectory) EmployeeForUser(ctx context.Context, userID string) (*repository.Employee, error) {
	var out *repository.Employee
	err := d.cached(ctx, "employee_for_user:"+userID, &out, func() (interface{}, error) {
		return d.next.EmployeeForUser(ctx, userID)
	})
	return out, err
}

// EmployeesByJob returns the cached employees holding a job.
func (d *CachedDirectory) EmployeesByJob(ctx context.Context, jobID string) ([]*repository.Employee, error) {
	var out []*repository.Employee
	err := d.cached(ctx, "employees_by_job:"+jobID, &out, func() (interface{}, error) {
		return d.next.EmployeesByJob(ctx, jobID)
	})
	return out, err
}

// JobHierarchy returns the cached job chain of an employee.
func (d *CachedDirectory) JobHierarchy(ctx context.Context, employeeID string) ([]*repository.Job, error) {
	var out []*repository.Job
	err := d.cached(ctx, "job_hierarchy:"+employeeID, &out, func() (interface{}, error) {
		return d.next.JobHierarchy(ctx, employeeID)
	})
	return out, err
}

// GroupMembership returns the cached groups of a user.
func (d *CachedDirectory) GroupMembership(ctx context.Context, userID string) ([]string, error) {
	var out []string
	err := d.cached(ctx, "groups:"+userID, &out, func() (interface{}, error) {
		return d.next.GroupMembership(ctx, userID)
	})
	return out, err
}

// RoleMembers returns the cached members of a role.
func (d *CachedDirectory) RoleMembers(ctx context.Context, roleID string) ([]*repository.User, error) {
	var out []*repository.User
	err := d.cached(ctx, "role_members:"+roleID, &out, func() (interface{}, error) {
		return d.next.RoleMembers(ctx, roleID)
	})
	return out, err
}

// Invalidate drops every cached directory entry.
func (d *CachedDirectory) Invalidate(ctx context.Context) error {
	iter := d.redis.Scan(ctx, 0, directoryKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return d.redis.Del(ctx, keys...).Err()
}

// Subscriber is the subset of the NATS client used to follow directory
// changes.
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) (func() error, error)
}

// InvalidateOnChange drops the cache whenever a message arrives on subject.
// The directory owner publishes there after changing its projection.
func (d *CachedDirectory) InvalidateOnChange(sub Subscriber, subject string) (func() error, error) {
	return sub.Subscribe(subject, func([]byte) {
		ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
		defer cancel()
		if err := d.Invalidate(ctx); err != nil {
			d.log.Warn().Err(err).Str("subject", subject).Msg("Directory cache invalidation failed")
			return
		}
		d.log.Debug().Str("subject", subject).Msg("Directory cache invalidated")
	})
}

// cached decodes key into dst, or calls load and stores its result.
func (d *CachedDirectory) cached(ctx context.Context, key string, dst interface{}, load func() (interface{}, error)) error {
	key = directoryKeyPrefix + key

	data, err := d.redis.Get(ctx, key).Bytes()
	if err == nil {
		if err := json.Unmarshal(data, dst); err == nil {
			return nil
		}
		d.log.Warn().Str("key", key).Msg("Discarding undecodable directory cache entry")
	} else if err != redis.Nil {
		d.log.Warn().Err(err).Str("key", key).Msg("Directory cache read failed")
	}

	value, err := load()
	if err != nil {
		return err
	}
	data, err = json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return err
	}
	if err := d.redis.Set(ctx, key, data, d.ttl).Err(); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("Directory cache write failed")
	}
	return nil
}
