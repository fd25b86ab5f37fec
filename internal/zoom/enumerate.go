package zoom

import (
	"context"
	"time"

	"github.com/curtbushko/zoom-mirror/internal/logging"
	"github.com/curtbushko/zoom-mirror/internal/retry"
)

const (
	endpointUsers      = "users"
	endpointRecordings = "recordings"
)

// PageObserver receives pagination events, typically for metrics
type PageObserver interface {
	ObservePage(endpoint string)
	ObserveRateLimit(endpoint string)
}

type nopObserver struct{}

func (nopObserver) ObservePage(string)      {}
func (nopObserver) ObserveRateLimit(string) {}

// PaginationConfig bounds a cursor-paginated listing
type PaginationConfig struct {
	PageSize int
	// MaxPages stops enumeration with a warning once exceeded
	MaxPages int
}

type enumeratorBase struct {
	api      API
	pacer    *Pacer
	config   PaginationConfig
	logger   logging.Logger
	observer PageObserver
	sleep    retry.SleepFunc
}

// EnumeratorOption configures an enumerator
type EnumeratorOption func(*enumeratorBase)

// WithEnumeratorLogger sets the logger used for page ceiling warnings and retries
func WithEnumeratorLogger(logger logging.Logger) EnumeratorOption {
	return func(b *enumeratorBase) {
		b.logger = logger
	}
}

// WithPageObserver registers an observer for page and rate-limit events
func WithPageObserver(observer PageObserver) EnumeratorOption {
	return func(b *enumeratorBase) {
		b.observer = observer
	}
}

// WithSleep replaces the sleep used for rate-limit cooldowns (used by tests)
func WithSleep(sleep retry.SleepFunc) EnumeratorOption {
	return func(b *enumeratorBase) {
		b.sleep = sleep
	}
}

func newEnumeratorBase(api API, pacer *Pacer, cfg PaginationConfig, opts []EnumeratorOption) enumeratorBase {
	base := enumeratorBase{
		api:      api,
		pacer:    pacer,
		config:   cfg,
		logger:   logging.NewNopLogger(),
		observer: nopObserver{},
		sleep:    retry.Sleep,
	}
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

type page[T any] struct {
	items []T
	next  string
}

// paginate follows next_page_token until it is empty, accumulating every page
// before returning. Exceeding maxPages stops with a warning and returns what
// was collected.
func paginate[T any](ctx context.Context, b *enumeratorBase, scope string, fetch func(ctx context.Context, cursor string) (page[T], error)) ([]T, error) {
	var all []T
	cursor := ""

	for pageNum := 1; ; pageNum++ {
		if b.config.MaxPages > 0 && pageNum > b.config.MaxPages {
			b.logger.WarnWithContext(ctx, "Enumeration of %s stopped after %d pages: page limit reached, results may be incomplete", scope, b.config.MaxPages)
			break
		}

		if err := b.pacer.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// The limiter refuses waits that would overrun the deadline
			return nil, &EnumerationError{Scope: scope, Page: pageNum, Err: err}
		}

		p, err := fetch(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &EnumerationError{Scope: scope, Page: pageNum, Err: err}
		}

		all = append(all, p.items...)
		if p.next == "" {
			break
		}
		cursor = p.next
	}

	return all, nil
}

// UserEnumerator lists every account member
type UserEnumerator struct {
	enumeratorBase
}

// NewUserEnumerator creates a member enumerator over api
func NewUserEnumerator(api API, pacer *Pacer, cfg PaginationConfig, opts ...EnumeratorOption) *UserEnumerator {
	return &UserEnumerator{enumeratorBase: newEnumeratorBase(api, pacer, cfg, opts)}
}

// ListAllMembers returns all members across all pages. Any error response
// aborts the listing with an *EnumerationError.
func (e *UserEnumerator) ListAllMembers(ctx context.Context) ([]User, error) {
	return paginate(ctx, &e.enumeratorBase, "members", func(ctx context.Context, cursor string) (page[User], error) {
		resp, err := e.api.ListUsers(ctx, ListUsersParams{
			PageSize:      e.config.PageSize,
			NextPageToken: cursor,
		})
		if err != nil {
			return page[User]{}, err
		}
		e.observer.ObservePage(endpointUsers)
		return page[User]{items: resp.Users, next: resp.NextPageToken}, nil
	})
}

// RecordingEnumerator lists a member's recording sessions for a date range
type RecordingEnumerator struct {
	enumeratorBase
	rateLimit retry.Policy
}

// NewRecordingEnumerator creates a recordings enumerator. Requests rejected
// with 429 are retried with the same cursor according to rateLimit.
func NewRecordingEnumerator(api API, pacer *Pacer, cfg PaginationConfig, rateLimit retry.Policy, opts ...EnumeratorOption) *RecordingEnumerator {
	return &RecordingEnumerator{
		enumeratorBase: newEnumeratorBase(api, pacer, cfg, opts),
		rateLimit:      rateLimit,
	}
}

// ListRecordings returns every session of memberID between from and to
func (e *RecordingEnumerator) ListRecordings(ctx context.Context, memberID string, from, to time.Time) ([]Recording, error) {
	return paginate(ctx, &e.enumeratorBase, memberID, func(ctx context.Context, cursor string) (page[Recording], error) {
		var resp *ListRecordingsResponse

		executor := retry.NewExecutor(e.rateLimit,
			retry.WithSleep(e.sleep),
			retry.WithOnRetry(func(attempt int, errorType retry.ErrorType, delay time.Duration, err error) {
				e.observer.ObserveRateLimit(endpointRecordings)
				e.logger.WarnWithContext(ctx, "Rate limited listing recordings for %s (attempt %d), cooling down for %v", memberID, attempt, delay)
			}),
		)

		err := executor.Execute(ctx, func(ctx context.Context, attempt int) error {
			r, err := e.api.ListUserRecordings(ctx, memberID, ListRecordingsParams{
				From:          from,
				To:            to,
				PageSize:      e.config.PageSize,
				NextPageToken: cursor,
			})
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return page[Recording]{}, err
		}

		e.observer.ObservePage(endpointRecordings)
		return page[Recording]{items: resp.Meetings, next: resp.NextPageToken}, nil
	})
}
