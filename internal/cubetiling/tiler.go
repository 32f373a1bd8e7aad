package cubetiling

import (
	"context"
	"fmt"
	"sync"

	"github.com/samcharles93/cubetile/internal/logger"
)

// Repository supplies pre-tuned tilings. Lookup receives the canonical
// problem of the request. A returned tiling only contributes its split and
// tile sizes; it is rechecked against the request's platform.
type Repository interface {
	Lookup(params *CubeTilingParam, shape TilingShape) (CubeTiling, bool)
}

// Tiler is the entry point: it validates a request, consults the result
// cache and the repository, and otherwise runs a pooled session.
type Tiler struct {
	sessions *SessionCache
	results  *ResultCache
	repo     Repository
	log      logger.Logger
}

type Option func(*Tiler)

func WithLogger(log logger.Logger) Option {
	return func(t *Tiler) {
		if log != nil {
			t.log = log
		}
	}
}

func WithRepository(repo Repository) Option {
	return func(t *Tiler) { t.repo = repo }
}

func WithResultCacheSize(n int) Option {
	return func(t *Tiler) { t.results = NewResultCache(n) }
}

func WithMaxIdleSessions(n int) Option {
	return func(t *Tiler) { t.sessions = NewSessionCache(n) }
}

func NewTiler(opts ...Option) *Tiler {
	t := &Tiler{
		sessions: NewSessionCache(DefaultMaxIdle),
		results:  NewResultCache(DefaultResultCacheSize),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GenTiling produces the tiling for params. Errors wrap ErrInvalidParam,
// ErrUnknownOpType, ErrInfeasible or ErrInvalidTiling; pipeline failures
// carry a *StageError.
func (t *Tiler) GenTiling(ctx context.Context, params *CubeTilingParam) (CubeTiling, error) {
	if err := ctx.Err(); err != nil {
		return CubeTiling{}, err
	}
	log := t.log
	if l, ok := logger.Lookup(ctx); ok {
		log = l
	}
	if params == nil {
		return CubeTiling{}, fmt.Errorf("%w: nil params", ErrInvalidParam)
	}
	if err := params.Validate(); err != nil {
		log.Debug("rejected tiling params", "op", params.OpType, "error", err)
		return CubeTiling{}, err
	}
	if cached, ok := t.results.Get(*params); ok {
		return cached, nil
	}

	impl, err := t.sessions.Acquire(params.OpType)
	if err != nil {
		return CubeTiling{}, err
	}
	defer t.sessions.Release(impl)
	impl.SetLogger(log.With("op", params.OpType))

	if err := impl.Init(params); err != nil {
		return CubeTiling{}, err
	}

	var out CubeTiling
	tuned := false
	if t.repo != nil && !impl.CycleModelUnsupported() {
		if cand, ok := t.repo.Lookup(params, impl.Shape()); ok {
			err := impl.ApplyTuned(&cand, &out)
			if err == nil {
				err = checkTiling(&out, params)
			}
			if err != nil {
				log.Warn("ignoring tuned tiling", "op", params.OpType, "error", err)
			} else {
				tuned = true
			}
		}
	}
	if !tuned {
		if err := impl.GenTiling(&out); err != nil {
			log.Debug("tiling failed", "op", params.OpType, "error", err)
			return CubeTiling{}, err
		}
		if err := checkTiling(&out, params); err != nil {
			return CubeTiling{}, &StageError{Op: params.OpType, Stage: StageUpdate, Err: err}
		}
	}
	log.Debug("tiling ready", "op", params.OpType, "tiling_id", out.TilingID, "block_dim", out.BlockDim, "tuned", tuned)

	t.results.Put(*params, out)
	return out, nil
}

func checkTiling(t *CubeTiling, params *CubeTilingParam) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if int64(t.BlockDim) > params.Platform.CoreNum {
		return fmt.Errorf("%w: block_dim %d exceeds core_num %d", ErrInvalidTiling, t.BlockDim, params.Platform.CoreNum)
	}
	return nil
}

// Reset drops the cached sessions and results.
func (t *Tiler) Reset() {
	t.sessions.Reset()
	t.results.Reset()
}

// TilerStats reports cache usage.
type TilerStats struct {
	Sessions SessionStats `json:"sessions"`
	Results  CacheStats   `json:"results"`
}

func (t *Tiler) Stats() TilerStats {
	return TilerStats{Sessions: t.sessions.Stats(), Results: t.results.Stats()}
}

var (
	defaultMu    sync.Mutex
	defaultTiler = NewTiler()
)

// Default returns the process wide Tiler used by GenTiling.
func Default() *Tiler {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultTiler
}

// SetDefault replaces the process wide Tiler.
func SetDefault(t *Tiler) {
	if t == nil {
		return
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTiler = t
}

// GenTiling produces a tiling with the default Tiler.
func GenTiling(ctx context.Context, params *CubeTilingParam) (CubeTiling, error) {
	return Default().GenTiling(ctx, params)
}

// DestroyTilingFactory drops every cached session and result of the
// default Tiler. Later calls rebuild them on demand.
func DestroyTilingFactory() {
	Default().Reset()
}

// DestoryTilingFactory is the historical spelling of DestroyTilingFactory.
//
// Deprecated: use DestroyTilingFactory.
func DestoryTilingFactory() {
	DestroyTilingFactory()
}
