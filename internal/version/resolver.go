package version

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/liangyou/nodevm/internal/logx"
	"github.com/liangyou/nodevm/internal/nvmerr"
	"github.com/liangyou/nodevm/internal/remote"
	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/pkg/models"
)

// ResolveOption 调整单次解析的行为。
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	online    bool
	localOnly bool
}

// WithOnline 要求部分版本号在本地已有匹配时也刷新远程目录，install 使用该选项。
func WithOnline() ResolveOption {
	return func(o *resolveOptions) { o.online = true }
}

// WithLocalOnly 只在本地已安装版本中解析，从不访问远程目录。use、link 与 uninstall 使用该选项。
func WithLocalOnly() ResolveOption {
	return func(o *resolveOptions) { o.localOnly = true }
}

// ResolverOption 配置 Resolver。
type ResolverOption func(*Resolver)

// WithResolverLogger 设置日志器。
func WithResolverLogger(logger *log.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logx.OrDiscard(logger) }
}

// Resolver 把版本标识解析为唯一的具体版本，本地优先于远程。
type Resolver struct {
	storage storage.LocalStorage
	index   remote.IndexSource
	logger  *log.Logger
}

// NewResolver 创建 Resolver。index 可以为 nil，此时只能解析本地版本。
func NewResolver(store storage.LocalStorage, index remote.IndexSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{storage: store, index: index, logger: logx.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 返回满足 spec 的版本。返回的错误带有 spec 文本，类别保持不变。
func (r *Resolver) Resolve(ctx context.Context, spec Spec, opts ...ResolveOption) (models.Version, error) {
	if r.storage == nil {
		return models.Version{}, errors.New("resolver: storage is required")
	}
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		v   models.Version
		err error
	)
	switch {
	case o.localOnly || (spec.Kind == SpecAlias && spec.Scope == ScopeLocal):
		v, err = r.resolveLocal(spec)
	case spec.Kind == SpecExact:
		v, err = r.resolveExact(ctx, spec)
	case spec.Kind == SpecPartial:
		v, err = r.resolvePartial(ctx, spec, o.online)
	case spec.Kind == SpecAlias:
		v, err = r.resolveAlias(ctx, spec)
	default:
		err = nvmerr.NewParse(spec.String(), "unknown version spec")
	}
	if err != nil {
		return models.Version{}, nvmerr.Annotate(err, spec.String())
	}
	r.logger.Debug("resolved version", "spec", spec.String(), "version", v.Number, "status", v.Status)
	return v, nil
}

func (r *Resolver) resolveExact(ctx context.Context, spec Spec) (models.Version, error) {
	number := spec.String()
	local, ok, err := r.storage.Get(number)
	if err != nil {
		return models.Version{}, err
	}
	if ok {
		return local, nil
	}

	catalog, err := r.fetch(ctx)
	if err != nil {
		return models.Version{}, err
	}
	if v, ok := catalog.Find(number); ok {
		return v, nil
	}
	return models.Version{}, nvmerr.NewNotFound(number, "version not found in local inventory or remote catalog")
}

func (r *Resolver) resolvePartial(ctx context.Context, spec Spec, online bool) (models.Version, error) {
	installed, err := r.storage.List()
	if err != nil {
		return models.Version{}, err
	}
	local, hasLocal := HighestMatching(installed, spec)

	var catalog *models.RemoteIndex
	switch {
	case hasLocal && !online:
		cached := false
		if r.index != nil {
			catalog, cached = r.index.CachedIndex(ctx)
		}
		if !cached {
			r.logger.Debug("no cached catalog, resolving from installed versions", "spec", spec.String(), "version", local.Number)
		}
	default:
		catalog, err = r.fetch(ctx)
		if err != nil {
			if !hasLocal {
				return models.Version{}, err
			}
			r.logger.Warn("remote catalog unavailable, using installed version", "version", local.Number, "err", err)
		}
	}

	var remoteBest models.Version
	hasRemote := false
	if catalog != nil {
		remoteBest, hasRemote = HighestMatching(catalog.Versions, spec)
	}

	switch {
	case hasRemote && (!hasLocal || Compare(remoteBest.Number, local.Number) > 0):
		return r.preferInstalled(remoteBest)
	case hasLocal:
		return local, nil
	default:
		return models.Version{}, nvmerr.NewNotFound(spec.String(), "no version matches")
	}
}

func (r *Resolver) resolveAlias(ctx context.Context, spec Spec) (models.Version, error) {
	catalog, err := r.fetch(ctx)
	if err != nil {
		return models.Version{}, err
	}
	switch spec.Alias {
	case AliasLTS:
		v, ok := LatestLTSOf(catalog.Versions)
		if !ok {
			return models.Version{}, nvmerr.NewNoLTSAvailable(spec.String())
		}
		return r.preferInstalled(v)
	default:
		v, ok := LatestOf(catalog.Versions)
		if !ok {
			return models.Version{}, nvmerr.NewNotFound(spec.String(), "remote catalog is empty")
		}
		return r.preferInstalled(v)
	}
}

func (r *Resolver) resolveLocal(spec Spec) (models.Version, error) {
	installed, err := r.storage.List()
	if err != nil {
		return models.Version{}, err
	}
	var (
		v  models.Version
		ok bool
	)
	switch {
	case spec.Kind == SpecAlias && spec.Alias == AliasLTS:
		v, ok = LatestLTSOf(installed)
		if !ok {
			return models.Version{}, nvmerr.NewNoLTSAvailable(spec.String())
		}
	case spec.Kind == SpecAlias:
		v, ok = LatestOf(installed)
	default:
		v, ok = HighestMatching(installed, spec)
	}
	if !ok {
		return models.Version{}, nvmerr.NewNotFound(spec.String(), "no installed version matches")
	}
	return v, nil
}

func (r *Resolver) fetch(ctx context.Context) (*models.RemoteIndex, error) {
	if r.index == nil {
		return nil, nvmerr.NewNetwork("remote catalog", errors.New("no remote index configured"))
	}
	catalog, err := r.index.FetchIndex(ctx)
	if err != nil {
		return nil, err
	}
	if catalog.Stale {
		r.logger.Warn("using stale remote catalog", "fetched_at", catalog.FetchedAt)
	}
	return catalog, nil
}

// preferInstalled 在目录条目已安装时返回本地条目，并补全目录中的下载信息。
func (r *Resolver) preferInstalled(v models.Version) (models.Version, error) {
	local, ok, err := r.storage.Get(v.Number)
	if err != nil {
		return models.Version{}, err
	}
	if !ok {
		return v, nil
	}
	if local.LTS == "" {
		local.LTS = v.LTS
	}
	if local.DownloadURL == "" {
		local.DownloadURL = v.DownloadURL
	}
	if local.FileName == "" {
		local.FileName = v.FileName
	}
	local.Platform = v.Platform
	local.ReleasedAt = v.ReleasedAt
	return local, nil
}

// LatestOf 返回 versions 中最高的版本。
func LatestOf(versions []models.Version) (models.Version, bool) {
	return highest(versions, func(models.Version) bool { return true })
}

// LatestLTSOf 返回 versions 中带 LTS 标记的最高版本。
func LatestLTSOf(versions []models.Version) (models.Version, bool) {
	return highest(versions, models.Version.IsLTS)
}

// HighestMatching 返回 versions 中满足数字形式 spec 的最高版本。
func HighestMatching(versions []models.Version, spec Spec) (models.Version, bool) {
	return highest(versions, func(v models.Version) bool { return spec.Matches(v.Number) })
}

func highest(versions []models.Version, keep func(models.Version) bool) (models.Version, bool) {
	var (
		best  models.Version
		found bool
	)
	for _, v := range versions {
		if v.Status == models.StatusCorrupt || !IsValidNumber(v.Number) || !keep(v) {
			continue
		}
		if !found || Compare(v.Number, best.Number) > 0 {
			best = v
			found = true
		}
	}
	return best, found
}
