package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/liangyou/nodevm/internal/env"
	"github.com/liangyou/nodevm/internal/storage"
	"github.com/liangyou/nodevm/pkg/models"
)

// Switcher 把版本标识解析为已安装版本，再交给环境管理器切换。
type Switcher struct {
	resolver *Resolver
	env      env.EnvManager
}

// NewSwitcher 创建 Switcher。切换只考虑本地已安装的版本。
func NewSwitcher(store storage.LocalStorage, envManager env.EnvManager) *Switcher {
	return &Switcher{resolver: NewResolver(store, nil), env: envManager}
}

// Link 将 default 链接指向 spec 解析到的版本。
func (s *Switcher) Link(ctx context.Context, spec Spec) (models.Version, error) {
	target, err := s.installed(ctx, spec)
	if err != nil {
		return models.Version{}, err
	}
	if err := s.env.SetDefault(target); err != nil {
		return models.Version{}, err
	}
	target.IsDefault = true
	return target, nil
}

// Unlink 删除 default 链接。
func (s *Switcher) Unlink() error {
	if s.env == nil {
		return errors.New("switcher: missing dependencies")
	}
	return s.env.UnsetDefault()
}

// Use 为当前会话切换到 spec 解析到的版本，返回新的会话指针与需要执行的环境变量修改。
func (s *Switcher) Use(ctx context.Context, spec Spec, session env.Session) (models.Version, env.Session, []env.Mutation, error) {
	target, err := s.installed(ctx, spec)
	if err != nil {
		return models.Version{}, session, nil, err
	}
	next, mutations, err := s.env.SetSession(session, target)
	if err != nil {
		return models.Version{}, session, nil, fmt.Errorf("switcher: %w", err)
	}
	target.InSession = true
	return target, next, mutations, nil
}

// Unuse 撤销当前会话的版本覆盖。
func (s *Switcher) Unuse(session env.Session) (env.Session, []env.Mutation, error) {
	if s.env == nil {
		return session, nil, errors.New("switcher: missing dependencies")
	}
	next, mutations := s.env.UnsetSession(session)
	return next, mutations, nil
}

func (s *Switcher) installed(ctx context.Context, spec Spec) (models.Version, error) {
	if s.env == nil {
		return models.Version{}, errors.New("switcher: missing dependencies")
	}
	return s.resolver.Resolve(ctx, spec, WithLocalOnly())
}
