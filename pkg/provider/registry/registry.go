// Package registry holds the static table of built-in provider adapters.
package registry

import (
	"github.com/isWangjianhua/GenPulse/pkg/provider"
	"github.com/isWangjianhua/GenPulse/pkg/provider/dashscope"
	"github.com/isWangjianhua/GenPulse/pkg/provider/kling"
	"github.com/isWangjianhua/GenPulse/pkg/provider/minimax"
	"github.com/isWangjianhua/GenPulse/pkg/provider/tencent"
	"github.com/isWangjianhua/GenPulse/pkg/provider/volcengine"
)

// Builtin returns a fresh constructor table. Callers may add or remove
// entries before handing it to provider.NewFactory.
func Builtin() map[provider.Name]provider.Constructor {
	return map[provider.Name]provider.Constructor{
		provider.MockName: provider.NewMockFromConfig,
		kling.Name:        kling.New,
		minimax.Name:      minimax.New,
		volcengine.Name:   volcengine.New,
		dashscope.Name:    dashscope.New,
		tencent.Name:      tencent.New,
	}
}

// NewFactory builds a factory over the built-in table.
func NewFactory(settings *provider.Settings, cacheSize int) *provider.Factory {
	return provider.NewFactory(Builtin(), settings, cacheSize)
}
