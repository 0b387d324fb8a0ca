//go:build !v8

package hive

import (
	"github.com/cryguy/hive/internal/core"
	"github.com/cryguy/hive/internal/quickjs"
)

func newNativeLoader(cfg core.EngineConfig) core.NativeLoader {
	return quickjs.NewLoader(cfg)
}
