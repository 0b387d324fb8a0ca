//go:build v8

package hive

import (
	"github.com/cryguy/hive/internal/core"
	"github.com/cryguy/hive/internal/v8engine"
)

func newNativeLoader(cfg core.EngineConfig) core.NativeLoader {
	return v8engine.NewLoader(cfg)
}
