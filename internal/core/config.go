package core

// EngineConfig holds runtime configuration for the script engine.
type EngineConfig struct {
	MaxProcesses  int // upper bound on concurrently live processes; also the pid space
	StepDelayMs   int // milliseconds between stepped-mode guest instructions
	MemoryLimitMB int // per-VM memory limit for native-mode scripts
	PortCapacity  int // max queued entries per message port
}

// DefaultConfig returns the configuration used when a field is left zero.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		MaxProcesses:  10000,
		StepDelayMs:   25,
		MemoryLimitMB: 128,
		PortCapacity:  50,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c EngineConfig) WithDefaults() EngineConfig {
	def := DefaultConfig()
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = def.MaxProcesses
	}
	if c.StepDelayMs <= 0 {
		c.StepDelayMs = def.StepDelayMs
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = def.MemoryLimitMB
	}
	if c.PortCapacity <= 0 {
		c.PortCapacity = def.PortCapacity
	}
	return c
}
