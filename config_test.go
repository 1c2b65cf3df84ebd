package detour

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pboyd/detour/insn"
)

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		mode   int
		modify func(*Config)
		errMsg string
	}{
		"default 64-bit": {mode: insn.Mode64, modify: func(*Config) {}},
		"default 32-bit": {mode: insn.Mode32, modify: func(*Config) {}},
		"no capacity": {
			mode:   insn.Mode64,
			modify: func(c *Config) { c.Capacity = 0 },
			errMsg: "capacity",
		},
		"slot too small": {
			mode:   insn.Mode64,
			modify: func(c *Config) { c.SlotSize = 32 },
			errMsg: "below the minimum",
		},
		"32-bit slot": {
			mode:   insn.Mode32,
			modify: func(c *Config) { c.SlotSize = 32 },
		},
		"unaligned slot": {
			mode:   insn.Mode64,
			modify: func(c *Config) { c.SlotSize = 72 },
			errMsg: "multiple of 16",
		},
		"nil logger": {
			mode:   insn.Mode64,
			modify: func(c *Config) { c.Logger = nil },
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)

			err := cfg.validate(tc.mode)
			if tc.errMsg == "" {
				assert.NoError(t, err)
				assert.NotNil(t, cfg.Logger)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tc.errMsg)
			}
		})
	}
}
