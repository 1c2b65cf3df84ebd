package detour

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pboyd/detour/insn"
)

// Config controls the trampoline pool of a Registry.
type Config struct {
	// Capacity is the number of trampoline slots, which is the most
	// hooks a Registry can hold at once.
	Capacity int

	// SlotSize is the size of each slot in bytes. It must be a multiple
	// of 16. The minimum fits a prologue of plain instructions; every
	// relocated call or conditional jump grows to 16 bytes on x86-64, so
	// such prologues may need more or fail with ErrTrampolineOverflow.
	SlotSize int

	// Logger receives install and rewind events at debug level and the
	// trampoline listings at trace level. Nil is silent.
	Logger logrus.Ext1FieldLogger
}

// DefaultConfig returns 30 slots of 64 bytes and a silent logger.
func DefaultConfig() Config {
	return Config{
		Capacity: 30,
		SlotSize: 64,
		Logger:   discardLogger(),
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// minSlotSize is the smallest slot that holds the longest trampoline of a
// plain prologue: the patch-sized run of instructions, one more instruction
// and the jump back.
func minSlotSize(mode int) int {
	if mode == insn.Mode64 {
		return 42
	}
	return 29
}

func (c *Config) validate(mode int) error {
	if c.Capacity <= 0 {
		return errors.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.SlotSize < minSlotSize(mode) {
		return errors.Errorf("slot size %d is below the minimum of %d", c.SlotSize, minSlotSize(mode))
	}
	if c.SlotSize%16 != 0 {
		return errors.Errorf("slot size %d is not a multiple of 16", c.SlotSize)
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
	return nil
}
