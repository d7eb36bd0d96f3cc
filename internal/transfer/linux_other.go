//go:build !linux

package transfer

// newZeroCopyEngine reports that no kernel zero-copy path is available on
// this platform; New falls back to the portable engine.
func newZeroCopyEngine(cfg Config) Engine {
	return nil
}
