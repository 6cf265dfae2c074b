// Package devmem reports how much free memory is available for placing
// model weights and KV cache, across whatever compute devices the loaded
// backend exposes.
package devmem

import "github.com/shaneholloman/goose-local-inference/internal/llama"

// DeviceEnumerator is satisfied by llama.Model; kept as its own interface
// so this package never imports cgo directly.
type DeviceEnumerator interface {
	Devices() []llama.Device
}

// AvailableInferenceMemoryBytes picks the largest free-memory figure among
// non-CPU devices, falling back to the largest CPU figure, and finally 0
// when nothing is reported.
func AvailableInferenceMemoryBytes(rt DeviceEnumerator) int64 {
	var bestGPU, bestCPU int64
	for _, d := range rt.Devices() {
		if d.IsCPU {
			if d.FreeBytes > bestCPU {
				bestCPU = d.FreeBytes
			}
			continue
		}
		if d.FreeBytes > bestGPU {
			bestGPU = d.FreeBytes
		}
	}
	if bestGPU > 0 {
		return bestGPU
	}
	return bestCPU
}
