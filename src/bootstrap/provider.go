package bootstrap

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Provider is the accelerator backend the inference runtime executes on.
type Provider int

const (
	ProviderCPU Provider = iota
	ProviderCUDA
	ProviderDirectML
)

func (p Provider) String() string {
	switch p {
	case ProviderCUDA:
		return "cuda"
	case ProviderDirectML:
		return "dml"
	default:
		return "cpu"
	}
}

// Package returns the pip package that backs this provider.
func (p Provider) Package() string {
	switch p {
	case ProviderCUDA:
		return "onnxruntime-gpu"
	case ProviderDirectML:
		return "onnxruntime-directml"
	default:
		return "onnxruntime"
	}
}

// ExecutionProvider returns the name onnxruntime lists for this backend.
func (p Provider) ExecutionProvider() string {
	switch p {
	case ProviderCUDA:
		return "CUDAExecutionProvider"
	case ProviderDirectML:
		return "DmlExecutionProvider"
	default:
		return "CPUExecutionProvider"
	}
}

// ParseProvider maps a configured preference to a pinned provider.
// "auto" (or anything unrecognized) returns false, requesting probing.
func ParseProvider(s string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cuda":
		return ProviderCUDA, true
	case "dml", "directml":
		return ProviderDirectML, true
	case "cpu":
		return ProviderCPU, true
	default:
		return ProviderCPU, false
	}
}

// probe reports whether a provider's hardware/OS support looks present.
// Probes must never install or mutate anything.
type probe struct {
	provider  Provider
	available func() bool
}

// defaultProbes is the strict priority chain CUDA -> DirectML -> CPU.
func defaultProbes() []probe {
	return []probe{
		{ProviderCUDA, cudaLikelyAvailable},
		{ProviderDirectML, func() bool { return runtime.GOOS == "windows" }},
		{ProviderCPU, func() bool { return true }},
	}
}

func cudaLikelyAvailable() bool {
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return true
	}
	if os.Getenv("CUDA_PATH") != "" {
		return true
	}
	if st, err := os.Stat("/proc/driver/nvidia"); err == nil && st.IsDir() {
		return true
	}
	return false
}

// providerCandidates resolves the install order: an explicit preference
// pins a single candidate, "auto" keeps every probe that reports
// availability, in chain order. CPU is always a viable last resort.
func providerCandidates(pref string, probes []probe) []Provider {
	if p, pinned := ParseProvider(pref); pinned {
		return []Provider{p}
	}

	var out []Provider
	for _, pr := range probes {
		if pr.available() {
			out = append(out, pr.provider)
		}
	}
	if len(out) == 0 {
		out = []Provider{ProviderCPU}
	}
	return out
}

// SelectProvider reports which provider the probe chain would pick for
// the given preference, without installing anything.
func SelectProvider(pref string) Provider {
	return providerCandidates(pref, defaultProbes())[0]
}
