package bootstrap

import "testing"

func TestParseProvider(t *testing.T) {
	cases := []struct {
		in     string
		want   Provider
		pinned bool
	}{
		{"cuda", ProviderCUDA, true},
		{"CUDA", ProviderCUDA, true},
		{"dml", ProviderDirectML, true},
		{"directml", ProviderDirectML, true},
		{"cpu", ProviderCPU, true},
		{"auto", ProviderCPU, false},
		{"", ProviderCPU, false},
	}
	for _, c := range cases {
		got, pinned := ParseProvider(c.in)
		if got != c.want || pinned != c.pinned {
			t.Errorf("ParseProvider(%q) = %v,%v, want %v,%v", c.in, got, pinned, c.want, c.pinned)
		}
	}
}

func TestProviderCandidatesExplicitPreference(t *testing.T) {
	probes := []probe{
		{ProviderCUDA, func() bool { return true }},
		{ProviderCPU, func() bool { return true }},
	}
	got := providerCandidates("cpu", probes)
	if len(got) != 1 || got[0] != ProviderCPU {
		t.Errorf("Expected pinned [cpu], got %v", got)
	}
}

func TestProviderCandidatesProbeOrder(t *testing.T) {
	probes := []probe{
		{ProviderCUDA, func() bool { return false }},
		{ProviderDirectML, func() bool { return true }},
		{ProviderCPU, func() bool { return true }},
	}
	got := providerCandidates("auto", probes)
	if len(got) != 2 || got[0] != ProviderDirectML || got[1] != ProviderCPU {
		t.Errorf("Expected [dml cpu], got %v", got)
	}
}

func TestProviderCandidatesNeverEmpty(t *testing.T) {
	got := providerCandidates("auto", nil)
	if len(got) != 1 || got[0] != ProviderCPU {
		t.Errorf("Expected CPU fallback, got %v", got)
	}
}

func TestProviderNames(t *testing.T) {
	if ProviderCUDA.Package() != "onnxruntime-gpu" {
		t.Errorf("Unexpected package %q", ProviderCUDA.Package())
	}
	if ProviderDirectML.ExecutionProvider() != "DmlExecutionProvider" {
		t.Errorf("Unexpected execution provider %q", ProviderDirectML.ExecutionProvider())
	}
	if ProviderCPU.String() != "cpu" {
		t.Errorf("Unexpected name %q", ProviderCPU.String())
	}
}
