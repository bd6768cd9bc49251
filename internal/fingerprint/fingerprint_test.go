package fingerprint

import "testing"

func TestStageDeterministic(t *testing.T) {
	params := map[string]string{"lr": "0.1", "epochs": "10"}
	first, err := Stage("train", "v1", []string{"aaa", "bbb"}, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Stage("train", "v1", []string{"aaa", "bbb"}, map[string]string{"epochs": "10", "lr": "0.1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical fingerprints, got %q vs %q", first, second)
	}
}

func TestStageParamSensitivity(t *testing.T) {
	base, err := Stage("train", "v1", []string{"aaa"}, map[string]string{"lr": "0.1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed, err := Stage("train", "v1", []string{"aaa"}, map[string]string{"lr": "0.2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base == changed {
		t.Fatalf("expected parameter change to change fingerprint")
	}
}

func TestStageUpstreamSensitivity(t *testing.T) {
	base, err := Stage("train", "v1", []string{"aaa"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed, err := Stage("train", "v1", []string{"ccc"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base == changed {
		t.Fatalf("expected upstream change to change fingerprint")
	}
}

func TestStageCodeVersionSensitivity(t *testing.T) {
	base, err := Stage("train", "v1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed, err := Stage("train", "v2", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base == changed {
		t.Fatalf("expected code version change to change fingerprint")
	}
}

func TestOutputDistinctPerName(t *testing.T) {
	stageFP, err := Stage("train", "v1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	model := Output(stageFP, "model")
	metrics := Output(stageFP, "metrics")
	if model == metrics {
		t.Fatalf("expected distinct output fingerprints")
	}
	if model != Output(stageFP, "model") {
		t.Fatalf("expected output fingerprint to be deterministic")
	}
}

func TestContent(t *testing.T) {
	a := Content([]byte("payload"))
	b := Content([]byte("payload"))
	c := Content([]byte("other"))
	if a != b {
		t.Fatalf("expected identical content hashes")
	}
	if a == c {
		t.Fatalf("expected differing payloads to hash differently")
	}
}
