package objectstore

import "testing"

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Endpoint != "localhost:9000" {
		t.Fatalf("unexpected endpoint %q", cfg.Endpoint)
	}
	if cfg.Bucket != "mlforge-artifacts" {
		t.Fatalf("unexpected bucket %q", cfg.Bucket)
	}
}

func TestConfigFromEnvOverride(t *testing.T) {
	t.Setenv("MLFORGE_MINIO_ENDPOINT", "minio.internal:9000")
	t.Setenv("MLFORGE_MINIO_BUCKET", "models")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Endpoint != "minio.internal:9000" || cfg.Bucket != "models" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConfigValidateRejectsScheme(t *testing.T) {
	cfg := Config{
		Endpoint:  "http://localhost:9000",
		AccessKey: "a",
		SecretKey: "s",
		Region:    "us-east-1",
		Bucket:    "b",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for endpoint with scheme")
	}
}

func TestConfigValidateRequiredFields(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected error for empty config")
	}
}
