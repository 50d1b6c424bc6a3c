package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.MaxUploadBytes != 500<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes)
	}
	if cfg.PresignedTTL() != time.Hour {
		t.Fatalf("unexpected presign ttl %s", cfg.PresignedTTL())
	}
	if cfg.MaxConcurrentTranscriptions != 3 {
		t.Fatalf("unexpected concurrency %d", cfg.MaxConcurrentTranscriptions)
	}
}

func TestExtensionAllowed(t *testing.T) {
	cfg := Default()
	for _, ext := range []string{"mp4", ".mp4", "MOV", " mkv "} {
		if !cfg.ExtensionAllowed(ext) {
			t.Fatalf("expected %q allowed", ext)
		}
	}
	for _, ext := range []string{"exe", "webm", ""} {
		if cfg.ExtensionAllowed(ext) {
			t.Fatalf("expected %q rejected", ext)
		}
	}
}

func TestLoad_AppliesYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "max_upload_bytes: 1048576\nstorage:\n  bucket: yaml-bucket\ncompression:\n  crf: 30\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STORAGE_BUCKET", "env-bucket")
	t.Setenv("SPEECH_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxUploadBytes != 1048576 {
		t.Fatalf("yaml override lost, got %d", cfg.MaxUploadBytes)
	}
	if cfg.Compression.CRF != 30 {
		t.Fatalf("yaml override lost, crf %d", cfg.Compression.CRF)
	}
	// Env wins over the file.
	if cfg.Storage.Bucket != "env-bucket" {
		t.Fatalf("env override lost, bucket %q", cfg.Storage.Bucket)
	}
	if cfg.Speech.APIKey != "sk-test" {
		t.Fatalf("env secret lost")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.MaxUploadBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero upload limit")
	}

	cfg = Default()
	cfg.AllowedExtensions = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty allow-list")
	}

	cfg = Default()
	cfg.Storage.Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}
