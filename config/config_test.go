package config

import (
	"strings"
	"testing"
)

func validSettings() *Settings {
	return &Settings{
		PostgresUser:     "postgres",
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresDB:       "transcriptqa",
		PostgresSSLMode:  "disable",
		ChunkMinTokens:   400,
		ChunkMaxTokens:   800,
		ChunkOverlapTokens: 50,
		DefaultRetrievalN:  50,
		DefaultRerankK:     8,
		DefaultTokenBudget: 8000,
		DefaultSpeaker:     "Unknown",
		ChatModel:           "gpt-4o-mini",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		APIHost:             "0.0.0.0",
		APIPort:             8000,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}
}

func TestValidateRejectsInvertedChunkBounds(t *testing.T) {
	s := validSettings()
	s.ChunkMinTokens = 900
	err := s.Validate()
	if err == nil {
		t.Fatal("expected error for max < min")
	}
	if !strings.Contains(err.Error(), "chunk_max_tokens") {
		t.Fatalf("expected chunk_max_tokens in error, got %v", err)
	}
}

func TestValidateRejectsOverlapAtWindowSize(t *testing.T) {
	s := validSettings()
	s.ChunkOverlapTokens = s.ChunkMaxTokens
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for overlap >= max window")
	}
}

func TestValidateRejectsSmallTokenBudget(t *testing.T) {
	s := validSettings()
	s.DefaultTokenBudget = 50
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for token budget below 100")
	}
}

func TestDSNContainsAllParts(t *testing.T) {
	s := validSettings()
	s.PostgresPassword = "secret"
	dsn := s.DSN()
	for _, part := range []string{"host=localhost", "port=5432", "user=postgres", "password=secret", "dbname=transcriptqa", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Fatalf("dsn %q missing %q", dsn, part)
		}
	}
}

func TestValidatorCollectsMultipleErrors(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("a", "").RequirePositive("b", 0).ValidateOneOf("c", "x", "y", "z")
	if len(v.Errors()) != 3 {
		t.Fatalf("expected 3 errors, got %d", len(v.Errors()))
	}
	if v.Error() == nil {
		t.Fatal("expected combined error")
	}
}
