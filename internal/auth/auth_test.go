package auth

import "testing"

func TestCredentialsBearerToken(t *testing.T) {
	apiKey := Credentials{Mode: ModeAPIKey, APIKey: "sk-123"}
	token, err := apiKey.BearerToken()
	if err != nil {
		t.Fatalf("BearerToken() error = %v", err)
	}
	if token != "sk-123" {
		t.Fatalf("expected sk-123, got %q", token)
	}

	if _, err := (Credentials{Mode: ModeAPIKey}).BearerToken(); err != ErrNoCredentials {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir + "/credentials.json")

	creds := Credentials{Mode: ModeAPIKey, APIKey: "sk-abc"}
	if err := store.Save(creds); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.APIKey != creds.APIKey {
		t.Fatalf("expected %q, got %q", creds.APIKey, loaded.APIKey)
	}
}

func TestStoreLoadMissingFileIsZeroValue(t *testing.T) {
	store := NewStore(t.TempDir() + "/missing.json")
	creds, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds.Mode != "" {
		t.Fatalf("expected zero-value credentials, got %+v", creds)
	}
}
