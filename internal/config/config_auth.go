package config

// AuthConfig selects between a static API key and OAuth for the chat
// completion endpoint.
type AuthConfig struct {
	APIKey string     `toml:"api_key"`
	OAuth  OAuthConfig `toml:"oauth"`
}

// OAuthConfig points at the on-disk credential store the oauth collaborator
// refreshes and persists tokens to.
type OAuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenURL     string `toml:"token_url"`
	CredentialsPath string `toml:"credentials_path"`
}
