package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/models"
)

// ErrNoSource is returned by Load when neither a file nor a secret is
// configured.
var ErrNoSource = errors.New("no credentials source configured")

// Combined represents the combined JSON credential model.
type Combined struct {
	Auth struct {
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		TOTPSecret string `json:"totp_secret"`
	} `json:"auth"`
}

// SecretsAPI is the part of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ParseCombined parses JSON bytes into Combined.
func ParseCombined(data []byte) (*Combined, error) {
	var c Combined
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if c.Username() == "" || c.Auth.Password == "" {
		return nil, errors.New("credentials need a username (or email) and a password")
	}
	return &c, nil
}

// LoadFromFile loads Combined from a local file path.
func LoadFromFile(path string) (*Combined, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCombined(b)
}

// LoadFromSecret loads Combined from Secrets Manager by name or ARN.
func LoadFromSecret(ctx context.Context, secretID string) (*Combined, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return LoadFromSecretAPI(ctx, secretsmanager.NewFromConfig(cfg), secretID)
}

// LoadFromSecretAPI is LoadFromSecret with an explicit client.
func LoadFromSecretAPI(ctx context.Context, api SecretsAPI, secretID string) (*Combined, error) {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		return nil, fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret has no string payload")
	}
	return ParseCombined([]byte(*out.SecretString))
}

// Load reads credentials from the file named in cfg, or else from the
// configured secret.
func Load(ctx context.Context, cfg *config.AuthConfig) (*Combined, error) {
	switch {
	case cfg.CredentialsFile != "":
		return LoadFromFile(cfg.CredentialsFile)
	case cfg.CredentialsSecret != "":
		return LoadFromSecret(ctx, cfg.CredentialsSecret)
	default:
		return nil, ErrNoSource
	}
}

// Username falls back to the email when no username is set.
func (c *Combined) Username() string {
	if u := strings.TrimSpace(c.Auth.Username); u != "" {
		return u
	}
	return strings.TrimSpace(c.Auth.Email)
}

// Credentials returns the sign-in payload.
func (c *Combined) Credentials() models.Credentials {
	return models.Credentials{
		Username: c.Username(),
		Password: c.Auth.Password,
	}
}

// HasTOTP reports whether a second-factor secret is stored.
func (c *Combined) HasTOTP() bool {
	return strings.TrimSpace(c.Auth.TOTPSecret) != ""
}
