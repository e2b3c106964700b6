package tenancy

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ModeJWT resolves the actor from the claims of an Authorization bearer token.
const ModeJWT TenancyMode = "jwt"

// ErrUnauthenticated is returned when a request carries no usable token.
var ErrUnauthenticated = errors.New("unauthenticated")

// JWTConfig configures the JWT actor resolver.
type JWTConfig struct {
	// OrganizationClaim names the claim holding the organization. Dots walk
	// nested claims. Default "org".
	OrganizationClaim string

	// UserClaim names the claim holding the user. Default "sub".
	UserClaim string

	// PublicKeyPath is a PEM-encoded RSA public key used to verify RS256
	// tokens. When empty, tokens are parsed without verification and must
	// come from a trusted proxy.
	PublicKeyPath string

	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string
}

// JWTConfigFromEnv loads config from environment variables.
// AUTOLOAD_JWT_ORG_CLAIM, AUTOLOAD_JWT_USER_CLAIM, AUTOLOAD_JWT_PUBLIC_KEY_PATH,
// AUTOLOAD_JWT_ISSUER, AUTOLOAD_JWT_AUDIENCE
func JWTConfigFromEnv() JWTConfig {
	return JWTConfig{
		OrganizationClaim: os.Getenv("AUTOLOAD_JWT_ORG_CLAIM"),
		UserClaim:         os.Getenv("AUTOLOAD_JWT_USER_CLAIM"),
		PublicKeyPath:     os.Getenv("AUTOLOAD_JWT_PUBLIC_KEY_PATH"),
		Issuer:            os.Getenv("AUTOLOAD_JWT_ISSUER"),
		Audience:          os.Getenv("AUTOLOAD_JWT_AUDIENCE"),
	}
}

// JWTResolver reads the actor from a bearer token.
type JWTResolver struct {
	cfg       JWTConfig
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
	validator *jwt.Validator
}

// NewJWTResolver loads the verification key named by cfg. A nil logger uses
// slog.Default().
func NewJWTResolver(cfg JWTConfig, logger *slog.Logger) (*JWTResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OrganizationClaim == "" {
		cfg.OrganizationClaim = "org"
	}
	if cfg.UserClaim == "" {
		cfg.UserClaim = "sub"
	}

	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	res := &JWTResolver{cfg: cfg}

	if cfg.PublicKeyPath != "" {
		key, err := loadRSAPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		res.publicKey = key
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
		logger.Info("jwt tenancy: verifying tokens", "keyPath", cfg.PublicKeyPath)
	} else {
		logger.Warn("jwt tenancy: no public key configured, tokens are not verified")
	}
	res.parser = jwt.NewParser(opts...)
	res.validator = jwt.NewValidator(opts...)
	return res, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode PEM block from %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwt public key is not RSA (got %T)", parsed)
	}
	return key, nil
}

// Resolve parses the bearer token and reads the organization and user claims.
func (j *JWTResolver) Resolve(r *http.Request) (Actor, error) {
	token := bearerToken(r)
	if token == "" {
		return Actor{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	claims := jwt.MapClaims{}
	var err error
	if j.publicKey != nil {
		_, err = j.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return j.publicKey, nil
		})
	} else {
		_, _, err = j.parser.ParseUnverified(token, claims)
		if err == nil {
			err = j.validator.Validate(claims)
		}
	}
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	org := claimString(claims, j.cfg.OrganizationClaim)
	if org == "" {
		return Actor{}, fmt.Errorf("%w: token has no %q claim", ErrUnauthenticated, j.cfg.OrganizationClaim)
	}
	user := claimString(claims, j.cfg.UserClaim)
	if user == "" {
		user = anonymousUser
	}
	a := Actor{Organization: org, User: user}
	if err := a.Validate(); err != nil {
		return Actor{}, err
	}
	return a, nil
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// claimString walks a dotted claim path and returns its string value.
func claimString(claims jwt.MapClaims, path string) string {
	var current any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		if current, ok = m[part]; !ok {
			return ""
		}
	}
	s, _ := current.(string)
	return strings.TrimSpace(s)
}
