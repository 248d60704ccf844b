package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const firebaseIssuerPrefix = "https://securetoken.google.com/"

type firebaseClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	AuthTime      int64  `json:"auth_time,omitempty"`
}

// FirebaseVerifier checks Firebase Authentication ID tokens: RS256 signed by
// one of Google's rotating securetoken certificates, issued for the project.
type FirebaseVerifier struct {
	projectID string
	issuer    string
	certs     *certCache
	now       func() time.Time
}

// VerifierOption configures a FirebaseVerifier.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	certsURL string
	client   *http.Client
	now      func() time.Time
}

// WithCertsURL overrides where signing certificates are fetched from.
func WithCertsURL(url string) VerifierOption {
	return func(o *verifierOptions) { o.certsURL = url }
}

// WithVerifierHTTPClient sets the client used to fetch certificates.
func WithVerifierHTTPClient(client *http.Client) VerifierOption {
	return func(o *verifierOptions) { o.client = client }
}

// WithVerifierClock sets the time source used for expiry checks.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(o *verifierOptions) { o.now = now }
}

// NewFirebaseVerifier creates a verifier for tokens issued to projectID.
func NewFirebaseVerifier(projectID string, opts ...VerifierOption) (*FirebaseVerifier, error) {
	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	o := verifierOptions{
		certsURL: DefaultCertsURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &FirebaseVerifier{
		projectID: projectID,
		issuer:    firebaseIssuerPrefix + projectID,
		certs:     newCertCache(o.certsURL, o.client, o.now),
		now:       o.now,
	}, nil
}

// Verify validates idToken and returns the identity it asserts. Rejected
// tokens wrap ErrInvalidCredential; infrastructure failures wrap
// ErrVerifierUnavailable.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	if idToken == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &firebaseClaims{}
	_, err := parser.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		return v.certs.key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrVerifierUnavailable) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	if claims.Subject == "" || len(claims.Subject) > 128 {
		return Identity{}, fmt.Errorf("%w: subject must be 1-128 characters", ErrInvalidCredential)
	}
	if claims.AuthTime > v.now().Unix() {
		return Identity{}, fmt.Errorf("%w: auth_time is in the future", ErrInvalidCredential)
	}

	return Identity{
		SubjectID:     claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
