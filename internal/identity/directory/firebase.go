package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kumbh-rakshak/kr-backend/config"
	"github.com/kumbh-rakshak/kr-backend/internal/identity/domain"
)

const (
	usersCollection = "users"

	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	signInTimeout             = 10 * time.Second
)

// userDoc is the Firestore shape of a profile document. Field names
// match what the mobile clients have always written.
type userDoc struct {
	Name      string    `firestore:"name"`
	Phone     string    `firestore:"phone"`
	Email     string    `firestore:"email"`
	UserType  string    `firestore:"userType"`
	CreatedAt time.Time `firestore:"createdAt"`
	IsActive  bool      `firestore:"isActive"`
}

func (d userDoc) record(id string) *domain.IdentityRecord {
	return &domain.IdentityRecord{
		ID:        id,
		Name:      d.Name,
		Phone:     d.Phone,
		Email:     d.Email,
		Role:      domain.Role(d.UserType),
		CreatedAt: d.CreatedAt,
		Active:    d.IsActive,
	}
}

// FirebaseDirectory implements Directory on Firebase: the Admin SDK
// for record management and token revocation, Firestore for the
// profile documents, and the Identity Toolkit REST API for password
// verification (the Admin SDK cannot verify passwords).
type FirebaseDirectory struct {
	authClient *auth.Client
	fs         *firestore.Client
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFirebaseDirectory initializes the Firebase Admin SDK and the
// Firestore client from a service-account credentials file.
func NewFirebaseDirectory(ctx context.Context, cfg *config.DirectoryConfig) (*FirebaseDirectory, error) {
	if cfg.CredentialsPath == "" {
		return nil, fmt.Errorf("FIREBASE_CREDENTIALS_PATH is required")
	}
	if cfg.WebAPIKey == "" {
		return nil, fmt.Errorf("FIREBASE_WEB_API_KEY is required")
	}

	opt := option.WithCredentialsFile(cfg.CredentialsPath)
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Auth client: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}

	return &FirebaseDirectory{
		authClient: authClient,
		fs:         fs,
		apiKey:     cfg.WebAPIKey,
		baseURL:    defaultIdentityToolkitURL,
		httpClient: &http.Client{Timeout: signInTimeout},
		// Identity Toolkit sign-in quota is shared with the mobile
		// clients; keep the backend's share modest.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}, nil
}

// Close releases the Firestore client.
func (f *FirebaseDirectory) Close() error {
	return f.fs.Close()
}

func (f *FirebaseDirectory) Register(ctx context.Context, creds domain.Credentials, profile domain.Profile, role domain.Role) (*domain.IdentityRecord, error) {
	uid, err := f.signCall(ctx, "accounts:signUp", creds)
	if err != nil {
		return nil, err
	}

	doc := userDoc{
		Name:      profile.Name,
		Phone:     profile.Phone,
		Email:     creds.Email,
		UserType:  string(role),
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}

	if _, err := f.fs.Collection(usersCollection).Doc(uid).Set(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to write profile document: %w", mapFirestoreErr(err))
	}

	return doc.record(uid), nil
}

func (f *FirebaseDirectory) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.IdentityRecord, error) {
	uid, err := f.signCall(ctx, "accounts:signInWithPassword", creds)
	if err != nil {
		return nil, err
	}

	return f.FetchRecord(ctx, uid)
}

func (f *FirebaseDirectory) FetchRecord(ctx context.Context, id string) (*domain.IdentityRecord, error) {
	snap, err := f.fs.Collection(usersCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile document: %w", mapFirestoreErr(err))
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode profile document: %w", err)
	}

	return doc.record(id), nil
}

func (f *FirebaseDirectory) InvalidateSession(ctx context.Context, id string) error {
	if err := f.authClient.RevokeRefreshTokens(ctx, id); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w: %v", domain.ErrUnavailable, err)
	}
	return nil
}

func (f *FirebaseDirectory) UpdateProfile(ctx context.Context, id string, profile domain.Profile) (*domain.IdentityRecord, error) {
	_, err := f.fs.Collection(usersCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "name", Value: profile.Name},
		{Path: "phone", Value: profile.Phone},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update profile document: %w", mapFirestoreErr(err))
	}

	return f.FetchRecord(ctx, id)
}

// signCall performs an Identity Toolkit REST call (signUp or
// signInWithPassword) and returns the Firebase UID.
func (f *FirebaseDirectory) signCall(ctx context.Context, endpoint string, creds domain.Credentials) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"email":             creds.Email,
		"password":          creds.Password,
		"returnSecureToken": true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sign-in request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s?key=%s", f.baseURL, endpoint, f.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity toolkit request failed: %w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("identity toolkit returned status %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
			return "", fmt.Errorf("identity toolkit returned status %d: %w", resp.StatusCode, domain.ErrUnavailable)
		}
		return "", mapIdentityToolkitErr(errBody.Error.Message)
	}

	var okBody struct {
		LocalID string `json:"localId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&okBody); err != nil {
		return "", fmt.Errorf("failed to decode identity toolkit response: %w", err)
	}
	if okBody.LocalID == "" {
		return "", fmt.Errorf("identity toolkit response missing localId")
	}

	return okBody.LocalID, nil
}

// mapIdentityToolkitErr maps the REST API's error codes onto the
// domain taxonomy.
func mapIdentityToolkitErr(code string) error {
	switch {
	case code == "EMAIL_EXISTS":
		return domain.ErrConflict
	case code == "INVALID_EMAIL",
		code == "MISSING_PASSWORD",
		strings.HasPrefix(code, "WEAK_PASSWORD"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidCredentials, code)
	case code == "EMAIL_NOT_FOUND",
		code == "INVALID_PASSWORD",
		code == "INVALID_LOGIN_CREDENTIALS",
		code == "USER_DISABLED":
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, code)
	case strings.HasPrefix(code, "TOO_MANY_ATTEMPTS"):
		return fmt.Errorf("%w: %s", domain.ErrUnavailable, code)
	default:
		return fmt.Errorf("identity toolkit error %s: %w", code, domain.ErrUnavailable)
	}
}

// mapFirestoreErr maps gRPC status codes onto the domain taxonomy.
func mapFirestoreErr(err error) error {
	if status.Code(err) == codes.NotFound {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}
