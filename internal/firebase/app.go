package firebase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"readySchoolsAPI/internal/logger"
)

// ErrNoCredentials means neither the encoded service account nor the local
// key file is available.
var ErrNoCredentials = errors.New("no firebase credentials")

type Credentials struct {
	ProjectID string
	// JSON is a base64 encoded service account. It wins over File.
	JSON string
	File string
}

// NewFirestore initializes the firebase app and returns its Firestore client.
func NewFirestore(ctx context.Context, creds Credentials, log *logger.Logger) (*firestore.Client, error) {
	var opt option.ClientOption

	if creds.JSON != "" {
		decoded, err := base64.StdEncoding.DecodeString(creds.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 firebase credentials: %w", err)
		}
		opt = option.WithCredentialsJSON(decoded)
		log.Info("firebase: initializing from encoded service account")
	} else {
		if creds.File == "" {
			return nil, ErrNoCredentials
		}
		if _, err := os.Stat(creds.File); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: local file %s not found", ErrNoCredentials, creds.File)
		}
		opt = option.WithCredentialsFile(creds.File)
		log.Info("firebase: initializing from local file", "path", creds.File)
	}

	var conf *firebase.Config
	if creds.ProjectID != "" {
		conf = &firebase.Config{ProjectID: creds.ProjectID}
	}
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %w", err)
	}
	return client, nil
}
