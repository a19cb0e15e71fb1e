package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// UploadToGCS streams write's output to bucket/objectName. An empty bucket falls back to GCS_BUCKET.
func UploadToGCS(ctx context.Context, bucket, objectName, contentType string, write func(io.Writer) error) error {
	if strings.TrimSpace(bucket) == "" {
		bucket = strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	}
	if bucket == "" {
		return errors.New("GCS_BUCKET is required")
	}
	if objectName == "" || strings.Contains(objectName, "..") || strings.HasPrefix(objectName, "/") {
		return fmt.Errorf("invalid object name %q", objectName)
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %q not found or not accessible: %v", bucket, err)
	}

	wc := client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if err := write(wc); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}
