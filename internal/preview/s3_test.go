package preview

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"review-queue/internal/config"
)

func TestPreviewURLIsPresigned(t *testing.T) {
	awsCfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	}
	cfg := config.Config{
		PreviewBucket:    "renders",
		PreviewEndpoint:  "http://localhost:9000",
		PreviewPathStyle: true,
		PreviewURLTTL:    time.Minute,
	}
	signer := NewS3SignerFromAWS(awsCfg, cfg)

	url, err := signer.PreviewURL(context.Background(), "/c1/g1.png")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:9000/renders/c1/g1.png?") {
		t.Fatalf("unexpected url: %s", url)
	}
	for _, want := range []string{"X-Amz-Signature=", "X-Amz-Expires=60"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %s in %s", want, url)
		}
	}
}

func TestPreviewURLRejectsEmptyKey(t *testing.T) {
	signer := NewS3SignerFromAWS(aws.Config{Region: "us-east-1"}, config.Config{PreviewBucket: "renders"})
	if _, err := signer.PreviewURL(context.Background(), "/"); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestNewS3SignerDisabledWithoutBucket(t *testing.T) {
	signer, err := NewS3Signer(context.Background(), config.Config{})
	if err != nil || signer != nil {
		t.Fatalf("expected nil signer, got %v err=%v", signer, err)
	}
}
