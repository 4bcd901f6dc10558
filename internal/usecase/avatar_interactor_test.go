package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/messaging/payloads"
)

func TestAvatarStore(t *testing.T) {
	ctx := context.Background()
	files := newMemoryFiles()
	avatars := NewAvatarService(files, nil, nil)

	ref, err := avatars.Store(ctx, *pngUpload())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.HasPrefix(ref, "avatars/") || !strings.HasSuffix(ref, ".png") {
		t.Fatalf("unexpected key %q", ref)
	}
	if !files.has(ref) {
		t.Fatalf("expected %q to be uploaded", ref)
	}

	if _, err := avatars.Store(ctx, *textUpload()); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for text, got %v", err)
	}

	big := append(pngBytes(), bytes.Repeat([]byte{0}, MaxAvatarBytes)...)
	if _, err := avatars.Store(ctx, AvatarUpload{Body: bytes.NewReader(big)}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for oversized file, got %v", err)
	}
	if _, err := avatars.Store(ctx, AvatarUpload{Body: bytes.NewReader(nil)}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty file, got %v", err)
	}

	files.uploadErr = errors.New("bucket unavailable")
	if _, err := avatars.Store(ctx, *pngUpload()); err == nil || domain.IsValidation(err) {
		t.Fatalf("expected upload failure, got %v", err)
	}
}

func TestAvatarReleaseDirect(t *testing.T) {
	ctx := context.Background()
	files := newMemoryFiles()
	avatars := NewAvatarService(files, nil, nil)

	ref, err := avatars.Store(ctx, *pngUpload())
	if err != nil {
		t.Fatal(err)
	}
	if err := avatars.Release(ctx, ref); err != nil {
		t.Fatalf("release: %v", err)
	}
	if files.has(ref) {
		t.Fatalf("expected %q to be deleted", ref)
	}

	files.deleteErr = errors.New("must not be called")
	if err := avatars.Release(ctx, domain.DefaultProfileImage); err != nil {
		t.Fatalf("releasing the default avatar must be a no-op, got %v", err)
	}
}

func TestAvatarReleaseQueued(t *testing.T) {
	ctx := context.Background()
	files := newMemoryFiles()
	publisher := &recordingPublisher{}
	avatars := NewAvatarService(files, publisher, nil)

	ref, err := avatars.Store(ctx, *pngUpload())
	if err != nil {
		t.Fatal(err)
	}
	if err := avatars.Release(ctx, ref); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !files.has(ref) {
		t.Fatalf("queued release must not delete the file in place")
	}
	if len(publisher.payloads) != 1 || publisher.payloads[0].Ref != ref {
		t.Fatalf("expected one payload for %q, got %+v", ref, publisher.payloads)
	}
	if err := avatars.Release(ctx, domain.DefaultProfileImage); err != nil {
		t.Fatal(err)
	}
	if len(publisher.payloads) != 1 {
		t.Fatalf("default avatar must not be enqueued")
	}

	if err := avatars.HandleRelease(ctx, publisher.payloads[0]); err != nil {
		t.Fatalf("handle release: %v", err)
	}
	if files.has(ref) {
		t.Fatalf("expected worker to delete %q", ref)
	}
	if err := avatars.HandleRelease(ctx, payloads.AvatarReleasePayload{Ref: domain.DefaultProfileImage}); err != nil {
		t.Fatalf("default avatar payload must be ignored, got %v", err)
	}

	publisher.err = errors.New("broker down")
	if err := avatars.Release(ctx, "avatars/other.png"); err == nil {
		t.Fatalf("expected publish failure to surface")
	}
}
