package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/danmuck/agrilink/internal/testutil/testlog"
)

var day = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestKeyLayout(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		obj  Object
		want string
	}{
		{Object{ID: "t1", Name: "img.jpg", Complete: true, ReceivedAt: day}, "2026-03-14/t1-img.jpg"},
		{Object{ID: "t2", Name: "../../etc/passwd", Complete: true, ReceivedAt: day}, "2026-03-14/t2-passwd"},
		{Object{ID: "t3", Name: "a b.jpg", Complete: false, ReceivedAt: day}, "2026-03-14/t3-a_b.jpg.partial"},
	}
	for _, tc := range cases {
		got, err := Key(tc.obj)
		if err != nil || got != tc.want {
			t.Fatalf("key(%+v)=%q err=%v want=%q", tc.obj, got, err, tc.want)
		}
	}
	if _, err := Key(Object{Name: ".."}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestDirStorePut(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	s, err := NewDirStore(root)
	if err != nil {
		t.Fatalf("new dir store: %v", err)
	}
	loc, err := s.Put(context.Background(), Object{ID: "t1", Name: "img.jpg", Data: []byte("jpeg"), Complete: true, ReceivedAt: day})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if loc != filepath.Join(root, "2026-03-14", "t1-img.jpg") {
		t.Fatalf("location=%s", loc)
	}
	got, err := os.ReadFile(loc)
	if err != nil || string(got) != "jpeg" {
		t.Fatalf("read back=%q err=%v", got, err)
	}
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3StorePut(t *testing.T) {
	testlog.Start(t)
	fake := &fakeS3{}
	s := newS3Store(fake, S3Config{Bucket: "field", Prefix: "/images/"})
	loc, err := s.Put(context.Background(), Object{ID: "t9", Name: "cam.jpg", Data: []byte("xyz"), Complete: true, ReceivedAt: day})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if loc != "s3://field/images/2026-03-14/t9-cam.jpg" {
		t.Fatalf("location=%s", loc)
	}
	if aws.ToString(fake.in.Key) != "images/2026-03-14/t9-cam.jpg" || !bytes.Equal(fake.body, []byte("xyz")) {
		t.Fatalf("key=%s body=%q", aws.ToString(fake.in.Key), fake.body)
	}
	if fake.in.Metadata["complete"] != "true" {
		t.Fatalf("metadata=%v", fake.in.Metadata)
	}

	fake.err = errors.New("denied")
	if _, err := s.Put(context.Background(), Object{ID: "t10", Name: "x", Complete: true}); err == nil {
		t.Fatalf("expected put error")
	}
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Open(context.Background(), Config{Kind: "tape"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := Open(context.Background(), Config{Kind: "s3"}); !errors.Is(err, ErrNoBucket) {
		t.Fatalf("expected ErrNoBucket, got %v", err)
	}
}
