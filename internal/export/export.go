// Package export writes every stored conversation as one JSON document per
// user, to a local directory or to an S3 bucket.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/chatbotadsmanager/adsmanager/internal/store"
)

// ManifestName is the object written after all conversations.
const ManifestName = "manifest.json"

// Sink stores one named document.
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
	Describe() string
}

// DirSink writes documents into a local directory.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create %s: %w", dir, err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Write(_ context.Context, name string, data []byte) error {
	p := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", p, err)
	}
	return nil
}

func (s *DirSink) Describe() string { return s.dir }

// uploader is the part of *manager.Uploader the S3 sink uses.
type uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink uploads documents under a key prefix.
type S3Sink struct {
	up     uploader
	bucket string
	prefix string
}

// NewS3Sink builds a sink on top of an S3 client.
func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return newS3Sink(manager.NewUploader(client), bucket, prefix)
}

func newS3Sink(up uploader, bucket, prefix string) *S3Sink {
	return &S3Sink{up: up, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Sink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Sink) Write(ctx context.Context, name string, data []byte) error {
	_, err := s.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("export: upload s3://%s/%s: %w", s.bucket, s.key(name), err)
	}
	return nil
}

func (s *S3Sink) Describe() string { return "s3://" + s.bucket + "/" + s.prefix }

// Manifest summarizes one export run.
type Manifest struct {
	RunID      string   `json:"run_id"`
	ExportedAt string   `json:"exported_at"`
	Files      []string `json:"files"`
}

// Exporter copies conversation documents to a sink.
type Exporter struct {
	conversations store.ConversationStore
	sink          Sink
	now           func() time.Time
}

// NewExporter creates an exporter.
func NewExporter(conversations store.ConversationStore, sink Sink) *Exporter {
	return &Exporter{conversations: conversations, sink: sink, now: time.Now}
}

// Export writes <userID>.json for every conversation, then the manifest.
func (e *Exporter) Export(ctx context.Context) (Manifest, error) {
	m := Manifest{RunID: uuid.NewString(), ExportedAt: e.now().UTC().Format(time.RFC3339)}
	ids, err := e.conversations.ListConversationIDs(ctx)
	if err != nil {
		return m, fmt.Errorf("export: list conversations: %w", err)
	}
	slog.Info("Exporter.Export: exporting", "conversations", len(ids), "target", e.sink.Describe(), "run_id", m.RunID)

	for _, id := range ids {
		conv, err := e.conversations.Conversation(ctx, id)
		if err != nil {
			return m, fmt.Errorf("export: read conversation %s: %w", id, err)
		}
		data, err := encode(conv)
		if err != nil {
			return m, err
		}
		name := id + ".json"
		if err := e.sink.Write(ctx, name, data); err != nil {
			return m, err
		}
		m.Files = append(m.Files, name)
		slog.Debug("Exporter.Export: exported", "file", name, "messages", len(conv.Messages))
	}

	data, err := encode(m)
	if err != nil {
		return m, err
	}
	if err := e.sink.Write(ctx, ManifestName, data); err != nil {
		return m, err
	}
	slog.Info("Exporter.Export: complete", "files", len(m.Files), "target", e.sink.Describe())
	return m, nil
}

// encode renders v as indented UTF-8 JSON without HTML escaping.
func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("export: encode: %w", err)
	}
	return buf.Bytes(), nil
}
